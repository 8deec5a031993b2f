// Package socket is the bidirectional event-socket transport: clients join
// sessions, stream video frames and PCM audio in, and receive
// analysis_update broadcasts back on the same connection.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mkessel/candor/internal/bus"
	"github.com/mkessel/candor/internal/session"
	"github.com/mkessel/candor/pkg/media"
)

// Inbound event names.
const (
	eventJoinSession  = "join_session"
	eventLeaveSession = "leave_session"
	eventVideoFrame   = "video_frame"
	eventAudioData    = "audio_data"
)

// inboundMessage is the envelope every client message uses. Fields beyond
// Event are event-specific.
type inboundMessage struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`

	// Frame is a base64-encoded JPEG for video_frame; null means stop.
	Frame *string `json:"frame"`

	// Audio is float32 PCM for audio_data; null means stop.
	Audio        []float32 `json:"audio"`
	SampleRate   int       `json:"sample_rate"`
	IsStopSignal bool      `json:"is_stop_signal"`
}

// outboundMessage is the envelope every server message uses.
type outboundMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type joinAck struct {
	SessionID      string `json:"session_id"`
	AnalysisActive bool   `json:"analysis_active"`
}

type socketError struct {
	Message string `json:"message"`
}

// Server accepts websocket connections and bridges them to the session
// manager and event hub.
type Server struct {
	manager *session.Manager
	hub     *bus.Hub
	log     *slog.Logger
}

// NewServer constructs the socket server.
func NewServer(manager *session.Manager, hub *bus.Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{manager: manager, hub: hub, log: log}
}

// ServeHTTP upgrades the request and runs the connection until the client
// disconnects. On disconnect every session the client joined is stopped.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	c := &clientConn{ws: ws, subs: make(map[string]uuid.UUID)}
	defer s.teardown(c)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.log.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		s.dispatch(ctx, c, data)
	}
}

// clientConn is the per-connection state: the socket itself plus the
// session subscriptions this client holds. Writes are serialised through
// writeMu since the websocket allows one concurrent writer.
type clientConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]uuid.UUID
}

func (c *clientConn) writeJSON(ctx context.Context, msg outboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (s *Server) dispatch(ctx context.Context, c *clientConn, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(ctx, c, "malformed message: "+err.Error())
		return
	}
	if msg.SessionID == "" {
		s.sendError(ctx, c, "session_id is required")
		return
	}

	switch msg.Event {
	case eventJoinSession:
		s.handleJoin(ctx, c, msg.SessionID)
	case eventLeaveSession:
		s.handleLeave(c, msg.SessionID)
	case eventVideoFrame:
		s.handleVideoFrame(ctx, c, msg)
	case eventAudioData:
		s.handleAudioData(c, msg)
	default:
		s.sendError(ctx, c, "unknown event: "+msg.Event)
	}
}

// handleJoin subscribes the connection to the session's broadcasts and
// spawns the forwarding pump for it.
func (s *Server) handleJoin(ctx context.Context, c *clientConn, sessionID string) {
	c.mu.Lock()
	if _, joined := c.subs[sessionID]; joined {
		c.mu.Unlock()
		s.sendError(ctx, c, "already joined: "+sessionID)
		return
	}
	id, ch := s.hub.Subscribe(sessionID)
	c.subs[sessionID] = id
	c.mu.Unlock()

	go s.pump(c, ch)

	ack := outboundMessage{
		Event: "join_ack",
		Data:  joinAck{SessionID: sessionID, AnalysisActive: s.manager.Active(sessionID)},
	}
	if err := c.writeJSON(ctx, ack); err != nil {
		s.log.Debug("join ack write failed", slog.String("error", err.Error()))
	}
}

// pump forwards hub events to the connection until the subscription channel
// closes. Write failures end the pump; teardown handles the unsubscribe.
func (s *Server) pump(c *clientConn, ch <-chan bus.Event) {
	for ev := range ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.writeJSON(ctx, outboundMessage{Event: ev.Event, Data: ev.Payload})
		cancel()
		if err != nil {
			return
		}
	}
}

// handleLeave unsubscribes and stops the session.
func (s *Server) handleLeave(c *clientConn, sessionID string) {
	c.mu.Lock()
	id, joined := c.subs[sessionID]
	delete(c.subs, sessionID)
	c.mu.Unlock()

	if joined {
		s.hub.Unsubscribe(sessionID, id)
	}
	s.stopSession(sessionID)
}

func (s *Server) handleVideoFrame(ctx context.Context, c *clientConn, msg inboundMessage) {
	if msg.Frame == nil {
		s.stopSession(msg.SessionID)
		return
	}

	frame, err := media.DecodeFrame(msg.SessionID, *msg.Frame, time.Now())
	if err != nil {
		s.sendError(ctx, c, "undecodable frame: "+err.Error())
		return
	}

	// A missing session is a benign race with Stop; the frame just vanishes.
	if err := s.manager.OfferVideo(msg.SessionID, frame); err != nil &&
		!errors.Is(err, session.ErrSessionNotFound) {
		s.sendError(ctx, c, err.Error())
	}
}

func (s *Server) handleAudioData(c *clientConn, msg inboundMessage) {
	if msg.Audio == nil || msg.IsStopSignal {
		s.stopSession(msg.SessionID)
		return
	}

	chunk := media.AudioChunk{
		SessionID:  msg.SessionID,
		Samples:    msg.Audio,
		SampleRate: msg.SampleRate,
		ArrivedAt:  time.Now(),
	}
	// Silently dropped on unknown session, same as video.
	_ = s.manager.OfferAudio(msg.SessionID, chunk)
}

func (s *Server) stopSession(sessionID string) {
	if err := s.manager.Stop(sessionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		s.log.Warn("socket-triggered stop failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}

func (s *Server) sendError(ctx context.Context, c *clientConn, message string) {
	err := c.writeJSON(ctx, outboundMessage{Event: "error", Data: socketError{Message: message}})
	if err != nil {
		s.log.Debug("error write failed", slog.String("error", err.Error()))
	}
}

// teardown runs when the client disconnects: unsubscribe everything and stop
// every session this client had joined.
func (s *Server) teardown(c *clientConn) {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]uuid.UUID)
	c.mu.Unlock()

	for sessionID, id := range subs {
		s.hub.Unsubscribe(sessionID, id)
		s.stopSession(sessionID)
	}

	c.ws.Close(websocket.StatusNormalClosure, "connection closed")
}
