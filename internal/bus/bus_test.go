package bus_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mkessel/candor/internal/bus"
)

func newHub() *bus.Hub {
	return bus.NewHub(slog.New(slog.DiscardHandler))
}

func TestHub_BroadcastReachesSessionSubscribers(t *testing.T) {
	t.Parallel()

	h := newHub()
	_, ch1 := h.Subscribe("s1")
	_, ch2 := h.Subscribe("s1")
	_, other := h.Subscribe("s2")

	if err := h.Broadcast(context.Background(), "s1", "analysis_update", "payload"); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	for i, ch := range []<-chan bus.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.SessionID != "s1" || ev.Event != "analysis_update" || ev.Payload != "payload" {
				t.Errorf("subscriber %d got %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}

	select {
	case ev := <-other:
		t.Errorf("s2 subscriber received s1 event %+v", ev)
	default:
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	h := newHub()
	id, ch := h.Subscribe("s1")

	if got := h.Subscribers("s1"); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	h.Unsubscribe("s1", id)

	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	if got := h.Subscribers("s1"); got != 0 {
		t.Errorf("subscribers = %d, want 0", got)
	}

	// Unknown ids are a no-op.
	h.Unsubscribe("s1", id)
}

func TestHub_SlowSubscriberLosesEvents(t *testing.T) {
	t.Parallel()

	h := newHub()
	_, ch := h.Subscribe("s1")

	ctx := context.Background()
	// Fill the buffer and push past it; Broadcast must never block.
	for i := 0; i < 40; i++ {
		if err := h.Broadcast(ctx, "s1", "analysis_update", i); err != nil {
			t.Fatalf("Broadcast %d: %v", i, err)
		}
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received == 0 || received >= 40 {
				t.Errorf("received = %d, want the buffered prefix only", received)
			}
			return
		}
	}
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	h := newHub()
	_, ch := h.Subscribe("s1")

	h.Close()

	if _, open := <-ch; open {
		t.Error("channel still open after Close")
	}

	// Post-close subscriptions get an already-closed channel.
	_, late := h.Subscribe("s1")
	if _, open := <-late; open {
		t.Error("post-close subscription channel not closed")
	}

	// Broadcasting into a closed hub is harmless.
	if err := h.Broadcast(context.Background(), "s1", "analysis_update", nil); err != nil {
		t.Errorf("Broadcast after Close: %v", err)
	}

	h.Close() // idempotent
}
