package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllStrategies is returned when every entry in a [Chain] fails, declines,
// or has an open breaker.
var ErrAllStrategies = errors.New("all strategies failed")

// ErrDecline signals that a strategy ran successfully but could not produce
// an acceptable classification (e.g. the model saw no face). The chain moves
// on to the next entry without counting a breaker failure.
var ErrDecline = errors.New("strategy declined")

// chainEntry pairs a strategy value with its dedicated breaker.
type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain is an ordered list of strategies of the same type, each behind its
// own [Breaker]. Strategies are tried in registration order; the first that
// yields an acceptable result wins.
//
// A strategy can fail two ways: a hard failure (panic or runtime error, which
// trips its breaker) or a decline (wrapped [ErrDecline], which does not).
// Declines model "this strategy ran fine but the answer is Unknown" — a
// heuristic further down the chain may still classify the input.
//
// Chain is safe for concurrent use after construction; AddStrategy must not
// race with Run.
type Chain[T any] struct {
	entries []chainEntry[T]
	cfg     BreakerConfig
}

// NewChain creates a [Chain] with primary as the first entry. The breaker
// config is reused for every strategy added later, with the name overridden.
func NewChain[T any](primary T, primaryName string, cfg BreakerConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.AddStrategy(primaryName, primary)
	return c
}

// AddStrategy appends a fallback strategy, tried after all earlier entries.
func (c *Chain[T]) AddStrategy(name string, value T) {
	bc := c.cfg
	bc.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(bc),
	})
}

// Len returns the number of registered strategies.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Run tries fn against each strategy in order until one returns a result
// without error. The winning strategy's name is returned alongside the
// result. A panic inside fn is recovered and counted as a hard failure of
// that strategy.
func Run[T any, R any](c *Chain[T], fn func(T) (R, error)) (result R, strategy string, err error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		entry := &c.entries[i]
		var out R
		declined := false
		execErr := entry.breaker.Execute(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("strategy %s panicked: %v", entry.name, r)
				}
			}()
			out, err = fn(entry.value)
			if errors.Is(err, ErrDecline) {
				// A decline is not a strategy fault; the breaker records a
				// success and the loop below moves on.
				declined = true
				return nil
			}
			return err
		})
		switch {
		case execErr == nil && !declined:
			return out, entry.name, nil
		case execErr == nil && declined:
			lastErr = ErrDecline
			slog.Debug("strategy declined, trying next", "strategy", entry.name)
		case errors.Is(execErr, ErrBreakerOpen):
			lastErr = execErr
			slog.Debug("skipping strategy (breaker open)", "strategy", entry.name)
		default:
			lastErr = execErr
			slog.Warn("strategy failed, trying next", "strategy", entry.name, "error", execErr)
		}
	}
	return zero, "", fmt.Errorf("%w: %v", ErrAllStrategies, lastErr)
}
