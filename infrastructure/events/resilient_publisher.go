package events

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// ErrCircuitOpen is returned while the breaker is rejecting publishes.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	// StateClosed lets every call through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets one trial call through.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "closed"
}

// CircuitBreaker opens after maxFailures consecutive failures and stays open
// for the cooldown. The first call after the cooldown is a trial: success
// closes the breaker, failure reopens it.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	maxFailures  int
	cooldown     time.Duration
	lastFailure  time.Time
	now          func() time.Time
	onTransition func(from, to BreakerState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: max(maxFailures, 1),
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Call runs fn unless the breaker is open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}

	if err := fn(); err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.transition(StateOpen)
		}
		return err
	}
	cb.failures = 0
	cb.transition(StateClosed)
	return nil
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onTransition != nil {
		cb.onTransition(from, to)
	}
}

// ResilienceConfig tunes a ResilientPublisher.
type ResilienceConfig struct {
	// Retries is the number of extra attempts for retryable failures.
	Retries int
	// BaseDelay is the first backoff; each retry doubles it, with jitter.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff, including a server-suggested one.
	MaxDelay time.Duration
	// BreakerFailures consecutive failed publishes open the breaker.
	BreakerFailures int
	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration
}

// DefaultResilienceConfig keeps retries short: publishes run on the job's
// goroutine.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Retries:         2,
		BaseDelay:       10 * time.Millisecond,
		MaxDelay:        100 * time.Millisecond,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// ResilientPublisher retries retryable publish failures with exponential
// backoff and stops calling a failing bus through a circuit breaker, so a
// dead bus costs each job one fast rejection per event.
type ResilientPublisher struct {
	next    ports.EventPublisher
	cfg     ResilienceConfig
	breaker *CircuitBreaker
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ ports.EventPublisher = (*ResilientPublisher)(nil)

// NewResilientPublisher wraps next.
func NewResilientPublisher(next ports.EventPublisher, cfg ResilienceConfig, logger *zap.Logger) (*ResilientPublisher, error) {
	if next == nil {
		return nil, fmt.Errorf("%w: publisher is required", domain.ErrInvalidConfiguration)
	}
	if cfg.Retries < 0 || cfg.BaseDelay < 0 || cfg.MaxDelay < cfg.BaseDelay {
		return nil, fmt.Errorf("%w: invalid publish retry settings", domain.ErrInvalidConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown)
	cb.onTransition = func(from, to BreakerState) {
		logger.Warn("event bus circuit breaker changed state",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return &ResilientPublisher{
		next:    next,
		cfg:     cfg,
		breaker: cb,
		logger:  logger,
		sleep:   sleepCtx,
	}, nil
}

// Publish implements ports.EventPublisher.
func (r *ResilientPublisher) Publish(ctx context.Context, ev domain.Event) error {
	return r.breaker.Call(func() error {
		return r.publishWithRetry(ctx, ev)
	})
}

func (r *ResilientPublisher) publishWithRetry(ctx context.Context, ev domain.Event) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		err := r.next.Publish(ctx, ev)
		if err == nil {
			return nil
		}
		lastErr = err

		var perr *ports.PublishError
		if !errors.As(err, &perr) || !perr.IsRetryable() || attempt == r.cfg.Retries {
			break
		}
		delay := r.delay(attempt)
		if perr.RetryAfter != nil {
			delay = min(*perr.RetryAfter, r.cfg.MaxDelay)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	if r.cfg.Retries > 0 {
		return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.Retries+1, lastErr)
	}
	return lastErr
}

// delay is the backoff before retry attempt+1: base * 2^attempt with
// jitter of plus or minus a quarter, capped at MaxDelay.
func (r *ResilientPublisher) delay(attempt int) time.Duration {
	attempt = min(max(attempt, 0), 30)
	d := r.cfg.BaseDelay << attempt
	if d <= 0 || d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Float64() * float64(d) * 0.5)
	d = d + jitter - d/4
	return min(d, r.cfg.MaxDelay)
}

// State reports the breaker state.
func (r *ResilientPublisher) State() BreakerState { return r.breaker.State() }

// Close closes the wrapped publisher.
func (r *ResilientPublisher) Close() error { return r.next.Close() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
