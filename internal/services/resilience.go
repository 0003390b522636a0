package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sitephoto/server/internal/observability"
	"github.com/sony/gobreaker/v2"
)

// GuardConfig tunes the per-step circuit breakers
type GuardConfig struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

func (c GuardConfig) normalize() GuardConfig {
	if c.MinRequests == 0 {
		c.MinRequests = 10
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// BestEffortGuard runs best-effort ingestion steps behind a circuit breaker
// per step. Steps are never retried: a repeated fan-out would count the same
// photo twice.
type BestEffortGuard struct {
	cfg GuardConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewBestEffortGuard creates a guard from cfg
func NewBestEffortGuard(cfg GuardConfig) *BestEffortGuard {
	return &BestEffortGuard{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Run executes fn under the breaker for step. While the breaker is open fn
// is not called and the gobreaker state error is returned.
func (g *BestEffortGuard) Run(ctx context.Context, step string, fn func(context.Context) error) error {
	step = strings.TrimSpace(step)
	if step == "" {
		step = "unknown"
	}
	if !g.cfg.Enabled {
		return fn(ctx)
	}

	_, err := g.breaker(step).Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// State reports the breaker state of a step
func (g *BestEffortGuard) State(step string) gobreaker.State {
	return g.breaker(step).State()
}

func (g *BestEffortGuard) breaker(step string) *gobreaker.CircuitBreaker[any] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if breaker, ok := g.breakers[step]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        step,
		MaxRequests: g.cfg.HalfOpenMaxCalls,
		Timeout:     g.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < g.cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= g.cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about the backend.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			observability.WithFields(map[string]interface{}{
				"step": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("circuit breaker state change")
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	g.breakers[step] = breaker
	return breaker
}

// IsCircuitOpen reports whether err comes from a breaker refusing the call
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
