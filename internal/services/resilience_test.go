package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

func TestBestEffortGuard(t *testing.T) {
	ctx := context.Background()
	errBackend := errors.New("backend down")

	t.Run("disabled guard just runs the step", func(t *testing.T) {
		guard := NewBestEffortGuard(GuardConfig{Enabled: false})

		calls := 0
		for i := 0; i < 20; i++ {
			_ = guard.Run(ctx, "projection", func(context.Context) error {
				calls++
				return errBackend
			})
		}
		assert.Equal(t, 20, calls)
	})

	t.Run("never retries a failed step", func(t *testing.T) {
		guard := NewBestEffortGuard(GuardConfig{Enabled: true})

		calls := 0
		err := guard.Run(ctx, "notification", func(context.Context) error {
			calls++
			return errBackend
		})
		assert.ErrorIs(t, err, errBackend)
		assert.Equal(t, 1, calls)
	})

	t.Run("opens after repeated failures and skips the step", func(t *testing.T) {
		guard := NewBestEffortGuard(GuardConfig{
			Enabled:      true,
			MinRequests:  2,
			FailureRatio: 0.5,
			OpenTimeout:  time.Minute,
		})

		for i := 0; i < 2; i++ {
			_ = guard.Run(ctx, "projection", func(context.Context) error { return errBackend })
		}
		assert.Equal(t, gobreaker.StateOpen, guard.State("projection"))

		called := false
		err := guard.Run(ctx, "projection", func(context.Context) error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.True(t, IsCircuitOpen(err))

		assert.Equal(t, gobreaker.StateClosed, guard.State("notification"))
	})

	t.Run("cancelled calls do not trip the breaker", func(t *testing.T) {
		guard := NewBestEffortGuard(GuardConfig{Enabled: true, MinRequests: 1, FailureRatio: 0.1})

		_ = guard.Run(ctx, "projection", func(context.Context) error { return context.Canceled })
		assert.Equal(t, gobreaker.StateClosed, guard.State("projection"))
	})
}
