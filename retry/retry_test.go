package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("429"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	auth := errors.New("401 unauthorized")
	err := Policy{MaxAttempts: 5}.Do(context.Background(), func(context.Context) error {
		calls++
		return auth
	})
	assert.ErrorIs(t, err, auth)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 2}.Do(context.Background(), func(context.Context) error {
		calls++
		return Transient(errors.New("503"))
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, IsTransient(err))
}

func TestAttemptTimeoutIsTransient(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 2, AttemptTimeout: 10 * time.Millisecond}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Policy{MaxAttempts: 3, BaseDelay: time.Hour}.Do(ctx, func(context.Context) error {
		return Transient(errors.New("timeout"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
}
