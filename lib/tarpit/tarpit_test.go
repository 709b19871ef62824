package tarpit

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestDelayRespectsContextCancellation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Delay(ctx, clock, time.Second, 2*time.Second)
	}()

	clock.BlockUntil(1)
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
}

func TestDelayFiresWithinBounds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- Delay(ctx, clock, time.Second, time.Second+time.Nanosecond)
	}()

	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	require.NoError(t, <-done)
}

func TestConfigThrottleDisabled(t *testing.T) {
	cfg := Config{Enabled: false}
	err := cfg.Throttle(context.Background(), clockwork.NewFakeClock())
	require.NoError(t, err)
}
