// Copyright 2026 Gravitational, Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tarpit implements a cancellable, bounded random delay used to
// slow down outbound traffic on simulated sessions.
package tarpit

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
)

// Delay waits for a uniformly random duration in [min, max), or until ctx is
// done, whichever comes first. It returns ctx.Err() if the context won the
// race.
func Delay(ctx context.Context, clock clockwork.Clock, min, max time.Duration) error {
	if max <= min {
		return nil
	}

	d := min + time.Duration(rand.Int63n(int64(max-min)))

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config holds the bounds used to throttle a connection's outbound bytes.
type Config struct {
	// Enabled turns the tarpit on or off for a connection.
	Enabled bool
	// Min is the lower bound of the per-write delay.
	Min time.Duration
	// Max is the upper bound of the per-write delay.
	Max time.Duration
}

// DefaultConfig matches the 500ms-5s window described for outbound traffic
// throttling.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Min:     500 * time.Millisecond,
		Max:     5 * time.Second,
	}
}

// Throttle wraps Delay, doing nothing when the tarpit is disabled.
func (c Config) Throttle(ctx context.Context, clock clockwork.Clock) error {
	if !c.Enabled {
		return nil
	}
	return Delay(ctx, clock, c.Min, c.Max)
}
