// SPDX-License-Identifier: Apache-2.0

// Package backoff computes the wait between attempts of a retryable step.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy returns the delay before retry n (1 = first retry).
type Strategy interface {
	Delay(attempt int) time.Duration
}

type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration { return c.Interval }

// Exponential yields Base * 2^(attempt-1), capped at Max when Max > 0.
// With Jitter set the delay is drawn uniformly from [0, that value].
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	if e.Jitter {
		d = rand.Float64() * d //nolint:gosec
	}
	return time.Duration(d)
}

// Default is used by the engine when no strategy is configured.
func Default() Strategy {
	return Exponential{Base: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: true}
}

// Wait sleeps for s.Delay(attempt) or until ctx is done.
func Wait(ctx context.Context, s Strategy, attempt int) error {
	d := s.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
