// Package ratelimit provides token-bucket admission control for the command
// socket, so a misbehaving client cannot flood the daemon with lifecycle
// commands.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter is a token-bucket admission gate. A single instance guards all
// commands of one daemon. The zero value is not usable; construct with [New].
// Limiter is safe for concurrent use.
type Limiter struct {
	lim     *rate.Limiter
	enabled bool
}

// New returns a Limiter sustaining perSecond admissions with the given burst
// capacity. When enabled is false every admission check succeeds without
// consuming tokens.
func New(perSecond float64, burst int, enabled bool) (*Limiter, error) {
	if perSecond <= 0 {
		return nil, fmt.Errorf("ratelimit: rate must be positive, got %v", perSecond)
	}
	if burst <= 0 {
		return nil, fmt.Errorf("ratelimit: burst must be positive, got %d", burst)
	}
	return &Limiter{
		lim:     rate.NewLimiter(rate.Limit(perSecond), burst),
		enabled: enabled,
	}, nil
}

// Allow performs a non-blocking admission check, consuming one token on
// success. The command path always uses Allow so one rejected client cannot
// stall the connection or other clients.
func (l *Limiter) Allow() bool {
	if !l.enabled {
		return true
	}
	return l.lim.Allow()
}

// Wait blocks until a token is available or ctx is done. Callers that can
// tolerate waiting for capacity use this instead of Allow.
func (l *Limiter) Wait(ctx context.Context) error {
	if !l.enabled {
		return nil
	}
	return l.lim.Wait(ctx)
}

// Enabled reports whether admission control is active.
func (l *Limiter) Enabled() bool {
	return l.enabled
}
