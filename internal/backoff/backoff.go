// Package backoff implements the dispatcher's validator-reattachment
// backoff policy: a truncated exponential schedule that saturates at a
// ceiling instead of giving up, wrapping cenkalti/backoff/v4 rather than
// hand-rolling the exponential math.
package backoff

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// Retries is the number of doublings the schedule is nominally
	// bounded to before it is guaranteed to have saturated at MaxWait.
	Retries = 10
	// MinWait is the first retry's sleep duration.
	MinWait = 5 * time.Second
	// MaxWait is the ceiling the schedule saturates at.
	MaxWait = 1800 * time.Second
)

// Policy produces successive backoff durations for one validator
// reattachment cycle. Unlike the underlying library's default use (stop
// retrying after N attempts or an elapsed-time budget), this policy
// never stops: once the exponential schedule would exceed MaxWait it
// is clamped there and stays there for as long as Next is called.
type Policy struct {
	bo backoff.BackOff
}

// New constructs a Policy at its initial (unattempted) state.
func New() *Policy {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = MinWait
	eb.MaxInterval = MaxWait
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0 // bounded by Retries/MaxWait below, not wall-clock elapsed time
	eb.Reset()
	return &Policy{bo: backoff.WithMaxRetries(eb, Retries)}
}

// Next returns the sleep duration for the next retry attempt. Once the
// wrapped schedule is exhausted (it has reached MaxWait and performed
// Retries attempts), Next keeps returning MaxWait rather than signaling
// the caller to give up.
func (p *Policy) Next() time.Duration {
	d := p.bo.NextBackOff()
	if d == backoff.Stop {
		return MaxWait
	}
	return d
}

// Reset returns the policy to its initial state, used whenever a
// liveness check finds the attached validator healthy.
func (p *Policy) Reset() {
	p.bo.Reset()
}
