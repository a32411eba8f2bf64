package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultReconnectDelay = 5 * time.Second

// Backoff computes reconnect delays. With Max equal to Initial the delay is
// fixed; a larger Max grows the delay by Multiplier per failed attempt.
// Delays carry no jitter, so the first retry always waits exactly Initial.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	attempt int
	policy  *backoff.ExponentialBackOff
}

// NewBackoff builds a policy starting at initial and capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultReconnectDelay
	}
	if max < initial {
		max = initial
	}
	return &Backoff{Initial: initial, Max: max, Multiplier: 2}
}

func (b *Backoff) exponential() *backoff.ExponentialBackOff {
	if b.policy != nil {
		return b.policy
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.Initial
	policy.MaxInterval = b.Max
	policy.Multiplier = multiplier
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()

	b.policy = policy
	return policy
}

// Next returns the delay before the next attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	delay := b.exponential().NextBackOff()
	b.attempt++
	if delay == backoff.Stop || delay > b.Max {
		return b.Max
	}
	return delay
}

// Attempt reports how many delays were handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

func (b *Backoff) Reset() {
	b.attempt = 0
	if b.policy != nil {
		b.policy.Reset()
	}
}
