package reactor

import (
	"math/rand"
	"time"
)

// Accept backoff defaults. Accepting pauses when the process runs out of
// descriptors or memory, and the pause doubles while the condition persists.
const (
	DefaultAcceptBackoff    = 50 * time.Millisecond
	DefaultMaxAcceptBackoff = 2 * time.Second

	backoffMultiplier = 2.0
	backoffJitter     = 0.25
)

// Backoff computes exponential pause durations with jitter. It is owned by
// the reactor goroutine and not safe for concurrent use.
type Backoff struct {
	current  time.Duration
	initial  time.Duration
	max      time.Duration
	jitter   float64
	attempts int
	rng      *rand.Rand
}

// BackoffConfig customizes a Backoff. Zero fields take the defaults.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter is the maximum extra delay as a fraction of the base delay.
	// Negative disables jitter.
	Jitter float64
}

// NewBackoff creates a backoff with the given settings.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultAcceptBackoff
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = max(DefaultMaxAcceptBackoff, cfg.Initial)
	}
	switch {
	case cfg.Jitter < 0:
		cfg.Jitter = 0
	case cfg.Jitter == 0:
		cfg.Jitter = backoffJitter
	}
	return &Backoff{
		current: cfg.Initial,
		initial: cfg.Initial,
		max:     cfg.Max,
		jitter:  cfg.Jitter,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next pause (with jitter) and doubles the base delay up to
// the maximum.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	if b.jitter > 0 {
		delay += time.Duration(float64(delay) * b.jitter * b.rng.Float64())
	}
	b.attempts++
	b.current = min(time.Duration(float64(b.current)*backoffMultiplier), b.max)
	return delay
}

// Reset returns to the initial delay. Called after a successful accept.
func (b *Backoff) Reset() {
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of pauses since the last reset.
func (b *Backoff) Attempts() int { return b.attempts }

// Current returns the current base delay without jitter.
func (b *Backoff) Current() time.Duration { return b.current }
