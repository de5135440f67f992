// Package breaker implements a per-key circuit breaker.
//
// This is a simplified two-state breaker: a key is closed while its failure
// count is below the threshold, and open once it reaches it. An open key
// becomes admissible again after the timeout has elapsed since its last
// failure. There is no separate half-open state with a bounded number of
// trial calls; a failure after the timeout simply extends the block, and a
// success clears the key.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultThreshold = 5
	DefaultTimeout   = 60 * time.Second
)

var (
	ErrInvalidThreshold = errors.New("breaker: threshold must be positive")
	ErrInvalidTimeout   = errors.New("breaker: timeout must be positive")
)

// Config holds breaker parameters.
type Config struct {
	Threshold int
	Timeout   time.Duration
}

// DefaultConfig returns the default threshold and timeout.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, Timeout: DefaultTimeout}
}

// Status is a read-only snapshot of the breaker.
type Status struct {
	Failures     map[string]int       `json:"failures"`
	LastFailures map[string]time.Time `json:"last_failures"`
	Threshold    int                  `json:"threshold"`
	Timeout      time.Duration        `json:"timeout"`
}

// Open lists keys that are currently refusing attempts.
func (s Status) Open(now time.Time) []string {
	var open []string
	for k, n := range s.Failures {
		if n >= s.Threshold && now.Sub(s.LastFailures[k]) <= s.Timeout {
			open = append(open, k)
		}
	}
	return open
}

// Breaker decides whether an attempt against a key is permitted.
type Breaker struct {
	cfg   Config
	store Store
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithStore replaces the default in-memory store.
func WithStore(s Store) Option {
	return func(b *Breaker) { b.store = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger sets the logger used for store errors.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.log = l }
}

// New validates cfg and creates a breaker.
func New(cfg Config, opts ...Option) (*Breaker, error) {
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidThreshold, cfg.Threshold)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidTimeout, cfg.Timeout)
	}

	b := &Breaker{
		cfg:   cfg,
		store: NewMemoryStore(),
		now:   time.Now,
		log:   slog.Default().With("component", "breaker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// CanAttempt reports whether key is admissible. Store errors fail open.
func (b *Breaker) CanAttempt(ctx context.Context, key string) bool {
	e, ok, err := b.store.Get(ctx, key)
	if err != nil {
		b.log.Warn("Breaker store read failed, admitting", "key", key, "error", err)
		return true
	}
	if !ok || e.Failures < b.cfg.Threshold {
		return true
	}
	return b.now().Sub(e.LastFailure) > b.cfg.Timeout
}

// RecordFailure counts one failure against key.
func (b *Breaker) RecordFailure(ctx context.Context, key string) {
	e, err := b.store.Increment(ctx, key, b.now())
	if err != nil {
		b.log.Warn("Breaker store increment failed", "key", key, "error", err)
		return
	}
	if e.Failures == b.cfg.Threshold {
		b.log.Warn("Circuit opened", "key", key, "failures", e.Failures, "timeout", b.cfg.Timeout)
	}
}

// RecordSuccess clears key.
func (b *Breaker) RecordSuccess(ctx context.Context, key string) {
	if err := b.store.Delete(ctx, key); err != nil {
		b.log.Warn("Breaker store delete failed", "key", key, "error", err)
	}
}

// Reset clears one key, or every key when key is empty.
func (b *Breaker) Reset(ctx context.Context, key string) error {
	if key == "" {
		if err := b.store.Clear(ctx); err != nil {
			return fmt.Errorf("clear breaker: %w", err)
		}
		return nil
	}
	if err := b.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("reset breaker %s: %w", key, err)
	}
	return nil
}

// Status returns a snapshot of all tracked keys.
func (b *Breaker) Status(ctx context.Context) (Status, error) {
	entries, err := b.store.Snapshot(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("snapshot breaker: %w", err)
	}

	st := Status{
		Failures:     make(map[string]int, len(entries)),
		LastFailures: make(map[string]time.Time, len(entries)),
		Threshold:    b.cfg.Threshold,
		Timeout:      b.cfg.Timeout,
	}
	for k, e := range entries {
		st.Failures[k] = e.Failures
		st.LastFailures[k] = e.LastFailure
	}
	return st, nil
}

// Config returns the breaker parameters.
func (b *Breaker) Config() Config { return b.cfg }
