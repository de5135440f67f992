package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/scrapeguard/internal/core/domain"
	"github.com/vietddude/scrapeguard/internal/metrics"
	"github.com/vietddude/scrapeguard/internal/resilience/breaker"
	"github.com/vietddude/scrapeguard/internal/resilience/classify"
	"github.com/vietddude/scrapeguard/internal/resilience/retry"
)

// ErrBreakerDisabled is returned by the admin entry points when the handler
// has no breaker.
var ErrBreakerDisabled = errors.New("circuit breaker disabled")

// Operation is the unit of work a Handler wraps.
type Operation func(ctx context.Context) (any, error)

// Journal receives failures that escaped retries.
type Journal interface {
	Save(ctx context.Context, rec *domain.FailureRecord) error
}

// PanicError carries a value recovered from a panicking operation.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

// Handler runs operations through the breaker and retry scheduler.
type Handler struct {
	breaker *breaker.Breaker
	keyFunc breaker.KeyFunc
	policy  retry.Policy
	journal Journal
	now     func() time.Time
	log     *slog.Logger

	breakerSet bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithBreaker sets the breaker. A nil breaker disables circuit breaking.
func WithBreaker(b *breaker.Breaker) Option {
	return func(h *Handler) {
		h.breaker = b
		h.breakerSet = true
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(h *Handler) {
		sleep, rnd := h.policy.Sleep, h.policy.Rand
		h.policy = p
		if p.Sleep == nil {
			h.policy.Sleep = sleep
		}
		if p.Rand == nil {
			h.policy.Rand = rnd
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithJournal records failures in j.
func WithJournal(j Journal) Option {
	return func(h *Handler) { h.journal = j }
}

// WithSleep overrides the backoff wait.
func WithSleep(fn retry.SleepFunc) Option {
	return func(h *Handler) { h.policy.Sleep = fn }
}

// WithRand overrides the jitter source; fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(h *Handler) { h.policy.Rand = fn }
}

// WithClock overrides time.Now for timestamps and correlation ids.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithKeyFunc selects how a URL maps to a breaker key.
func WithKeyFunc(fn breaker.KeyFunc) Option {
	return func(h *Handler) { h.keyFunc = fn }
}

// NewHandler creates a handler. Without WithBreaker it uses an in-memory
// breaker with default threshold and timeout.
func NewHandler(opts ...Option) (*Handler, error) {
	h := &Handler{
		keyFunc: breaker.HostKey,
		policy:  retry.DefaultPolicy(),
		now:     time.Now,
		log:     slog.Default().With("component", "resilience"),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.policy.MaxRetries < 0 {
		return nil, fmt.Errorf("invalid max retries: %d", h.policy.MaxRetries)
	}
	if h.policy.BaseDelay < 0 {
		return nil, fmt.Errorf("invalid base delay: %v", h.policy.BaseDelay)
	}
	if h.keyFunc == nil {
		h.keyFunc = breaker.HostKey
	}

	if !h.breakerSet {
		b, err := breaker.New(breaker.DefaultConfig(), breaker.WithClock(h.now))
		if err != nil {
			return nil, fmt.Errorf("create breaker: %w", err)
		}
		h.breaker = b
	}
	return h, nil
}

type callConfig struct {
	maxRetries int
	baseDelay  time.Duration
	useBreaker bool
	fields     []any
}

// CallOption adjusts a single Wrap call.
type CallOption func(*callConfig)

// WithMaxRetries overrides the retry count for this call.
func WithMaxRetries(n int) CallOption {
	return func(c *callConfig) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBaseDelay overrides the backoff base for this call.
func WithBaseDelay(d time.Duration) CallOption {
	return func(c *callConfig) {
		if d >= 0 {
			c.baseDelay = d
		}
	}
}

// WithoutCircuitBreaker skips admission and recording for this call.
func WithoutCircuitBreaker() CallOption {
	return func(c *callConfig) { c.useBreaker = false }
}

// WithContext adds key/value pairs to the failure log line.
func WithContext(args ...any) CallOption {
	return func(c *callConfig) { c.fields = append(c.fields, args...) }
}

// Wrap runs op for rawURL and reports the outcome as an Envelope. It never
// panics and never returns an error; failures are in the envelope.
func (h *Handler) Wrap(ctx context.Context, rawURL string, op Operation, opts ...CallOption) domain.Envelope {
	start := h.now()
	call := callConfig{
		maxRetries: h.policy.MaxRetries,
		baseDelay:  h.policy.BaseDelay,
		useBreaker: h.breaker != nil,
	}
	for _, opt := range opts {
		opt(&call)
	}

	key := h.keyFunc(rawURL)
	meta := domain.EnvelopeMetadata{
		Domain:        key,
		URL:           rawURL,
		CorrelationID: correlationID(rawURL, start),
		Timestamp:     start,
	}

	if op == nil {
		se := h.structure(errors.New("nil operation"), meta, 0)
		return h.finish(ctx, se, meta, 0, start, call)
	}

	if call.useBreaker && !h.breaker.CanAttempt(ctx, key) {
		metrics.CircuitRejectionsTotal.Inc()
		metrics.OperationsTotal.WithLabelValues(metrics.OutcomeRejected, string(domain.KindHTTPError)).Inc()
		h.log.Debug("Circuit open, skipping", "domain", key, "url", rawURL)

		se := domain.NewStructuredError(
			domain.KindHTTPError,
			fmt.Sprintf("circuit breaker open for %s", key),
			nil,
			h.errorMeta(meta, 0, 0),
		)
		meta.DurationMS = h.now().Sub(start).Milliseconds()
		return domain.Envelope{Success: false, Error: se.Object(), Metadata: meta}
	}

	policy := h.policy
	policy.MaxRetries = call.maxRetries
	policy.BaseDelay = call.baseDelay

	var last *domain.StructuredError
	result, attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (any, error) {
		v, err := invoke(ctx, op)
		if err != nil {
			metrics.AttemptsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
			last = h.structure(err, meta, attempt)
			return nil, last
		}
		metrics.AttemptsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		return v, nil
	})

	if err != nil {
		var se *domain.StructuredError
		if !errors.As(err, &se) {
			// Context ended during a backoff wait; report the attempt that failed.
			se = last
			if se == nil {
				se = h.structure(err, meta, attempts-1)
			}
		}
		return h.finish(ctx, se, meta, attempts, start, call)
	}

	if call.useBreaker {
		h.breaker.RecordSuccess(ctx, key)
	}
	metrics.OperationsTotal.WithLabelValues(metrics.OutcomeSuccess, "").Inc()
	metrics.OperationDuration.WithLabelValues(metrics.OutcomeSuccess).Observe(h.now().Sub(start).Seconds())

	meta.Attempts = attempts
	meta.DurationMS = h.now().Sub(start).Milliseconds()
	return domain.Envelope{Success: true, Data: result, Metadata: meta}
}

// finish records a failure and builds its envelope.
func (h *Handler) finish(
	ctx context.Context,
	se *domain.StructuredError,
	meta domain.EnvelopeMetadata,
	attempts int,
	start time.Time,
	call callConfig,
) domain.Envelope {
	if call.useBreaker && se.Kind().TripsBreaker() {
		// Recorded even when the caller's ctx ended during backoff.
		bctx := context.WithoutCancel(ctx)
		h.breaker.RecordFailure(bctx, meta.Domain)
		h.refreshOpenGauge(bctx)
	}

	h.logFailure(se, attempts, call.fields)
	h.record(ctx, se, attempts)

	metrics.OperationsTotal.WithLabelValues(metrics.OutcomeFailure, string(se.Kind())).Inc()
	metrics.OperationDuration.WithLabelValues(metrics.OutcomeFailure).Observe(h.now().Sub(start).Seconds())

	meta.Attempts = attempts
	meta.DurationMS = h.now().Sub(start).Milliseconds()
	return domain.Envelope{Success: false, Error: se.Object(), Metadata: meta}
}

func (h *Handler) structure(err error, meta domain.EnvelopeMetadata, attempt int) *domain.StructuredError {
	var (
		c  classify.Classification
		pe *PanicError
	)
	if errors.As(err, &pe) {
		c = classify.Classification{Kind: domain.KindUnknown, Message: fmt.Sprint(pe.Value)}
	} else {
		c = classify.Error(err)
	}

	var retryAfter time.Duration
	var fe *classify.FetchError
	if errors.As(err, &fe) && fe != nil {
		retryAfter = fe.RetryAfter
	}
	return domain.NewStructuredError(c.Kind, c.Message, err, h.errorMeta(meta, attempt, retryAfter))
}

func (h *Handler) errorMeta(meta domain.EnvelopeMetadata, attempt int, retryAfter time.Duration) domain.ErrorMetadata {
	return domain.ErrorMetadata{
		Timestamp:     h.now(),
		Domain:        meta.Domain,
		URL:           meta.URL,
		CorrelationID: meta.CorrelationID,
		Attempt:       attempt,
		RetryAfter:    retryAfter,
	}
}

func (h *Handler) logFailure(se *domain.StructuredError, attempts int, fields []any) {
	defer func() {
		if r := recover(); r != nil {
			meta := se.Metadata()
			fmt.Fprintf(os.Stderr, "scrape failed: kind=%s url=%s correlation_id=%s\n",
				se.Kind(), meta.URL, meta.CorrelationID)
		}
	}()

	meta := se.Metadata()
	args := []any{
		"kind", se.Kind(),
		"domain", meta.Domain,
		"url", meta.URL,
		"correlation_id", meta.CorrelationID,
		"attempts", attempts,
		"can_retry", se.CanRetry(),
		"error", se.Message(),
	}
	if c := se.Cause(); c != nil {
		args = append(args, "cause", c.Name)
	}
	args = append(args, fields...)
	h.log.Error("Scrape failed", args...)
}

func (h *Handler) record(ctx context.Context, se *domain.StructuredError, attempts int) {
	if h.journal == nil {
		return
	}
	rec := domain.NewFailureRecord(uuid.NewString(), se, attempts)
	defer func() {
		if r := recover(); r != nil {
			metrics.JournalErrorsTotal.Inc()
			h.log.Warn("Failure journal panicked", "url", rec.URL, "panic", r)
		}
	}()
	if err := h.journal.Save(context.WithoutCancel(ctx), rec); err != nil {
		metrics.JournalErrorsTotal.Inc()
		h.log.Warn("Failed to journal failure", "url", rec.URL, "error", err)
	}
}

func (h *Handler) refreshOpenGauge(ctx context.Context) {
	st, err := h.breaker.Status(ctx)
	if err != nil {
		return
	}
	metrics.OpenCircuits.Set(float64(len(st.Open(h.now()))))
}

// CircuitBreakerStatus returns the breaker snapshot.
func (h *Handler) CircuitBreakerStatus(ctx context.Context) (breaker.Status, error) {
	if h.breaker == nil {
		return breaker.Status{}, ErrBreakerDisabled
	}
	st, err := h.breaker.Status(ctx)
	if err != nil {
		return breaker.Status{}, err
	}
	metrics.OpenCircuits.Set(float64(len(st.Open(h.now()))))
	return st, nil
}

// ResetCircuitBreaker clears one domain, or all when domainName is empty.
// It races with in-flight calls; whichever write lands last wins.
func (h *Handler) ResetCircuitBreaker(ctx context.Context, domainName string) error {
	if h.breaker == nil {
		return ErrBreakerDisabled
	}
	if err := h.breaker.Reset(ctx, domainName); err != nil {
		return err
	}
	h.log.Info("Circuit breaker reset", "domain", domainName)
	h.refreshOpenGauge(ctx)
	return nil
}

func invoke(ctx context.Context, op Operation) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Value: r}
		}
	}()
	return op(ctx)
}

// correlationID is a SHA-1 name-based UUID over url and invocation time. It is
// not guaranteed unique for the same url within one clock tick.
func correlationID(rawURL string, at time.Time) string {
	name := rawURL + "|" + at.Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
