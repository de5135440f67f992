// Package resilience wraps scrape operations with classification, retry and
// a per-domain circuit breaker, and turns every outcome into an Envelope.
//
// # Quick Start
//
//	h, err := resilience.NewHandler()
//	if err != nil {
//	    return err
//	}
//
//	env := h.Wrap(ctx, "https://example.com/a", func(ctx context.Context) (any, error) {
//	    return fetchPage(ctx, "https://example.com/a")
//	})
//	if !env.Success {
//	    log.Printf("%s: %s", env.Error.Kind, env.Error.Message)
//	}
//
// # Package Structure
//
//   - classify/ - maps raw failure signals to an ErrorKind
//   - breaker/  - per-key circuit breaker and its stores
//   - retry/    - exponential backoff with jitter
//
// The commonly used types are re-exported at the root level.
package resilience

import (
	"github.com/vietddude/scrapeguard/internal/core/domain"
	"github.com/vietddude/scrapeguard/internal/resilience/breaker"
	"github.com/vietddude/scrapeguard/internal/resilience/classify"
)

// =============================================================================
// Re-exported types from breaker package
// =============================================================================

// Breaker decides whether an attempt against a domain is permitted.
type Breaker = breaker.Breaker

// BreakerConfig holds breaker threshold and timeout.
type BreakerConfig = breaker.Config

// BreakerStatus is a read-only snapshot of breaker state.
type BreakerStatus = breaker.Status

// BreakerStore holds per-key failure state.
type BreakerStore = breaker.Store

// KeyFunc derives the breaker key from a URL.
type KeyFunc = breaker.KeyFunc

// NewBreaker validates cfg and creates a breaker.
var NewBreaker = breaker.New

// =============================================================================
// Re-exported types from classify package
// =============================================================================

// FetchError is the failure shape an HTTP-like operation should return.
type FetchError = classify.FetchError

// ParseError marks a failure to parse fetched content.
type ParseError = classify.ParseError

// ErrParsing matches any ParseError via errors.Is.
var ErrParsing = classify.ErrParsing

// =============================================================================
// Re-exported types from domain package
// =============================================================================

// Envelope is the outcome of a wrapped operation.
type Envelope = domain.Envelope

// StructuredError is a classified scrape failure.
type StructuredError = domain.StructuredError
