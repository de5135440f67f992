// Package classify maps raw scrape failures onto the ErrorKind taxonomy.
//
// Classification looks at three optional signals in fixed precedence:
// the response status, the error itself, then the fetched content. The
// first matching rule wins; a signal with no matching rule falls through.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/scrapeguard/internal/core/domain"
)

// Classification is the outcome of Classify.
type Classification struct {
	Kind    domain.ErrorKind
	Message string
}

// minContentLength is the size below which a non-HTML body is treated as an
// empty single-page-app shell.
const minContentLength = 100

var (
	dnsIndicators     = []string{"getaddrinfo", "enotfound", "enodata", "no such host"}
	networkIndicators = []string{"connect", "network", "econnrefused", "econnreset", "etimedout"}
	timeoutIndicators = []string{"timeout", "etimeout"}

	paywallPhrases = []string{
		"subscribe to continue",
		"subscribe to read",
		"subscription required",
		"subscribers only",
		"for subscribers",
		"premium content",
		"paywall",
		"sign in to continue reading",
		"members only",
		"already a subscriber",
	}

	jsRequiredPhrases = []string{
		"enable javascript",
		"javascript is required",
		"javascript is disabled",
		"requires javascript",
		"please enable js",
		"you need to enable javascript",
		"javascript must be enabled",
	}

	htmlMarkers = []string{"<html", "<!doctype"}
)

// Classify never panics and always returns a valid kind.
func Classify(s Signal) (c Classification) {
	defer func() {
		if r := recover(); r != nil {
			c = Classification{Kind: domain.KindUnknown, Message: fmt.Sprintf("unclassifiable error: %v", r)}
		}
	}()

	if s.Status > 0 {
		if got, ok := classifyStatus(s.Status); ok {
			return got
		}
	}

	if s.Err != nil {
		if got, ok := classifyError(s.Err); ok {
			return got
		}
	}

	if s.Content != "" {
		if got, ok := classifyContent(s.Content); ok {
			return got
		}
	}

	if s.Err != nil && s.Err.Error() != "" {
		return Classification{Kind: domain.KindUnknown, Message: s.Err.Error()}
	}
	return Classification{Kind: domain.KindUnknown, Message: "unknown error occurred"}
}

// Error is shorthand for Classify(FromError(err)).
func Error(err error) Classification {
	return Classify(FromError(err))
}

func classifyStatus(code int) (Classification, bool) {
	switch {
	case code == 429:
		return Classification{domain.KindRateLimited, "rate limited by server (429)"}, true
	case code == 403:
		return Classification{domain.KindHTTPError, "access forbidden (403)"}, true
	case code == 404:
		return Classification{domain.KindHTTPError, "page not found (404)"}, true
	case code >= 500:
		return Classification{domain.KindHTTPError, fmt.Sprintf("server error (%d)", code)}, true
	case code >= 400:
		return Classification{domain.KindHTTPError, fmt.Sprintf("client error (%d)", code)}, true
	}
	return Classification{}, false
}

func classifyError(err error) (Classification, bool) {
	var se *domain.StructuredError
	if errors.As(err, &se) {
		return Classification{se.Kind(), se.Message()}, true
	}

	if errors.Is(err, ErrParsing) {
		return Classification{domain.KindParsingError, "failed to parse content: " + err.Error()}, true
	}

	// Typed signals first, then the message/code heuristics.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Classification{domain.KindDNSError, "DNS resolution failed: " + err.Error()}, true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return Classification{domain.KindNetworkError, "network connection failed: " + err.Error()}, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{domain.KindTimeout, "request timed out"}, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{domain.KindTimeout, "request timed out: " + err.Error()}, true
	}
	if c, ok := classifyGRPC(err); ok {
		return c, true
	}

	text := messageText(err)
	if text == "" {
		return Classification{}, false
	}

	switch {
	case containsAny(text, dnsIndicators):
		return Classification{domain.KindDNSError, "DNS resolution failed: " + err.Error()}, true
	case containsAny(text, networkIndicators):
		return Classification{domain.KindNetworkError, "network connection failed: " + err.Error()}, true
	case containsAny(text, timeoutIndicators):
		return Classification{domain.KindTimeout, "request timed out: " + err.Error()}, true
	}
	return Classification{}, false
}

// messageText is the lowercased text the message heuristics scan. URLs
// never contribute: a FetchError adds only its code and cause, and a
// *url.Error only its inner error, so a host like networkworld.com does not
// classify as a network failure.
func messageText(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe == nil {
			return ""
		}
		parts := make([]string, 0, 2)
		if fe.Code != "" {
			parts = append(parts, fe.Code)
		}
		if fe.Err != nil {
			parts = append(parts, causeText(fe.Err))
		}
		return strings.ToLower(strings.Join(parts, " "))
	}

	text := strings.ToLower(causeText(err))
	var ec ErrorCoder
	if errors.As(err, &ec) {
		text += " " + strings.ToLower(ec.ErrorCode())
	}
	return text
}

func causeText(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) && ue != nil && ue.Err != nil {
		return ue.Err.Error()
	}
	return err.Error()
}

func classifyGRPC(err error) (Classification, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return Classification{}, false
	}
	switch st.Code() {
	case codes.Unavailable:
		return Classification{domain.KindNetworkError, "upstream unavailable: " + st.Message()}, true
	case codes.DeadlineExceeded:
		return Classification{domain.KindTimeout, "request timed out: " + st.Message()}, true
	case codes.ResourceExhausted:
		return Classification{domain.KindRateLimited, "rate limited: " + st.Message()}, true
	}
	return Classification{}, false
}

func classifyContent(content string) (Classification, bool) {
	lower := strings.ToLower(content)

	if containsAny(lower, paywallPhrases) {
		return Classification{domain.KindPaywall, "content is behind a paywall"}, true
	}
	if containsAny(lower, jsRequiredPhrases) {
		return Classification{domain.KindJavaScriptRequired, "page requires JavaScript to render"}, true
	}
	if len(content) < minContentLength && !containsAny(lower, htmlMarkers) {
		return Classification{domain.KindJavaScriptRequired, "page content too short, likely requires JavaScript"}, true
	}
	return Classification{}, false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
