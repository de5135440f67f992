// Package fetch is the HTTP scrape operation wrapped by the resilience handler.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/scrapeguard/internal/core/domain"
	"github.com/vietddude/scrapeguard/internal/resilience"
	"github.com/vietddude/scrapeguard/internal/resilience/classify"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultUserAgent    = "scrapeguard/1.0"
	DefaultMaxBodyBytes = 5 << 20
)

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Config holds fetcher settings.
type Config struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	RatePerHost  float64       `yaml:"rate_per_host"`
	Burst        int           `yaml:"burst"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// Page is a successfully fetched document.
type Page struct {
	URL     string `json:"url"`
	Status  int    `json:"status"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

// Fetcher performs rate-limited GET requests.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *DomainLimiter
	log     *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// New creates a fetcher, filling unset config fields with defaults.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	f := &Fetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewDomainLimiter(cfg.RatePerHost, cfg.Burst),
		log:     slog.Default().With("component", "fetch"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Operation adapts Fetch for resilience.Handler.Wrap.
func (f *Fetcher) Operation(rawURL string) resilience.Operation {
	return func(ctx context.Context) (any, error) {
		return f.Fetch(ctx, rawURL)
	}
}

// Fetch GETs rawURL. Failures are returned as *classify.FetchError carrying
// whatever status and body were received. A 2xx page whose body looks like a
// paywall or an empty script shell is also returned as an error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		if err == nil {
			err = errors.New("unsupported url")
		}
		return nil, &classify.FetchError{URL: rawURL, Err: err}
	}

	if err := f.limiter.Wait(ctx, u.Hostname()); err != nil {
		return nil, &classify.FetchError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &classify.FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &classify.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, &classify.FetchError{URL: rawURL, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	body := string(raw)

	f.log.Debug("Fetched",
		"url", rawURL,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &classify.FetchError{
			URL:        rawURL,
			Status:     resp.StatusCode,
			Body:       body,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if c := classify.Classify(classify.Signal{Content: body}); c.Kind != domain.KindUnknown {
		return nil, &classify.FetchError{URL: rawURL, Status: resp.StatusCode, Body: body}
	}

	return &Page{
		URL:     rawURL,
		Status:  resp.StatusCode,
		Title:   extractTitle(body),
		Content: body,
	}, nil
}

func extractTitle(body string) string {
	m := titlePattern.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(m[1]))
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
