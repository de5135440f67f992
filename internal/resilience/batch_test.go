package resilience

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/scrapeguard/internal/core/domain"
	"github.com/vietddude/scrapeguard/internal/resilience/classify"
)

func succeed(v any) Operation {
	return func(ctx context.Context) (any, error) { return v, nil }
}

func TestWrapBatch_MixedOutcomes(t *testing.T) {
	h, _ := newTestHandler(t)

	items := []BatchItem{
		{URL: "https://a.example/1", Operation: succeed("a")},
		{URL: "https://paywall.example/1", Operation: func(ctx context.Context) (any, error) {
			return nil, &classify.FetchError{Body: "Subscribe to continue reading"}
		}},
		{URL: "https://b.example/1", Operation: succeed("b")},
		{URL: "https://dns.example/1", Operation: func(ctx context.Context) (any, error) {
			return nil, &net.DNSError{Err: "no such host", Name: "dns.example"}
		}},
		{URL: "https://c.example/1", Operation: succeed("c")},
		{URL: "https://limited.example/1", Operation: func(ctx context.Context) (any, error) {
			return nil, &classify.FetchError{Status: 429}
		}},
		{URL: "https://d.example/1", Operation: succeed("d")},
	}

	res, err := h.WrapBatch(context.Background(), items, BatchOptions{Concurrency: 3})
	require.NoError(t, err)

	assert.Equal(t, 7, res.Summary.Total)
	assert.Equal(t, 4, res.Summary.Succeeded)
	assert.Equal(t, 3, res.Summary.Failed)
	assert.InDelta(t, 4.0/7.0, res.Summary.SuccessRate, 1e-9)
	assert.False(t, res.Success)
	assert.Len(t, res.Results, 4)
	require.Len(t, res.Errors, 3)

	kinds := map[domain.ErrorKind]bool{}
	for _, env := range res.Errors {
		kinds[env.Kind()] = true
	}
	assert.Equal(t, map[domain.ErrorKind]bool{
		domain.KindPaywall:     true,
		domain.KindDNSError:    true,
		domain.KindRateLimited: true,
	}, kinds)
}

func TestWrapBatch_Empty(t *testing.T) {
	h, _ := newTestHandler(t)

	res, err := h.WrapBatch(context.Background(), nil, BatchOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.BatchSummary{}, res.Summary)
	assert.Empty(t, res.Results)
	assert.Empty(t, res.Errors)
	assert.NotNil(t, res.Results)
	assert.NotNil(t, res.Errors)
}

func TestWrapBatch_GroupsBoundConcurrency(t *testing.T) {
	h, _ := newTestHandler(t)

	var inFlight, peak atomic.Int32
	op := func(ctx context.Context) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	}

	items := make([]BatchItem, 10)
	for i := range items {
		items[i] = BatchItem{URL: fmt.Sprintf("https://x%d.example/", i), Operation: op}
	}

	res, err := h.WrapBatch(context.Background(), items, BatchOptions{Concurrency: 3})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Summary.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.True(t, res.Success)
}

func TestWrapBatch_DefaultConcurrency(t *testing.T) {
	h, _ := newTestHandler(t)

	var inFlight, peak atomic.Int32
	op := func(ctx context.Context) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}

	items := make([]BatchItem, 12)
	for i := range items {
		items[i] = BatchItem{URL: "https://x.example/", Operation: op}
	}

	_, err := h.WrapBatch(context.Background(), items, BatchOptions{})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(DefaultConcurrency))
}

func TestWrapBatch_StopOnError(t *testing.T) {
	h, _ := newTestHandler(t)
	var calls atomic.Int32

	items := make([]BatchItem, 6)
	for i := range items {
		items[i] = BatchItem{
			URL: fmt.Sprintf("https://x%d.example/", i),
			Operation: func(ctx context.Context) (any, error) {
				calls.Add(1)
				if i == 1 {
					return nil, &classify.FetchError{Status: 404}
				}
				return "ok", nil
			},
		}
	}

	res, err := h.WrapBatch(context.Background(), items, BatchOptions{Concurrency: 2, StopOnError: true})
	assert.ErrorIs(t, err, ErrBatchAborted)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, res.Summary.Total)
	assert.Equal(t, 1, res.Summary.Failed)
	assert.False(t, res.Success)
}

func TestWrapBatch_DiscardErrors(t *testing.T) {
	h, _ := newTestHandler(t)

	items := []BatchItem{
		{URL: "https://a.example/", Operation: succeed(1)},
		{URL: "https://b.example/", Operation: func(ctx context.Context) (any, error) {
			return nil, &classify.FetchError{Status: 410}
		}},
	}

	res, err := h.WrapBatch(context.Background(), items, BatchOptions{DiscardErrors: true})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Len(t, res.Results, 1)
	assert.Equal(t, 1, res.Summary.Failed)
}

func TestWrapBatch_PerItemOptions(t *testing.T) {
	h, _ := newTestHandler(t)
	var calls atomic.Int32

	items := []BatchItem{{
		URL: "https://a.example/",
		Operation: func(ctx context.Context) (any, error) {
			calls.Add(1)
			return nil, &classify.FetchError{Status: 429}
		},
		Options: []CallOption{WithMaxRetries(0)},
	}}

	_, err := h.WrapBatch(context.Background(), items, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWrapBatch_CancelledBetweenGroups(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())

	items := []BatchItem{
		{URL: "https://a.example/", Operation: func(ctx context.Context) (any, error) {
			cancel()
			return "ok", nil
		}},
		{URL: "https://b.example/", Operation: succeed("never")},
	}

	res, err := h.WrapBatch(ctx, items, BatchOptions{Concurrency: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Summary.Total)
}
