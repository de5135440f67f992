package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/scrapeguard/internal/core/domain"
	"github.com/vietddude/scrapeguard/internal/metrics"
)

// DefaultConcurrency is the group size when BatchOptions.Concurrency is unset.
const DefaultConcurrency = 5

// ErrBatchAborted is returned when StopOnError halts a batch after a failed group.
var ErrBatchAborted = errors.New("batch aborted after failure")

// BatchItem is one operation in a batch.
type BatchItem struct {
	URL       string
	Operation Operation
	Options   []CallOption
}

// BatchOptions controls how a batch runs.
type BatchOptions struct {
	// Concurrency is the number of items per group. Groups run one after another.
	Concurrency int
	// StopOnError stops after the first group containing a failure.
	StopOnError bool
	// DiscardErrors drops failure envelopes from the result; they are still counted.
	DiscardErrors bool
}

// BatchResult is the aggregate outcome of a batch.
type BatchResult struct {
	Success bool                `json:"success"`
	Results []domain.Envelope   `json:"results"`
	Errors  []domain.Envelope   `json:"errors"`
	Summary domain.BatchSummary `json:"summary"`
}

// WrapBatch runs items through Wrap in sequential groups of opts.Concurrency.
// Every item in a group runs concurrently and the group settles before the
// next one starts. Envelopes are appended in completion order.
func (h *Handler) WrapBatch(ctx context.Context, items []BatchItem, opts BatchOptions) (BatchResult, error) {
	size := opts.Concurrency
	if size <= 0 {
		size = DefaultConcurrency
	}

	var (
		mu        sync.Mutex
		succeeded int
		failed    int
		res       = BatchResult{Results: []domain.Envelope{}, Errors: []domain.Envelope{}}
	)

	finalize := func() BatchResult {
		res.Summary = domain.NewBatchSummary(succeeded, failed)
		res.Success = failed == 0
		return res
	}

	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			return finalize(), fmt.Errorf("batch cancelled at item %d: %w", start, err)
		}

		end := min(start+size, len(items))
		groupFailed := false

		var g errgroup.Group
		for _, item := range items[start:end] {
			g.Go(func() error {
				env := h.Wrap(ctx, item.URL, item.Operation, item.Options...)

				mu.Lock()
				defer mu.Unlock()
				if env.Success {
					succeeded++
					res.Results = append(res.Results, env)
					metrics.BatchItemsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
					return nil
				}
				failed++
				groupFailed = true
				if !opts.DiscardErrors {
					res.Errors = append(res.Errors, env)
				}
				metrics.BatchItemsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
				return nil
			})
		}
		_ = g.Wait()

		if opts.StopOnError && groupFailed {
			out := finalize()
			h.log.Warn("Batch aborted",
				"processed", out.Summary.Total,
				"remaining", len(items)-end,
				"failed", out.Summary.Failed,
			)
			return out, ErrBatchAborted
		}
	}

	out := finalize()
	h.log.Info("Batch completed",
		"total", out.Summary.Total,
		"succeeded", out.Summary.Succeeded,
		"failed", out.Summary.Failed,
	)
	return out, nil
}
