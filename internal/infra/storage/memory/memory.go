package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/scrapeguard/internal/core/domain"
	"github.com/vietddude/scrapeguard/internal/infra/storage"
)

// FailureRepo is an in-process FailureRepository that keeps at most capacity records.
type FailureRepo struct {
	mu       sync.RWMutex
	records  []*domain.FailureRecord
	capacity int
}

// NewFailureRepo creates a repository; capacity <= 0 means unbounded.
func NewFailureRepo(capacity int) *FailureRepo {
	return &FailureRepo{capacity: capacity}
}

func (r *FailureRepo) Save(ctx context.Context, rec *domain.FailureRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *rec
	r.records = append(r.records, &cp)
	if r.capacity > 0 && len(r.records) > r.capacity {
		r.records = r.records[len(r.records)-r.capacity:]
	}
	return nil
}

func (r *FailureRepo) Get(ctx context.Context, id string) (*domain.FailureRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.ID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *FailureRepo) Recent(
	ctx context.Context,
	domainName string,
	limit int,
) ([]*domain.FailureRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.FailureRecord
	for _, rec := range r.records {
		if domainName != "" && rec.Domain != domainName {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *FailureRepo) CountByKind(ctx context.Context, since time.Time) (map[domain.ErrorKind]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.ErrorKind]int)
	for _, rec := range r.records {
		if rec.OccurredAt.Before(since) {
			continue
		}
		counts[rec.Kind]++
	}
	return counts, nil
}
