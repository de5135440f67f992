package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/scrapeguard/internal/core/domain"
)

var (
	// ErrNotFound is returned when a record doesn't exist
	ErrNotFound = errors.New("record not found")
)

// FailureRepository journals scrapes that failed after retries
type FailureRepository interface {
	// Save appends a failure record
	Save(ctx context.Context, rec *domain.FailureRecord) error

	// Get retrieves a record by ID
	Get(ctx context.Context, id string) (*domain.FailureRecord, error)

	// Recent returns the newest records first; an empty domain matches all
	Recent(ctx context.Context, domainName string, limit int) ([]*domain.FailureRecord, error)

	// CountByKind counts records per kind since the given time
	CountByKind(ctx context.Context, since time.Time) (map[domain.ErrorKind]int, error)
}
