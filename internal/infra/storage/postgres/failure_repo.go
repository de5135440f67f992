package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/scrapeguard/internal/core/domain"
	"github.com/vietddude/scrapeguard/internal/infra/storage"
)

// FailureRepo implements storage.FailureRepository using PostgreSQL.
type FailureRepo struct {
	db *DB
}

// NewFailureRepo creates a new PostgreSQL failure repository.
func NewFailureRepo(db *DB) *FailureRepo {
	return &FailureRepo{db: db}
}

const failureColumns = `id, kind, message, domain, url, correlation_id, attempts, cause_name, cause_message, occurred_at`

// Save inserts a failure record.
func (r *FailureRepo) Save(ctx context.Context, rec *domain.FailureRecord) error {
	query := `
		INSERT INTO scrape_failures (` + failureColumns + `)
		VALUES (:id, :kind, :message, :domain, :url, :correlation_id, :attempts, :cause_name, :cause_message, :occurred_at)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to save failure record: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (r *FailureRepo) Get(ctx context.Context, id string) (*domain.FailureRecord, error) {
	query := `SELECT ` + failureColumns + ` FROM scrape_failures WHERE id = $1`

	var rec domain.FailureRecord
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get failure record: %w", err)
	}
	return &rec, nil
}

// Recent returns the newest records, optionally filtered by domain.
func (r *FailureRepo) Recent(
	ctx context.Context,
	domainName string,
	limit int,
) ([]*domain.FailureRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + failureColumns + `
		FROM scrape_failures
		WHERE ($1 = '' OR domain = $1)
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	var recs []*domain.FailureRecord
	if err := r.db.SelectContext(ctx, &recs, query, domainName, limit); err != nil {
		return nil, fmt.Errorf("failed to list failure records: %w", err)
	}
	return recs, nil
}

// CountByKind counts records per kind since the given time.
func (r *FailureRepo) CountByKind(ctx context.Context, since time.Time) (map[domain.ErrorKind]int, error) {
	query := `
		SELECT kind, COUNT(*) AS n
		FROM scrape_failures
		WHERE occurred_at >= $1
		GROUP BY kind
	`
	var rows []struct {
		Kind domain.ErrorKind `db:"kind"`
		N    int              `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, fmt.Errorf("failed to count failure records: %w", err)
	}

	counts := make(map[domain.ErrorKind]int, len(rows))
	for _, row := range rows {
		counts[row.Kind] = row.N
	}
	return counts, nil
}
