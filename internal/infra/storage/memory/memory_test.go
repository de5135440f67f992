package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/scrapeguard/internal/core/domain"
	"github.com/vietddude/scrapeguard/internal/infra/storage"
)

func record(id, host string, kind domain.ErrorKind, at time.Time) *domain.FailureRecord {
	return &domain.FailureRecord{
		ID:         id,
		Kind:       kind,
		Domain:     host,
		URL:        "https://" + host + "/" + id,
		OccurredAt: at,
	}
}

func TestFailureRepo_SaveGet(t *testing.T) {
	repo := NewFailureRepo(0)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Save(ctx, record("a", "x.com", domain.KindDNSError, now)))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.KindDNSError, got.Kind)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFailureRepo_RecentOrderingAndFilter(t *testing.T) {
	repo := NewFailureRepo(0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, record("1", "x.com", domain.KindTimeout, base)))
	require.NoError(t, repo.Save(ctx, record("2", "y.com", domain.KindTimeout, base.Add(time.Minute))))
	require.NoError(t, repo.Save(ctx, record("3", "x.com", domain.KindPaywall, base.Add(2*time.Minute))))

	all, err := repo.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID)
	assert.Equal(t, "1", all[2].ID)

	xs, err := repo.Recent(ctx, "x.com", 1)
	require.NoError(t, err)
	require.Len(t, xs, 1)
	assert.Equal(t, "3", xs[0].ID)
}

func TestFailureRepo_Capacity(t *testing.T) {
	repo := NewFailureRepo(2)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(ctx, record(fmt.Sprint(i), "x.com", domain.KindUnknown, now)))
	}

	all, err := repo.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = repo.Get(ctx, "0")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFailureRepo_CountByKind(t *testing.T) {
	repo := NewFailureRepo(0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, record("1", "x.com", domain.KindTimeout, base)))
	require.NoError(t, repo.Save(ctx, record("2", "x.com", domain.KindTimeout, base.Add(time.Hour))))
	require.NoError(t, repo.Save(ctx, record("3", "x.com", domain.KindDNSError, base.Add(time.Hour))))

	counts, err := repo.CountByKind(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, map[domain.ErrorKind]int{domain.KindTimeout: 1, domain.KindDNSError: 1}, counts)
}
