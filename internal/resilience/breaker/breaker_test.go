package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(t *testing.T) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b, err := New(Config{Threshold: 3, Timeout: time.Minute}, WithClock(clock.Now))
	require.NoError(t, err)
	return b, clock
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Threshold: 0, Timeout: time.Second})
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = New(Config{Threshold: 1, Timeout: 0})
	assert.ErrorIs(t, err, ErrInvalidTimeout)

	b, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 5, b.Config().Threshold)
	assert.Equal(t, 60*time.Second, b.Config().Timeout)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b.RecordFailure(ctx, "x.com")
		assert.True(t, b.CanAttempt(ctx, "x.com"), "below threshold after %d failures", i+1)
	}

	b.RecordFailure(ctx, "x.com")
	assert.False(t, b.CanAttempt(ctx, "x.com"))

	// Other keys are unaffected.
	assert.True(t, b.CanAttempt(ctx, "y.com"))
}

func TestBreaker_ReopensAfterTimeout(t *testing.T) {
	b, clock := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx, "x.com")
	}

	clock.Advance(59 * time.Second)
	assert.False(t, b.CanAttempt(ctx, "x.com"))

	clock.Advance(2 * time.Second)
	assert.True(t, b.CanAttempt(ctx, "x.com"))

	// A failure after the timeout extends the block.
	b.RecordFailure(ctx, "x.com")
	assert.False(t, b.CanAttempt(ctx, "x.com"))
}

func TestBreaker_SuccessClears(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx, "x.com")
	}
	b.RecordSuccess(ctx, "x.com")

	assert.True(t, b.CanAttempt(ctx, "x.com"))
	st, err := b.Status(ctx)
	require.NoError(t, err)
	assert.NotContains(t, st.Failures, "x.com")
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx, "x.com")
		b.RecordFailure(ctx, "y.com")
	}

	require.NoError(t, b.Reset(ctx, "x.com"))
	assert.True(t, b.CanAttempt(ctx, "x.com"))
	assert.False(t, b.CanAttempt(ctx, "y.com"))

	st, err := b.Status(ctx)
	require.NoError(t, err)
	_, ok := st.Failures["x.com"]
	assert.False(t, ok)
	assert.Equal(t, 3, st.Failures["y.com"])

	require.NoError(t, b.Reset(ctx, ""))
	st, err = b.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Failures)
}

func TestBreaker_Status(t *testing.T) {
	b, clock := newTestBreaker(t)
	ctx := context.Background()

	b.RecordFailure(ctx, "x.com")
	st, err := b.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, st.Failures["x.com"])
	assert.Equal(t, clock.Now(), st.LastFailures["x.com"])
	assert.Equal(t, 3, st.Threshold)
	assert.Equal(t, time.Minute, st.Timeout)
	assert.Empty(t, st.Open(clock.Now()))

	b.RecordFailure(ctx, "x.com")
	b.RecordFailure(ctx, "x.com")
	st, err = b.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.com"}, st.Open(clock.Now()))
}

func TestBreaker_ConcurrentFailures(t *testing.T) {
	b, err := New(Config{Threshold: 1000, Timeout: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure(ctx, "x.com")
			_ = b.CanAttempt(ctx, "x.com")
		}()
	}
	wg.Wait()

	st, err := b.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, st.Failures["x.com"])
}

type failingStore struct{ *MemoryStore }

func (failingStore) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errors.New("store down")
}

func TestBreaker_StoreErrorFailsOpen(t *testing.T) {
	b, err := New(Config{Threshold: 1, Timeout: time.Minute}, WithStore(failingStore{NewMemoryStore()}))
	require.NoError(t, err)
	assert.True(t, b.CanAttempt(context.Background(), "x.com"))
}

func TestKeyFuncs(t *testing.T) {
	tests := []struct {
		url  string
		host string
		site string
	}{
		{"https://x.com/a", "x.com", "x.com"},
		{"https://News.Example.co.uk/story", "news.example.co.uk", "example.co.uk"},
		{"http://127.0.0.1:8080/x", "127.0.0.1", "127.0.0.1"},
		{"not a url", UnknownDomain, UnknownDomain},
		{"://broken", UnknownDomain, UnknownDomain},
		{"", UnknownDomain, UnknownDomain},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.host, HostKey(tt.url), "HostKey(%q)", tt.url)
		assert.Equal(t, tt.site, SiteKey(tt.url), "SiteKey(%q)", tt.url)
	}

	_, ok := KeyFuncByName("site")
	assert.True(t, ok)
	_, ok = KeyFuncByName("bogus")
	assert.False(t, ok)
}
