package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finfuse/internal/config"
)

func configFor(driver, dsn string) config.CacheConfig {
	return config.CacheConfig{Driver: driver, DSN: dsn}
}

func newTestSQLite(t *testing.T) (*SQLite, *time.Time) {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }
	return s, &now
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s, _ := newTestSQLite(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestSQLite_SetGet(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "MSFT")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "MSFT", []byte(`{"ticker":"MSFT"}`), time.Hour))
	v, ok, err := s.Get(ctx, "MSFT")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"ticker":"MSFT"}`, string(v))
}

func TestSQLite_Upsert(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("one"), time.Hour))
	require.NoError(t, s.Set(ctx, "k", []byte("two"), time.Hour))

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", string(v))
}

func TestSQLite_ExpiresByTime(t *testing.T) {
	s, now := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("v"), time.Hour))
	require.NoError(t, s.Set(ctx, "b", []byte("v"), 3*time.Hour))

	*now = now.Add(2 * time.Hour)
	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "b")
	assert.True(t, ok)

	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
