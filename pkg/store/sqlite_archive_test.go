package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	a, err := NewSQLiteArchive(filepath.Join(t.TempDir(), "nested", "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSQLiteArchive_RoundTrip(t *testing.T) {
	a := newTestArchive(t)
	a.now = fixedClock(
		time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 1, 11, 0, 0, 0, time.UTC),
	)
	ctx := context.Background()

	require.NoError(t, a.ArchiveTranscript(ctx, sampleTurns))
	require.NoError(t, a.ArchiveTranscript(ctx, sampleTurns[:1]))

	entries, err := a.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[0].Name)
	assert.Equal(t, 1, entries[0].MessageCount)
	assert.True(t, entries[0].CreatedAt.Equal(time.Date(2025, 5, 1, 11, 0, 0, 0, time.UTC)))
	assert.Equal(t, "1", entries[1].Name)
	assert.Equal(t, 2, entries[1].MessageCount)

	turns, err := a.LoadArchive(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, sampleTurns, turns)
}

func TestSQLiteArchive_NotFound(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	_, err := a.LoadArchive(ctx, "42")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = a.LoadArchive(ctx, "20250101_120000")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := a.ListArchives(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLiteArchive_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := NewSQLiteArchive(path)
	require.NoError(t, err)
	require.NoError(t, a.ArchiveTranscript(context.Background(), sampleTurns))
	require.NoError(t, a.Close())

	b, err := NewSQLiteArchive(path)
	require.NoError(t, err)
	defer b.Close()

	entries, err := b.ListArchives(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
