package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surgeload/internal/report"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func doc(id string, start time.Time, passed bool) *report.Document {
	d := &report.Document{
		Version:     report.FormatVersion,
		RunID:       id,
		Name:        "surge-pricing",
		BaseURL:     "http://localhost:8080",
		StartTime:   start,
		DurationSec: 1.5,
		Passed:      passed,
	}
	d.Total.Requests = 100
	d.Total.Dropped = 2
	d.Total.ErrorRate = 0.01
	d.Total.Latency.P95 = 42.5
	return d
}

func TestStore_SaveGet(t *testing.T) {
	s := newStore(t)
	start := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	require.NoError(t, s.Save(doc("run-1", start, true)))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "surge-pricing", got.Name)
	assert.True(t, got.StartTime.Equal(start))
	assert.Equal(t, int64(100), got.Total.Requests)

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	require.NoError(t, s.Save(doc("b", base.Add(time.Minute), false)))
	require.NoError(t, s.Save(doc("a", base, true)))
	require.NoError(t, s.Save(doc("c", base.Add(2*time.Minute), true)))

	entries, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{entries[0].RunID, entries[1].RunID, entries[2].RunID})

	e := entries[1]
	assert.False(t, e.Passed)
	assert.Equal(t, 1500*time.Millisecond, e.Duration)
	assert.Equal(t, int64(2), e.Dropped)
	assert.Equal(t, 42.5, e.P95Ms)

	entries, err = s.List(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStore_SaveReplacesSameRun(t *testing.T) {
	s := newStore(t)
	start := time.Now()

	require.NoError(t, s.Save(doc("run-1", start, false)))
	require.NoError(t, s.Save(doc("run-1", start.Add(time.Second), true)))

	entries, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Passed)
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(doc("run-1", time.Now(), true)))

	require.NoError(t, s.Delete("run-1"))
	assert.ErrorIs(t, s.Delete("run-1"), ErrNotFound)

	entries, err := s.List(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_RejectsMissingID(t *testing.T) {
	s := newStore(t)
	assert.Error(t, s.Save(&report.Document{}))
	assert.Error(t, s.Save(nil))
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(doc("run-1", time.Now(), true)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
}
