package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinewatch/internal/models"
)

func sampleAt(ts time.Time, ok bool) models.ConnectivityStatus {
	return models.ConnectivityStatus{Deployment: "https://svc.example", OK: ok, CheckedAt: ts}
}

func TestNewConnectivityStorageMissingFile(t *testing.T) {
	store, err := NewConnectivityStorage(filepath.Join(t.TempDir(), "nested", "history.json"), 10)
	require.NoError(t, err)

	assert.Nil(t, store.History())
	_, ok := store.Latest()
	assert.False(t, ok)
}

func TestAppendPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	store, err := NewConnectivityStorage(path, 10)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(sampleAt(base, true)))
	require.NoError(t, store.Append(sampleAt(base.Add(10*time.Second), false)))

	reloaded, err := NewConnectivityStorage(path, 10)
	require.NoError(t, err)
	history := reloaded.History()
	require.Len(t, history, 2)
	assert.True(t, history[0].OK)
	assert.False(t, history[1].OK)

	latest, ok := reloaded.Latest()
	require.True(t, ok)
	assert.Equal(t, base.Add(10*time.Second), latest.CheckedAt)

	matches, err := filepath.Glob(path + ".*.tmp")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestAppendTrimsToCapacity(t *testing.T) {
	store, err := NewConnectivityStorage(filepath.Join(t.TempDir(), "history.json"), 3)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(sampleAt(base.Add(time.Duration(i)*time.Second), true)))
	}

	history := store.History()
	require.Len(t, history, 3)
	assert.Equal(t, base.Add(2*time.Second), history[0].CheckedAt)
	assert.Len(t, store.HistoryN(2), 2)
	assert.Len(t, store.HistoryN(50), 3)
}

func TestHistorySince(t *testing.T) {
	store, err := NewConnectivityStorage(filepath.Join(t.TempDir(), "history.json"), 10)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Append(sampleAt(base.Add(time.Duration(i)*time.Minute), true)))
	}

	assert.Len(t, store.HistorySince(base.Add(2*time.Minute)), 2)
	assert.Len(t, store.HistorySince(time.Time{}), 4)
	assert.Nil(t, store.HistorySince(base.Add(time.Hour)))
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewConnectivityStorage(path, 10)
	require.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	store, err := NewConnectivityStorage(path, 10)
	require.NoError(t, err)
	assert.Nil(t, store.History())
}
