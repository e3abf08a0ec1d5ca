package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"pipelinewatch/internal/models"
)

const defaultMaxHistory = 2048

// ConnectivityStorage persists connectivity samples to disk.
type ConnectivityStorage struct {
	mu         sync.RWMutex
	path       string
	maxHistory int
	history    []models.ConnectivityStatus
}

// NewConnectivityStorage initialises storage and loads existing samples if present.
// Only the newest maxHistory samples are kept.
func NewConnectivityStorage(path string, maxHistory int) (*ConnectivityStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	store := &ConnectivityStorage{path: path, maxHistory: maxHistory}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Append records a sample and persists the trimmed history.
func (s *ConnectivityStorage) Append(sample models.ConnectivityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, sample)
	s.trimLocked()
	return s.persistLocked()
}

// Latest returns the newest sample if one exists.
func (s *ConnectivityStorage) Latest() (models.ConnectivityStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return models.ConnectivityStatus{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns a copy of the persisted connectivity samples.
func (s *ConnectivityStorage) History() []models.ConnectivityStatus {
	return s.HistoryN(0)
}

// HistoryN returns at most the newest n samples. n <= 0 returns everything.
func (s *ConnectivityStorage) HistoryN(n int) []models.ConnectivityStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return nil
	}
	start := 0
	if n > 0 && n < len(s.history) {
		start = len(s.history) - n
	}
	out := make([]models.ConnectivityStatus, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// HistorySince returns samples whose timestamp is >= cutoff.
func (s *ConnectivityStorage) HistorySince(cutoff time.Time) []models.ConnectivityStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := sort.Search(len(s.history), func(i int) bool {
		return !s.history[i].CheckedAt.Before(cutoff)
	})
	if idx >= len(s.history) {
		return nil
	}
	out := make([]models.ConnectivityStatus, len(s.history)-idx)
	copy(out, s.history[idx:])
	return out
}

func (s *ConnectivityStorage) trimLocked() {
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
}

func (s *ConnectivityStorage) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.history = nil
			return nil
		}
		return fmt.Errorf("read connectivity history: %w", err)
	}
	if len(data) == 0 {
		s.history = nil
		return nil
	}

	var entries []models.ConnectivityStatus
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse connectivity history: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CheckedAt.Before(entries[j].CheckedAt)
	})
	s.history = entries
	s.trimLocked()
	return nil
}

func (s *ConnectivityStorage) persistLocked() error {
	bytes, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode connectivity history: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp connectivity history: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace connectivity history file: %w", err)
	}
	return nil
}
