// Package memory provides an in-memory dedup store for tests and
// store-less development runs. Contents do not survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

// SeenStore implements monitor.SeenStore in memory.
type SeenStore struct {
	mu      sync.RWMutex
	records map[monitor.Fingerprint]monitor.SeenRecord
}

// NewSeenStore creates an empty in-memory store.
func NewSeenStore() *SeenStore {
	return &SeenStore{records: make(map[monitor.Fingerprint]monitor.SeenRecord)}
}

// FilterSeen reports which of the given fingerprints already exist.
func (s *SeenStore) FilterSeen(
	_ context.Context,
	fps []monitor.Fingerprint,
) (map[monitor.Fingerprint]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[monitor.Fingerprint]bool, len(fps))
	for _, fp := range fps {
		if _, ok := s.records[fp]; ok {
			seen[fp] = true
		}
	}
	return seen, nil
}

// MarkSeen inserts the records, keeping the first-seen metadata of any
// fingerprint already present.
func (s *SeenStore) MarkSeen(_ context.Context, records []monitor.SeenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if _, ok := s.records[rec.Fingerprint]; ok {
			continue
		}
		s.records[rec.Fingerprint] = rec
	}
	return nil
}

// Count returns the number of fingerprints in the store.
func (s *SeenStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// Close is a no-op for the in-memory store.
func (s *SeenStore) Close() {}
