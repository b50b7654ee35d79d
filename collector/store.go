package collector

import "sync"

// Store is the shared, identifier-keyed record set. All sweeps insert into
// it; the checkpoint loop and the final export read snapshots from it.
//
// The capacity cap is hard: the mutex covers the whole check-then-insert
// sequence, so the store never grows past its cap even under concurrent
// producers. Replacing an already-present identifier is always allowed,
// including at cap.
type Store struct {
	mu        sync.Mutex
	records   map[string]Record
	cap       int
	processed int64
}

func NewStore(capacity int) *Store {
	return &Store{
		records: make(map[string]Record),
		cap:     capacity,
	}
}

// TryInsert adds or replaces one record. It reports false when the store is
// full and the identifier is new. Every call counts as one processed record,
// accepted or not.
func (s *Store) TryInsert(rec Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed++

	if _, exists := s.records[rec.ID]; !exists && len(s.records) >= s.cap {
		return false
	}
	s.records[rec.ID] = rec
	return true
}

// MergeLocal folds a sweep's local result map into the shared store and
// returns how many records were accepted. Last writer wins per identifier.
func (s *Store) MergeLocal(local map[string]Record) int {
	accepted := 0
	for _, rec := range local {
		if s.TryInsert(rec) {
			accepted++
		}
	}
	return accepted
}

func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Processed returns the monotonically increasing count of insert attempts.
func (s *Store) Processed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

// Snapshot returns an independent copy of the current contents, safe to
// serialize while producers keep inserting.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// Preload seeds the store from a checkpoint without counting the records as
// newly processed work beyond the checkpoint's own count.
func (s *Store) Preload(records []Record, processed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if len(s.records) >= s.cap {
			break
		}
		s.records[rec.ID] = rec
	}
	s.processed = processed
}
