package capture

import (
	"fmt"
	"sort"
	"sync"

	"github.com/funnyzak/reqplay/pkg/capture"
)

const defaultQueryLimit = 100

// Store keeps a bounded history of capture records in memory.
// When capacity is exceeded the record with the smallest start time is
// evicted. Capacity is small enough that a linear scan is fine.
type Store struct {
	mu      sync.RWMutex
	max     int
	counter uint64
	records map[string]*capture.Record
}

// NewStore creates a store with the provided capacity.
func NewStore(max int) *Store {
	if max < 1 {
		max = 1
	}
	return &Store{
		max:     max,
		records: make(map[string]*capture.Record, max),
	}
}

// NextID reserves a new capture identity.
func (s *Store) NextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return fmt.Sprintf("req_%d", s.counter)
}

// Put inserts or replaces a record, evicting the oldest entry when the
// store is full. Records are stored as-is; callers hand over ownership.
func (s *Store) Put(record *capture.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; !exists && len(s.records) >= s.max {
		s.evictOldestLocked()
	}
	s.records[record.ID] = record
}

func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldest *capture.Record
	for id, record := range s.records {
		if oldest == nil || record.StartTime.Before(oldest.StartTime) {
			oldestID = id
			oldest = record
		}
	}
	if oldestID != "" {
		delete(s.records, oldestID)
	}
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (*capture.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Query returns records matching every supplied predicate, newest first,
// truncated to the filter limit (default 100).
func (s *Store) Query(filter capture.Filter) []*capture.Record {
	s.mu.RLock()
	matched := make([]*capture.Record, 0, len(s.records))
	for _, record := range s.records {
		if filter.Matches(record) {
			matched = append(matched, record.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartTime.After(matched[j].StartTime)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Len reports the current number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Reset drops all history and adjusts capacity when max is positive.
func (s *Store) Reset(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max > 0 {
		s.max = max
	}
	s.records = make(map[string]*capture.Record, s.max)
}
