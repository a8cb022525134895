// Package history keeps a bounded in-memory log of recent upgrade cycles.
package history

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// History holds the most recent cycle records. The oldest record is evicted
// once the configured size is reached.
type History struct {
	cache *lru.Cache
}

// NewHistory creates a history holding at most size records.
func NewHistory(size int) (*History, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create history: %w", err)
	}
	return &History{cache: cache}, nil
}

// Record inserts or replaces the record with the same ID.
func (h *History) Record(record CycleRecord) {
	record.Commands = append([]string(nil), record.Commands...)
	h.cache.Add(record.ID, record)
}

// Get returns the record for id.
func (h *History) Get(id string) (CycleRecord, bool) {
	v, ok := h.cache.Peek(id)
	if !ok {
		return CycleRecord{}, false
	}
	return v.(CycleRecord), true
}

// Recent returns up to limit records, most recently updated first.
// A limit of zero or less returns all records.
func (h *History) Recent(limit int) []CycleRecord {
	keys := h.cache.Keys()
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}

	records := make([]CycleRecord, 0, limit)
	for i := len(keys) - 1; i >= 0 && len(records) < limit; i-- {
		if v, ok := h.cache.Peek(keys[i]); ok {
			records = append(records, v.(CycleRecord))
		}
	}
	return records
}

// Latest returns the most recently updated record.
func (h *History) Latest() (CycleRecord, bool) {
	recent := h.Recent(1)
	if len(recent) == 0 {
		return CycleRecord{}, false
	}
	return recent[0], true
}

// Len returns the number of records held.
func (h *History) Len() int {
	return h.cache.Len()
}
