package history

import (
	"sync"

	"flexphone/internal/models"
)

// Recorder persists finalized call records. Append is fire-and-forget
// from the caller's point of view; a failed append is logged by the
// bridge, never propagated into the call state machine.
type Recorder interface {
	Append(record models.CallRecord) error
	// List returns the most recent records, newest first.
	List(limit int) ([]models.CallRecord, error)
	Count() int
}

// MemoryRecorder keeps call history in process memory.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records []models.CallRecord
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Append(record models.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *MemoryRecorder) List(limit int) ([]models.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}
	out := make([]models.CallRecord, 0, limit)
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}

func (r *MemoryRecorder) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
