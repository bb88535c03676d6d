// Package history keeps a short in-memory trail of what a strategy did —
// feature snapshots, compose decisions, instructions, fills — and distills
// it into a digest composers can read back as recent performance context.
package history

import (
	"sync"

	"tradeengine/models"
)

const defaultLimit = 200

// Recorder is a bounded ring of HistoryRecords: once History hits its
// limit, the oldest record is dropped to make room for the newest.
type Recorder struct {
	mu      sync.Mutex
	records []models.HistoryRecord
	limit   int
}

// NewRecorder builds a Recorder holding at most limit records (defaults to
// 200 when limit <= 0).
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Recorder{limit: limit}
}

// Record appends rec, trimming from the front if the ring is full.
func (r *Recorder) Record(rec models.HistoryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if over := len(r.records) - r.limit; over > 0 {
		r.records = r.records[over:]
	}
}

// Records returns a snapshot copy of the current ring contents, oldest
// first.
func (r *Recorder) Records() []models.HistoryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.HistoryRecord, len(r.records))
	copy(out, r.records)
	return out
}
