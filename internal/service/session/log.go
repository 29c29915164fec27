package session

import (
	"sync"

	"potholecam/internal/model"
)

// DetectionLog is the ordered, append-only record of frames that had at
// least one qualifying detection.
type DetectionLog struct {
	mu      sync.RWMutex
	records []model.DetectionRecord
}

// NewDetectionLog creates an empty log.
func NewDetectionLog() *DetectionLog {
	return &DetectionLog{}
}

// Append stores an independent copy of record and returns the stored copy.
// Records without detections are rejected and false is returned.
func (l *DetectionLog) Append(record model.DetectionRecord) (model.DetectionRecord, bool) {
	if len(record.Detections) == 0 || record.Frame.Empty() {
		return model.DetectionRecord{}, false
	}

	stored := record.Clone()

	l.mu.Lock()
	l.records = append(l.records, stored)
	l.mu.Unlock()

	return stored, true
}

// Records returns the log oldest first. The slice is a copy; the records
// themselves are shared and must be treated as read-only.
func (l *DetectionLog) Records() []model.DetectionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.DetectionRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *DetectionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Latest returns up to n of the newest records, newest last.
func (l *DetectionLog) Latest(n int) []model.DetectionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]model.DetectionRecord, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}
