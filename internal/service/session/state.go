package session

import (
	"time"

	"github.com/google/uuid"

	"potholecam/internal/model"
)

// Counters are the per-session frame statistics.
type Counters struct {
	FramesCaptured    uint64 `json:"frames_captured"`
	FramesProcessed   uint64 `json:"frames_processed"`
	FramesRateLimited uint64 `json:"frames_rate_limited"`
	FramesFailed      uint64 `json:"frames_failed"`
	FramesRetained    uint64 `json:"frames_retained"`
	Detections        uint64 `json:"detections"`
}

// State is the explicit state of one capture session. It is owned by the
// manager's event loop; nothing else writes to it.
type State struct {
	ID            string
	StartedAt     time.Time
	CaptureActive bool
	Endpoint      string
	Location      *model.Location
	Counters      Counters
	LastWarning   string
	LastSent      time.Time

	Log *DetectionLog
}

// NewState creates a session bound to endpoint.
func NewState(endpoint string, location *model.Location) *State {
	return &State{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Endpoint:  endpoint,
		Location:  location,
		Log:       NewDetectionLog(),
	}
}

// Snapshot is a read-only view of the state for status reporting.
type Snapshot struct {
	ID            string          `json:"session_id"`
	StartedAt     time.Time       `json:"started_at"`
	CaptureActive bool            `json:"capture_active"`
	Endpoint      string          `json:"endpoint"`
	Location      *model.Location `json:"location,omitempty"`
	Counters      Counters        `json:"counters"`
	LastWarning   string          `json:"last_warning,omitempty"`
	LogLength     int             `json:"log_length"`
}

// Snapshot copies the reportable fields.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		ID:            s.ID,
		StartedAt:     s.StartedAt,
		CaptureActive: s.CaptureActive,
		Endpoint:      s.Endpoint,
		Counters:      s.Counters,
		LastWarning:   s.LastWarning,
		LogLength:     s.Log.Len(),
	}
	if s.Location != nil {
		loc := *s.Location
		snap.Location = &loc
	}
	return snap
}

// ShouldTransmit reports whether minGap has elapsed since the previous
// transmitted frame.
func (s *State) ShouldTransmit(now time.Time, minGap time.Duration) bool {
	if s.LastSent.IsZero() || minGap <= 0 {
		return true
	}
	return now.Sub(s.LastSent) >= minGap
}

// Retain appends a qualifying frame to the log and updates the counters.
func (s *State) Retain(frame *model.Frame, detections []model.Detection, at time.Time) (model.DetectionRecord, bool) {
	record, ok := s.Log.Append(model.DetectionRecord{
		ID:         uuid.NewString(),
		SessionID:  s.ID,
		Frame:      frame,
		Detections: detections,
		Timestamp:  at,
		Location:   s.Location,
	})
	if ok {
		s.Counters.FramesRetained++
		s.Counters.Detections += uint64(len(detections))
	}
	return record, ok
}
