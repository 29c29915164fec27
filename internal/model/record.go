package model

import "time"

// DetectionRecord is a frame kept because it had at least one qualifying
// detection. Records are never mutated after they enter the detection log.
type DetectionRecord struct {
	ID         string
	SessionID  string
	Frame      *Frame
	Detections []Detection
	Timestamp  time.Time
	Location   *Location
}

// Clone deep-copies the frame, the detections and the location.
func (r DetectionRecord) Clone() DetectionRecord {
	out := r
	out.Frame = r.Frame.Clone()
	out.Detections = make([]Detection, len(r.Detections))
	copy(out.Detections, r.Detections)
	if r.Location != nil {
		loc := *r.Location
		out.Location = &loc
	}
	return out
}
