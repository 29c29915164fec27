package model

import "time"

// ArchivedFrame is a persisted detection record.
type ArchivedFrame struct {
	ID        int64     `json:"id"`
	RecordID  string    `json:"record_id"`
	SessionID string    `json:"session_id"`
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"filepath"`
	FileSize  int64     `json:"filesize"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
}

// ArchivedDetection is a persisted qualifying detection of an ArchivedFrame.
type ArchivedDetection struct {
	ID         int64   `json:"id"`
	FrameID    int64   `json:"frame_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	XMin       float64 `json:"x_min"`
	YMin       float64 `json:"y_min"`
	XMax       float64 `json:"x_max"`
	YMax       float64 `json:"y_max"`
}

// ArchiveFilter contains filtering options for querying archived frames.
type ArchiveFilter struct {
	SessionID  string
	ClassName  string
	DateAfter  time.Time
	DateBefore time.Time
	Limit      int
	Offset     int
}
