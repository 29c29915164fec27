package dto

import (
	"encoding/json"
	"time"
)

// CaptureInfo describes one archived detection frame.
type CaptureInfo struct {
	Name      string    `json:"name"`
	Date      time.Time `json:"date"`
	TimeOfDay time.Time `json:"timeOfDay"`
	SessionID string    `json:"sessionId"`
	Classes   []string  `json:"classes"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
}

// MarshalJSON formats the date and time-of-day the way the gallery expects.
func (c CaptureInfo) MarshalJSON() ([]byte, error) {
	type Alias CaptureInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      c.Date.Format("02-01-2006"),
		TimeOfDay: c.TimeOfDay.Format("15:04:05"),
		Alias:     (Alias)(c),
	})
}

// CapturesData is a paginated archive listing.
type CapturesData struct {
	Captures    []CaptureInfo `json:"captures"`
	ImagesDir   string        `json:"imagesDir"`
	Size        int64         `json:"size"`
	Length      int           `json:"length"`
	TotalPages  int           `json:"totalPages"`
	CurrentPage int           `json:"currentPage"`
	Limit       int           `json:"pageSize"`
}
