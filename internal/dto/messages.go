package dto

import (
	"time"

	"potholecam/internal/model"
)

// Websocket message types sent to viewers.
const (
	TypeFrame     = "frame"
	TypeStatus    = "status"
	TypeDetection = "detection"
)

// Viewer control actions.
const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionToggle = "toggle"
	ActionStatus = "status"
)

// FrameMessage carries the latest rendered frame as base64 JPEG.
type FrameMessage struct {
	Type       string            `json:"type"`
	Image      string            `json:"image"`
	Annotated  bool              `json:"annotated"`
	Detections []model.Detection `json:"detections,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// StatusMessage reports session state and the most recent warning.
type StatusMessage struct {
	Type    string      `json:"type"`
	Session interface{} `json:"session"`
	Warning string      `json:"warning,omitempty"`
}

// DetectionMessage announces a newly retained record.
type DetectionMessage struct {
	Type      string          `json:"type"`
	RecordID  string          `json:"recordId"`
	Count     int             `json:"count"`
	Timestamp time.Time       `json:"timestamp"`
	Location  *model.Location `json:"location,omitempty"`
}

// ControlMessage is sent by viewers to drive the capture session.
type ControlMessage struct {
	Action string `json:"action"`
}

// LocationRequest sets or clears the session geolocation.
type LocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// EndpointRequest changes the inference endpoint.
type EndpointRequest struct {
	Endpoint string `json:"endpoint"`
}

// UploadResponse is returned for a single processed image.
type UploadResponse struct {
	Detections []model.Detection `json:"detections"`
	Qualifying bool              `json:"qualifying"`
	Retained   bool              `json:"retained"`
	RecordID   string            `json:"recordId,omitempty"`
	Warning    string            `json:"warning,omitempty"`
	Image      string            `json:"image"`
}

// ErrorResponse is the JSON body of API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RecentDetection is a retained frame of the running session.
type RecentDetection struct {
	RecordID  string          `json:"recordId"`
	Count     int             `json:"count"`
	Timestamp time.Time       `json:"timestamp"`
	Location  *model.Location `json:"location,omitempty"`
	Caption   string          `json:"caption"`
	Image     string          `json:"image"`
}
