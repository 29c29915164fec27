package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"potholecam/internal/model"
)

const (
	// ProcessFramePath is appended to the endpoint for detection requests.
	ProcessFramePath = "/process_frame/"
	// DefaultTimeout bounds a single detection round trip.
	DefaultTimeout = 10 * time.Second
	// DefaultJPEGQuality is used when the client is built with quality <= 0.
	DefaultJPEGQuality = 90

	maxResponseBytes = 10 << 20
	maxErrorBody     = 512
)

// DefaultSize is the transmission resolution used when a request leaves Size unset.
var DefaultSize = image.Pt(320, 320)

// Request describes one detection round trip.
type Request struct {
	Endpoint  string
	Size      image.Point       // transmission resolution; aspect ratio is not preserved
	Threshold float64           // detections must score strictly above it
	Fields    map[string]string // extra multipart fields, e.g. latitude/longitude
}

// Result is the outcome of Detect. Warning carries the per-frame failure
// (EncodingError, TransportError, ServerError, MalformedResponseError) when
// the endpoint could not be used; in that case Detections is empty and the
// frame is untouched.
type Result struct {
	Frame      *model.Frame
	Detections []model.Detection
	Qualifying bool
	Warning    error
	Latency    time.Duration
}

// Client talks to the remote pothole detector.
type Client struct {
	httpClient  *http.Client
	timeout     time.Duration
	jpegQuality int
}

// NewClient creates a client whose requests are bounded by timeout.
func NewClient(timeout time.Duration, jpegQuality int) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		timeout:     timeout,
		jpegQuality: jpegQuality,
	}
}

// Detect sends frame to the endpoint, rescales the returned boxes to the
// frame's resolution and draws the qualifying ones onto frame in place.
// Only an invalid frame is returned as an error.
func (c *Client) Detect(ctx context.Context, frame *model.Frame, req Request) (Result, error) {
	result := Result{Frame: frame, Detections: []model.Detection{}}
	if frame.Empty() {
		return result, &InvalidFrameError{Reason: "frame is nil or has no pixels"}
	}

	size := req.Size
	if size.X <= 0 || size.Y <= 0 {
		size = DefaultSize
	}

	start := time.Now()

	payload, err := EncodeJPEG(imaging.Resize(frame.RGBA, size.X, size.Y, imaging.Linear), c.jpegQuality)
	if err != nil {
		result.Warning = &EncodingError{Cause: err}
		result.Latency = time.Since(start)
		return result, nil
	}

	detections, err := c.post(ctx, req.Endpoint, payload, req.Fields)
	if err != nil {
		result.Warning = err
		result.Latency = time.Since(start)
		return result, nil
	}

	scaleX := float64(frame.Width()) / float64(size.X)
	scaleY := float64(frame.Height()) / float64(size.Y)

	for _, d := range detections {
		scaled := d.Scale(scaleX, scaleY)
		if scaled.Confidence <= req.Threshold {
			continue
		}
		DrawDetection(frame, scaled)
		result.Detections = append(result.Detections, scaled)
	}

	result.Qualifying = len(result.Detections) > 0
	result.Latency = time.Since(start)
	return result, nil
}

// post submits the JPEG and returns the raw detections in transmission coordinates.
func (c *Client) post(ctx context.Context, endpoint string, payload []byte, fields map[string]string) ([]model.Detection, error) {
	body, contentType, err := buildMultipart(payload, fields)
	if err != nil {
		return nil, &EncodingError{Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := strings.TrimRight(endpoint, "/") + ProcessFramePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Cause: err}
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Cause: err}
	}

	var parsed struct {
		Detections []model.Detection `json:"detections"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &MalformedResponseError{Cause: err}
	}
	return parsed.Detections, nil
}

func buildMultipart(payload []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", err
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// LocationFields renders a location as the latitude/longitude form fields.
func LocationFields(loc *model.Location) map[string]string {
	if loc == nil {
		return nil
	}
	return map[string]string{
		"latitude":  fmt.Sprintf("%f", loc.Latitude),
		"longitude": fmt.Sprintf("%f", loc.Longitude),
	}
}

// EncodeJPEG encodes img with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
