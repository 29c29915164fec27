package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"potholecam/internal/model"
)

// ========================================
// Test Setup Helpers
// ========================================

func newTestFrame(w, h int) *model.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 50, G: 50, B: 50, A: 255}), image.Point{}, draw.Src)
	return &model.Frame{RGBA: img}
}

type capturedRequest struct {
	Method    string
	Path      string
	ImageSize image.Point
	Fields    map[string]string
}

// newDetectorServer fakes the inference endpoint. It records the last request
// and answers with status and body.
func newDetectorServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()

	captured := &capturedRequest{Fields: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Path = r.URL.Path

		if err := r.ParseMultipartForm(10 << 20); err == nil {
			if file, _, err := r.FormFile("file"); err == nil {
				if img, err := jpeg.Decode(file); err == nil {
					captured.ImageSize = img.Bounds().Size()
				}
				file.Close()
			}
			for k, v := range r.MultipartForm.Value {
				captured.Fields[k] = v[0]
			}
		}

		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func detectionsBody(t *testing.T, detections ...model.Detection) string {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{"detections": detections})
	if err != nil {
		t.Fatalf("Failed to marshal detections: %v", err)
	}
	return string(data)
}

func defaultRequest(endpoint string) Request {
	return Request{
		Endpoint:  endpoint,
		Size:      image.Pt(320, 320),
		Threshold: 0.5,
	}
}

// ========================================
// Detect Tests
// ========================================

func TestDetect_RescalesToOriginalResolution(t *testing.T) {
	srv, _ := newDetectorServer(t, http.StatusOK, detectionsBody(t,
		model.Detection{ClassName: "pothole", Confidence: 0.9, XMin: 10, YMin: 20, XMax: 100, YMax: 200},
	))
	client := NewClient(time.Second, 0)

	result, err := client.Detect(context.Background(), newTestFrame(640, 480), defaultRequest(srv.URL))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if result.Warning != nil {
		t.Fatalf("Unexpected warning: %v", result.Warning)
	}
	if len(result.Detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(result.Detections))
	}

	got := result.Detections[0]
	if got.XMin != 20 || got.YMin != 30 || got.XMax != 200 || got.YMax != 300 {
		t.Errorf("Expected (20,30,200,300), got (%v,%v,%v,%v)", got.XMin, got.YMin, got.XMax, got.YMax)
	}
}

func TestDetect_StrictThreshold(t *testing.T) {
	var detections []model.Detection
	for _, c := range []float64{0.2, 0.5, 0.51, 0.9} {
		detections = append(detections, model.Detection{ClassName: "pothole", Confidence: c, XMin: 1, YMin: 1, XMax: 5, YMax: 5})
	}
	srv, _ := newDetectorServer(t, http.StatusOK, detectionsBody(t, detections...))
	client := NewClient(time.Second, 0)

	result, err := client.Detect(context.Background(), newTestFrame(320, 320), defaultRequest(srv.URL))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(result.Detections) != 2 {
		t.Fatalf("Expected 2 qualifying detections, got %d", len(result.Detections))
	}
	if result.Detections[0].Confidence != 0.51 || result.Detections[1].Confidence != 0.9 {
		t.Errorf("Unexpected qualifying set: %+v", result.Detections)
	}
	if !result.Qualifying {
		t.Error("Expected Qualifying to be true")
	}
}

func TestDetect_MissingDetectionsKey(t *testing.T) {
	srv, _ := newDetectorServer(t, http.StatusOK, `{"status": "ok"}`)
	client := NewClient(time.Second, 0)

	result, err := client.Detect(context.Background(), newTestFrame(100, 100), defaultRequest(srv.URL))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if result.Warning != nil {
		t.Errorf("Missing key should not warn, got %v", result.Warning)
	}
	if len(result.Detections) != 0 || result.Qualifying {
		t.Errorf("Expected no detections, got %+v", result)
	}
}

func TestDetect_SendsResizedJPEGAndFields(t *testing.T) {
	srv, captured := newDetectorServer(t, http.StatusOK, `{"detections": []}`)
	client := NewClient(time.Second, 0)

	req := defaultRequest(srv.URL + "/")
	req.Fields = LocationFields(&model.Location{Latitude: 52.5, Longitude: 13.25})

	if _, err := client.Detect(context.Background(), newTestFrame(640, 480), req); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if captured.Method != http.MethodPost {
		t.Errorf("Expected POST, got %s", captured.Method)
	}
	if captured.Path != ProcessFramePath {
		t.Errorf("Expected path %s, got %s", ProcessFramePath, captured.Path)
	}
	if captured.ImageSize != image.Pt(320, 320) {
		t.Errorf("Expected 320x320 upload, got %v", captured.ImageSize)
	}
	if captured.Fields["latitude"] != "52.500000" || captured.Fields["longitude"] != "13.250000" {
		t.Errorf("Unexpected fields: %v", captured.Fields)
	}
}

func TestDetect_DrawsQualifyingBoxes(t *testing.T) {
	srv, _ := newDetectorServer(t, http.StatusOK, detectionsBody(t,
		model.Detection{ClassName: "pothole", Confidence: 0.9, XMin: 10, YMin: 20, XMax: 100, YMax: 200},
		model.Detection{ClassName: "pothole", Confidence: 0.1, XMin: 200, YMin: 200, XMax: 300, YMax: 300},
	))
	client := NewClient(time.Second, 0)
	frame := newTestFrame(640, 480)

	if _, err := client.Detect(context.Background(), frame, defaultRequest(srv.URL)); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if got := frame.RGBAAt(100, 30); got != BoxColor {
		t.Errorf("Expected box edge at (100,30), got %v", got)
	}
	// Below-threshold box rescaled to (400,300)-(600,450) stays undrawn.
	if got := frame.RGBAAt(500, 300); got == BoxColor {
		t.Error("Sub-threshold detection was drawn")
	}
}

func TestDetect_OutOfRangeBoxIsClipped(t *testing.T) {
	srv, _ := newDetectorServer(t, http.StatusOK,
		`{"detections":[{"class_name":"pothole","confidence":0.9,"x_min":-5e8,"y_min":0,"x_max":2e9,"y_max":10}]}`)
	client := NewClient(time.Second, 0)
	frame := newTestFrame(640, 480)

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := client.Detect(context.Background(), frame, defaultRequest(srv.URL))
		done <- outcome{res, err}
	}()

	var got outcome
	select {
	case got = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Detect did not return for an out-of-range box")
	}
	if got.err != nil {
		t.Fatalf("Detect failed: %v", got.err)
	}
	if len(got.result.Detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(got.result.Detections))
	}

	// Box spans the full width and rows 0..15 after rescaling.
	if c := frame.RGBAAt(300, 0); c != BoxColor {
		t.Errorf("Expected clipped top edge at (300,0), got %v", c)
	}
	if c := frame.RGBAAt(639, 10); c != BoxColor {
		t.Errorf("Expected clipped right edge at (639,10), got %v", c)
	}
}

func TestDrawDetection_InvisibleBoxesAreSkipped(t *testing.T) {
	tests := []struct {
		name string
		d    model.Detection
	}{
		{"right of frame", model.Detection{XMin: 700, YMin: 10, XMax: 800, YMax: 20}},
		{"below frame", model.Detection{XMin: 10, YMin: 500, XMax: 20, YMax: 1e18}},
		{"negative", model.Detection{XMin: -1e18, YMin: -40, XMax: -1, YMax: -2}},
		{"NaN", model.Detection{XMin: math.NaN(), YMin: 0, XMax: 10, YMax: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := newTestFrame(640, 480)
			before := frame.Clone()

			DrawDetection(frame, tt.d)

			if !bytes.Equal(frame.Pix, before.Pix) {
				t.Error("Frame was modified by an invisible box")
			}
		})
	}
}

func TestDetect_FailuresDegradeToNoDetections(t *testing.T) {
	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	serverErr, _ := newDetectorServer(t, http.StatusInternalServerError, "model crashed")
	malformed, _ := newDetectorServer(t, http.StatusOK, "<html>not json</html>")

	tests := []struct {
		name     string
		endpoint string
		check    func(error) bool
	}{
		{"transport", closedURL, func(err error) bool { var e *TransportError; return errors.As(err, &e) }},
		{"server", serverErr.URL, func(err error) bool { var e *ServerError; return errors.As(err, &e) && e.StatusCode == 500 }},
		{"malformed", malformed.URL, func(err error) bool { var e *MalformedResponseError; return errors.As(err, &e) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(time.Second, 0)
			frame := newTestFrame(64, 48)
			before := frame.Clone()

			result, err := client.Detect(context.Background(), frame, defaultRequest(tt.endpoint))
			if err != nil {
				t.Fatalf("Detect must not return an error, got %v", err)
			}
			if !tt.check(result.Warning) {
				t.Errorf("Unexpected warning type: %T %v", result.Warning, result.Warning)
			}
			if len(result.Detections) != 0 || result.Qualifying {
				t.Errorf("Expected empty detections, got %+v", result.Detections)
			}
			if !bytes.Equal(frame.Pix, before.Pix) {
				t.Error("Frame was modified on failure")
			}
		})
	}
}

func TestDetect_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"detections": []}`))
	}))
	defer srv.Close()

	client := NewClient(50*time.Millisecond, 0)
	result, err := client.Detect(context.Background(), newTestFrame(32, 32), defaultRequest(srv.URL))
	if err != nil {
		t.Fatalf("Detect must not return an error, got %v", err)
	}

	var transportErr *TransportError
	if !errors.As(result.Warning, &transportErr) {
		t.Errorf("Expected TransportError, got %v", result.Warning)
	}
}

func TestDetect_InvalidFrame(t *testing.T) {
	client := NewClient(time.Second, 0)

	frames := map[string]*model.Frame{
		"nil":       nil,
		"no raster": {},
		"zero area": {RGBA: image.NewRGBA(image.Rect(0, 0, 0, 0))},
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := client.Detect(context.Background(), frame, defaultRequest("http://127.0.0.1:1"))
			var invalid *InvalidFrameError
			if !errors.As(err, &invalid) {
				t.Errorf("Expected InvalidFrameError, got %v", err)
			}
		})
	}
}

// ========================================
// Ping Tests
// ========================================

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr bool
	}{
		{"ping ok", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/ping" {
				w.WriteHeader(http.StatusNotFound)
			}
		}, false},
		{"root ok", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				w.WriteHeader(http.StatusNotFound)
			}
		}, false},
		{"unhealthy", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			err := NewClient(time.Second, 0).Ping(context.Background(), srv.URL)
			if (err != nil) != tt.wantErr {
				t.Errorf("Ping() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
