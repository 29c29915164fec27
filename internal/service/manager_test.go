package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"potholecam/internal/config"
	"potholecam/internal/logger"
	"potholecam/internal/metrics"
	"potholecam/internal/model"
	"potholecam/internal/service/ai"
	"potholecam/internal/service/capture"
	"potholecam/internal/service/report"
)

// ========================================
// Fakes
// ========================================

type fakeDetector struct {
	mu      sync.Mutex
	results []ai.Result
	calls   int
	pingErr error
}

func (d *fakeDetector) Detect(ctx context.Context, frame *model.Frame, req ai.Request) (ai.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame.Empty() {
		return ai.Result{Frame: frame}, &ai.InvalidFrameError{Reason: "empty"}
	}
	res := ai.Result{Frame: frame}
	if d.calls < len(d.results) {
		res = d.results[d.calls]
		res.Frame = frame
	}
	d.calls++
	return res, nil
}

func (d *fakeDetector) Ping(ctx context.Context, endpoint string) error {
	return d.pingErr
}

func (d *fakeDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeHub struct {
	mu       sync.Mutex
	messages [][]byte
}

func (h *fakeHub) BroadcastJSON(v interface{}) bool {
	data, _ := json.Marshal(v)
	h.mu.Lock()
	h.messages = append(h.messages, data)
	h.mu.Unlock()
	return true
}

func (h *fakeHub) count(kind string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.messages {
		var head struct {
			Type string `json:"type"`
		}
		json.Unmarshal(m, &head)
		if head.Type == kind {
			n++
		}
	}
	return n
}

type fakeArchive struct {
	mu      sync.Mutex
	records []model.DetectionRecord
}

func (a *fakeArchive) Add(r model.DetectionRecord) {
	a.mu.Lock()
	a.records = append(a.records, r)
	a.mu.Unlock()
}

type fakeSource struct {
	capture.Base
	startErr error
	started  bool
}

func newFakeSource() *fakeSource {
	s := &fakeSource{}
	s.Init()
	return s
}

func (s *fakeSource) Start() error {
	s.started = true
	return s.startErr
}

func (s *fakeSource) Stop() { s.Close(nil) }

// push blocks until the manager takes the frame.
func (s *fakeSource) push(t *testing.T, frame *model.Frame) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !s.Offer(frame) {
		select {
		case <-deadline:
			t.Fatal("Manager never accepted the frame")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

// ========================================
// Helpers
// ========================================

func testConfig() *config.Config {
	return &config.Config{
		InferenceURL:        "http://detector.local",
		TransmissionWidth:   320,
		TransmissionHeight:  320,
		ConfidenceThreshold: 0.5,
		MinSendInterval:     0,
		RenderQueueSize:     1,
		JPEGQuality:         80,
	}
}

func testFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 64, 48))
}

func qualifying(n int) ai.Result {
	dets := make([]model.Detection, n)
	for i := range dets {
		dets[i] = model.Detection{ClassName: "pothole", Confidence: 0.9, XMax: 10, YMax: 10}
	}
	return ai.Result{Detections: dets, Qualifying: n > 0}
}

func runManager(t *testing.T, m *Manager) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

// ========================================
// Tests
// ========================================

func TestManager_RetainsOnlyQualifyingFrames(t *testing.T) {
	det := &fakeDetector{results: []ai.Result{qualifying(1), qualifying(0), qualifying(2), qualifying(0), qualifying(1)}}
	hub := &fakeHub{}
	archive := &fakeArchive{}
	m := NewManager(testConfig(), det, archive, hub, nil, metrics.New(), logger.Discard())
	runManager(t, m)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := m.SubmitFrame(ctx, testFrame()); err != nil {
			t.Fatalf("SubmitFrame %d failed: %v", i, err)
		}
	}

	records := m.Records()
	if len(records) != 3 {
		t.Fatalf("Expected 3 retained records, got %d", len(records))
	}
	counts := []int{1, 2, 1}
	for i, r := range records {
		if len(r.Detections) != counts[i] {
			t.Errorf("Record %d has %d detections, expected %d", i, len(r.Detections), counts[i])
		}
	}
	if len(archive.records) != 3 {
		t.Errorf("Expected 3 archived records, got %d", len(archive.records))
	}
	if hub.count("detection") != 3 {
		t.Errorf("Expected 3 detection messages, got %d", hub.count("detection"))
	}

	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Counters.FramesProcessed != 5 || snap.Counters.FramesRetained != 3 || snap.LogLength != 3 {
		t.Errorf("Unexpected counters: %+v (log %d)", snap.Counters, snap.LogLength)
	}
}

func TestManager_EndpointFailureIsTransparent(t *testing.T) {
	det := &fakeDetector{results: []ai.Result{{Warning: &ai.ServerError{StatusCode: 500}}}}
	hub := &fakeHub{}
	m := NewManager(testConfig(), det, nil, hub, nil, metrics.New(), logger.Discard())
	runManager(t, m)

	ctx := context.Background()
	res, err := m.SubmitFrame(ctx, testFrame())
	if err != nil {
		t.Fatalf("Endpoint failure should not be returned as error, got %v", err)
	}
	if res.Warning == nil || res.Retained {
		t.Errorf("Expected warning and no retention, got %+v", res)
	}

	snap, _ := m.Snapshot(ctx)
	if snap.Counters.FramesFailed != 1 || snap.LastWarning == "" {
		t.Errorf("Expected failure recorded in state, got %+v", snap)
	}
	if hub.count("status") == 0 {
		t.Error("Expected a status message carrying the warning")
	}

	// the loop keeps going after a failure
	if _, err := m.SubmitFrame(ctx, testFrame()); err != nil {
		t.Errorf("Second frame failed: %v", err)
	}
}

func TestManager_InvalidFrameReachesCaller(t *testing.T) {
	m := NewManager(testConfig(), &fakeDetector{}, nil, &fakeHub{}, nil, nil, logger.Discard())
	runManager(t, m)

	_, err := m.SubmitFrame(context.Background(), nil)
	var invalid *ai.InvalidFrameError
	if !errors.As(err, &invalid) {
		t.Fatalf("Expected InvalidFrameError, got %v", err)
	}
}

func TestManager_CaptureLoopAppliesSendInterval(t *testing.T) {
	cfg := testConfig()
	cfg.MinSendInterval = time.Second

	det := &fakeDetector{results: []ai.Result{qualifying(1), qualifying(1)}}
	src := newFakeSource()
	m := NewManager(cfg, det, nil, &fakeHub{}, func() (capture.Source, error) { return src, nil }, metrics.New(), logger.Discard())

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	runManager(t, m)

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !src.started {
		t.Fatal("Source was not started")
	}

	frame := model.NewFrame(testFrame())
	src.push(t, frame.Clone())
	src.push(t, frame.Clone())
	src.push(t, frame.Clone())

	snap, _ := m.Snapshot(ctx)
	if snap.Counters.FramesCaptured != 3 {
		t.Errorf("Expected 3 captured frames, got %d", snap.Counters.FramesCaptured)
	}
	if snap.Counters.FramesProcessed != 1 || snap.Counters.FramesRateLimited != 2 {
		t.Errorf("Expected 1 processed and 2 rate limited, got %+v", snap.Counters)
	}
	if det.Calls() != 1 {
		t.Errorf("Expected one detector call, got %d", det.Calls())
	}
}

func TestManager_StartStopToggle(t *testing.T) {
	var sources []*fakeSource
	factory := func() (capture.Source, error) {
		s := newFakeSource()
		sources = append(sources, s)
		return s, nil
	}
	m := NewManager(testConfig(), &fakeDetector{}, nil, &fakeHub{}, factory, metrics.New(), logger.Discard())
	runManager(t, m)
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if len(sources) != 1 {
		t.Errorf("Starting an active session should not open another source, got %d", len(sources))
	}

	active, err := m.Toggle(ctx)
	if err != nil || active {
		t.Errorf("Toggle should stop capture, got active=%v err=%v", active, err)
	}
	if !sources[0].Stopped() {
		t.Error("Source should be stopped")
	}

	active, err = m.Toggle(ctx)
	if err != nil || !active {
		t.Errorf("Toggle should start capture, got active=%v err=%v", active, err)
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	snap, _ := m.Snapshot(ctx)
	if snap.CaptureActive {
		t.Error("Capture should be inactive after Stop")
	}
}

func TestManager_DroppedFramesAccumulateAcrossSources(t *testing.T) {
	drops := []int{3, 2}
	opened := 0
	factory := func() (capture.Source, error) {
		s := newFakeSource()
		// nobody receives yet, so every offer is dropped
		for i := 0; i < drops[opened]; i++ {
			s.Offer(model.NewFrame(testFrame()))
		}
		opened++
		return s, nil
	}
	met := metrics.New()
	m := NewManager(testConfig(), &fakeDetector{}, nil, &fakeHub{}, factory, met, logger.Discard())
	runManager(t, m)
	ctx := context.Background()

	for i, want := range []uint64{3, 5} {
		if err := m.Start(ctx); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		if err := m.Stop(ctx); err != nil {
			t.Fatalf("Stop %d failed: %v", i, err)
		}
		if got := met.FramesDropped.Load(); got != want {
			t.Errorf("After source %d expected %d dropped frames, got %d", i, want, got)
		}
	}
}

func TestManager_StartFailure(t *testing.T) {
	factory := func() (capture.Source, error) { return nil, errors.New("no camera") }
	m := NewManager(testConfig(), &fakeDetector{}, nil, &fakeHub{}, factory, nil, logger.Discard())
	runManager(t, m)

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Expected start error")
	}
	snap, _ := m.Snapshot(context.Background())
	if snap.CaptureActive || snap.LastWarning == "" {
		t.Errorf("Expected inactive session with warning, got %+v", snap)
	}
}

func TestManager_SourceErrorStopsCapture(t *testing.T) {
	src := newFakeSource()
	m := NewManager(testConfig(), &fakeDetector{}, nil, &fakeHub{}, func() (capture.Source, error) { return src, nil }, nil, logger.Discard())
	runManager(t, m)
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.Fail(errors.New("device unplugged"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, _ := m.Snapshot(ctx)
		if !snap.CaptureActive {
			if snap.LastWarning != "device unplugged" {
				t.Errorf("Unexpected warning %q", snap.LastWarning)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("Capture still active after source error")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_SetEndpointAndLocation(t *testing.T) {
	m := NewManager(testConfig(), &fakeDetector{}, nil, &fakeHub{}, nil, nil, logger.Discard())
	runManager(t, m)
	ctx := context.Background()

	for _, bad := range []string{"", "ftp://x", "not a url", "http://"} {
		if err := m.SetEndpoint(ctx, bad); !errors.Is(err, ErrInvalidEndpoint) {
			t.Errorf("SetEndpoint(%q) = %v, expected ErrInvalidEndpoint", bad, err)
		}
	}

	if err := m.SetEndpoint(ctx, "https://api.example.com"); err != nil {
		t.Fatalf("SetEndpoint failed: %v", err)
	}

	loc := &model.Location{Latitude: 1, Longitude: 2}
	if err := m.SetLocation(ctx, loc); err != nil {
		t.Fatalf("SetLocation failed: %v", err)
	}
	loc.Latitude = 99

	snap, _ := m.Snapshot(ctx)
	if snap.Endpoint != "https://api.example.com" {
		t.Errorf("Endpoint = %q", snap.Endpoint)
	}
	if snap.Location == nil || snap.Location.Latitude != 1 {
		t.Errorf("Location should be copied, got %+v", snap.Location)
	}

	if err := m.SetLocation(ctx, nil); err != nil {
		t.Fatalf("SetLocation(nil) failed: %v", err)
	}
	snap, _ = m.Snapshot(ctx)
	if snap.Location != nil {
		t.Error("Location should be cleared")
	}
}

func TestManager_ExportReport(t *testing.T) {
	det := &fakeDetector{results: []ai.Result{qualifying(1)}}
	m := NewManager(testConfig(), det, nil, &fakeHub{}, nil, nil, logger.Discard())
	runManager(t, m)

	var buf bytes.Buffer
	if err := m.ExportReport(&buf); !errors.Is(err, report.ErrNoData) {
		t.Fatalf("Expected ErrNoData on empty log, got %v", err)
	}
	if buf.Len() != 0 {
		t.Error("Nothing should be written for an empty log")
	}

	if _, err := m.SubmitFrame(context.Background(), testFrame()); err != nil {
		t.Fatalf("SubmitFrame failed: %v", err)
	}
	if err := m.ExportReport(&buf); err != nil {
		t.Fatalf("ExportReport failed: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Error("Expected a PDF")
	}
}

func TestManager_RenderQueueKeepsLatest(t *testing.T) {
	met := metrics.New()
	m := NewManager(testConfig(), &fakeDetector{}, nil, &fakeHub{}, nil, met, logger.Discard())

	for i := 1; i <= 3; i++ {
		m.enqueueRender(renderJob{at: time.Unix(int64(i), 0)})
	}

	if met.RendersDropped.Load() != 2 {
		t.Errorf("Expected 2 dropped renders, got %d", met.RendersDropped.Load())
	}
	job := <-m.renders
	if job.at.Unix() != 3 {
		t.Errorf("Expected the latest job to survive, got %d", job.at.Unix())
	}
}

func TestManager_RendersFramesToViewers(t *testing.T) {
	hub := &fakeHub{}
	m := NewManager(testConfig(), &fakeDetector{results: []ai.Result{qualifying(1)}}, nil, hub, nil, nil, logger.Discard())
	runManager(t, m)

	if _, err := m.SubmitFrame(context.Background(), testFrame()); err != nil {
		t.Fatalf("SubmitFrame failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.count("frame") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("No frame message broadcast")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_CommandsAfterStop(t *testing.T) {
	m := NewManager(testConfig(), &fakeDetector{}, nil, &fakeHub{}, nil, nil, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if _, err := m.Snapshot(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

func TestManager_WithInferenceServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections":[
			{"class_name":"pothole","confidence":0.8,"x_min":32,"y_min":64,"x_max":160,"y_max":320},
			{"class_name":"pothole","confidence":0.3,"x_min":0,"y_min":0,"x_max":10,"y_max":10}
		]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.InferenceURL = srv.URL
	m := NewManager(cfg, ai.NewClient(time.Second, 80), nil, &fakeHub{}, nil, nil, logger.Discard())
	runManager(t, m)

	res, err := m.SubmitFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 640, 480)))
	if err != nil {
		t.Fatalf("SubmitFrame failed: %v", err)
	}
	if !res.Retained || len(res.Detections) != 1 {
		t.Fatalf("Expected one retained detection, got %+v", res.Detections)
	}
	d := res.Detections[0]
	if d.XMin != 64 || d.YMin != 96 || d.XMax != 320 || d.YMax != 480 {
		t.Errorf("Unexpected rescaled box: %+v", d)
	}
}
