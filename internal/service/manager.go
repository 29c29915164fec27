package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/url"
	"time"

	"potholecam/internal/config"
	"potholecam/internal/dto"
	"potholecam/internal/logger"
	"potholecam/internal/metrics"
	"potholecam/internal/model"
	"potholecam/internal/service/ai"
	"potholecam/internal/service/capture"
	"potholecam/internal/service/report"
	"potholecam/internal/service/session"
)

var (
	// ErrStopped is returned for commands sent after the event loop exited.
	ErrStopped = errors.New("manager stopped")
	// ErrInvalidEndpoint is returned for endpoints that are not http(s) URLs.
	ErrInvalidEndpoint = errors.New("invalid inference endpoint")
)

// Detector runs one inference round trip.
type Detector interface {
	Detect(ctx context.Context, frame *model.Frame, req ai.Request) (ai.Result, error)
	Ping(ctx context.Context, endpoint string) error
}

// Archiver persists retained records.
type Archiver interface {
	Add(record model.DetectionRecord)
}

// Broadcaster delivers messages to viewers.
type Broadcaster interface {
	BroadcastJSON(v interface{}) bool
}

// SourceFactory opens the configured capture source.
type SourceFactory func() (capture.Source, error)

// UploadResult is the outcome of a single submitted frame.
type UploadResult struct {
	ai.Result
	Record   model.DetectionRecord
	Retained bool
}

type renderJob struct {
	frame      *model.Frame
	detections []model.Detection
	annotated  bool
	at         time.Time
}

// Manager owns the session state. All state changes happen on the Run
// goroutine: commands and captured frames are handled one at a time, so at
// most one inference request is in flight.
type Manager struct {
	cfg       *config.Config
	detector  Detector
	archive   Archiver
	hub       Broadcaster
	metrics   *metrics.Metrics
	logger    *logger.Logger
	newSource SourceFactory
	reports   *report.Generator

	state    *session.State
	source   capture.Source
	commands chan func(ctx context.Context)
	renders  chan renderJob
	stopped  chan struct{}
	now      func() time.Time

	// drops of the current source already added to the metric
	sourceDropped uint64
}

// NewManager creates a manager. archive may be nil; m may be nil.
func NewManager(cfg *config.Config, detector Detector, archive Archiver, hub Broadcaster,
	newSource SourceFactory, m *metrics.Metrics, logger *logger.Logger) *Manager {
	if m == nil {
		m = metrics.New()
	}
	queue := cfg.RenderQueueSize
	if queue <= 0 {
		queue = 1
	}

	var location *model.Location
	if cfg.HasLocation {
		location = &model.Location{Latitude: cfg.Latitude, Longitude: cfg.Longitude}
	}

	return &Manager{
		cfg:       cfg,
		detector:  detector,
		archive:   archive,
		hub:       hub,
		metrics:   m,
		logger:    logger,
		newSource: newSource,
		reports:   report.NewGenerator(cfg.JPEGQuality),
		state:     session.NewState(cfg.InferenceURL, location),
		commands:  make(chan func(ctx context.Context)),
		renders:   make(chan renderJob, queue),
		stopped:   make(chan struct{}),
		now:       time.Now,
	}
}

// Run processes commands and frames until ctx is cancelled. Capture is
// stopped on exit.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.stopped)

	go m.renderLoop(ctx)

	m.logger.Info("🎬 Manager started - session %s, endpoint %s, min send interval %v",
		m.state.ID, m.state.Endpoint, m.cfg.MinSendInterval)

	for {
		var (
			frames <-chan *model.Frame
			errs   <-chan error
		)
		if m.source != nil {
			frames = m.source.FrameChan()
			errs = m.source.ErrorChan()
		}

		select {
		case <-ctx.Done():
			m.stopCapture()
			m.logger.Info("🛑 Manager stopped")
			return ctx.Err()

		case cmd := <-m.commands:
			cmd(ctx)

		case frame, ok := <-frames:
			if !ok {
				m.stopCapture()
				m.publishStatus()
				continue
			}
			m.handleFrame(ctx, frame)

		case err := <-errs:
			if errors.Is(err, capture.ErrExhausted) {
				m.logger.Info("Capture source finished")
			} else {
				m.logger.Error("Capture source failed: %v", err)
				m.state.LastWarning = err.Error()
			}
			m.stopCapture()
			m.publishStatus()
		}
	}
}

// do runs fn on the event loop and waits for it to finish.
func (m *Manager) do(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	cmd := func(loopCtx context.Context) {
		defer close(done)
		fn(loopCtx)
	}

	select {
	case m.commands <- cmd:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins capturing. Starting an active session is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	var startErr error
	if err := m.do(ctx, func(context.Context) { startErr = m.startCapture() }); err != nil {
		return err
	}
	return startErr
}

// Stop ends capturing. An in-flight request completes first.
func (m *Manager) Stop(ctx context.Context) error {
	return m.do(ctx, func(context.Context) {
		m.stopCapture()
		m.publishStatus()
	})
}

// Toggle starts or stops capture and returns the new state.
func (m *Manager) Toggle(ctx context.Context) (bool, error) {
	var (
		active   bool
		startErr error
	)
	err := m.do(ctx, func(context.Context) {
		if m.state.CaptureActive {
			m.stopCapture()
			m.publishStatus()
		} else {
			startErr = m.startCapture()
		}
		active = m.state.CaptureActive
	})
	if err != nil {
		return false, err
	}
	return active, startErr
}

// SetEndpoint changes the inference endpoint for subsequent frames.
func (m *Manager) SetEndpoint(ctx context.Context, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	return m.do(ctx, func(context.Context) {
		m.state.Endpoint = endpoint
		m.logger.Info("Inference endpoint set to %s", endpoint)
		m.publishStatus()
	})
}

// SetLocation sets the geolocation attached to subsequent records. nil clears it.
func (m *Manager) SetLocation(ctx context.Context, location *model.Location) error {
	return m.do(ctx, func(context.Context) {
		if location != nil {
			loc := *location
			location = &loc
		}
		m.state.Location = location
		m.publishStatus()
	})
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot
	err := m.do(ctx, func(context.Context) { snap = m.state.Snapshot() })
	return snap, err
}

// PublishStatus broadcasts the session state to viewers.
func (m *Manager) PublishStatus(ctx context.Context) error {
	return m.do(ctx, func(context.Context) { m.publishStatus() })
}

// Records returns the detection log oldest first.
func (m *Manager) Records() []model.DetectionRecord {
	return m.state.Log.Records()
}

// ExportReport writes the detection log as a PDF to w. It returns
// report.ErrNoData when nothing has been retained.
func (m *Manager) ExportReport(w io.Writer) error {
	return m.reports.Write(w, m.state.Log.Records())
}

// LatestRecords returns up to n of the newest records, newest last.
func (m *Manager) LatestRecords(n int) []model.DetectionRecord {
	return m.state.Log.Latest(n)
}

// PingEndpoint checks that the current inference endpoint answers.
func (m *Manager) PingEndpoint(ctx context.Context) (string, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return snap.Endpoint, m.detector.Ping(ctx, snap.Endpoint)
}

// SubmitFrame runs one uploaded image through the detector, bypassing the
// send interval. Only an invalid frame is returned as an error.
func (m *Manager) SubmitFrame(ctx context.Context, img image.Image) (UploadResult, error) {
	var (
		result    UploadResult
		detectErr error
	)
	frame := model.NewFrame(img)
	err := m.do(ctx, func(context.Context) {
		m.state.Counters.FramesCaptured++
		m.metrics.FramesCaptured.Add(1)
		result, detectErr = m.process(ctx, frame)
	})
	if err != nil {
		return UploadResult{}, err
	}
	return result, detectErr
}

func (m *Manager) startCapture() error {
	if m.state.CaptureActive {
		return nil
	}
	if m.newSource == nil {
		return errors.New("no capture source configured")
	}

	src, err := m.newSource()
	if err != nil {
		m.state.LastWarning = err.Error()
		m.publishStatus()
		return fmt.Errorf("opening capture source: %w", err)
	}
	if err := src.Start(); err != nil {
		m.state.LastWarning = err.Error()
		m.publishStatus()
		return fmt.Errorf("starting capture source: %w", err)
	}

	m.source = src
	m.sourceDropped = 0
	m.state.CaptureActive = true
	m.state.LastWarning = ""
	m.metrics.SetCaptureActive(true)
	m.logger.Info("📹 Capture started")
	m.publishStatus()
	return nil
}

func (m *Manager) stopCapture() {
	if m.source != nil {
		m.source.Stop()
		m.syncDropped()
		m.source = nil
	}
	if m.state.CaptureActive {
		m.state.CaptureActive = false
		m.metrics.SetCaptureActive(false)
		m.logger.Info("Capture stopped")
	}
}

// syncDropped adds the drops counted by the current source since the last call.
func (m *Manager) syncDropped() {
	if m.source == nil {
		return
	}
	n := m.source.Dropped()
	if n > m.sourceDropped {
		m.metrics.FramesDropped.Add(n - m.sourceDropped)
		m.sourceDropped = n
	}
}

func (m *Manager) handleFrame(ctx context.Context, frame *model.Frame) {
	now := m.now()

	m.state.Counters.FramesCaptured++
	m.metrics.FramesCaptured.Add(1)
	m.syncDropped()

	if !m.state.ShouldTransmit(now, m.cfg.MinSendInterval) {
		m.state.Counters.FramesRateLimited++
		m.metrics.FramesRateLimited.Add(1)
		m.enqueueRender(renderJob{frame: frame, at: now})
		return
	}

	if _, err := m.process(ctx, frame); err != nil {
		m.logger.Warning("Skipping frame: %v", err)
	}
}

// process sends frame to the detector and retains it when it qualifies.
func (m *Manager) process(ctx context.Context, frame *model.Frame) (UploadResult, error) {
	now := m.now()
	m.state.LastSent = now

	res, err := m.detector.Detect(ctx, frame, ai.Request{
		Endpoint:  m.state.Endpoint,
		Size:      image.Pt(m.cfg.TransmissionWidth, m.cfg.TransmissionHeight),
		Threshold: m.cfg.ConfidenceThreshold,
		Fields:    ai.LocationFields(m.state.Location),
	})
	out := UploadResult{Result: res}
	if err != nil {
		m.state.Counters.FramesFailed++
		m.metrics.FramesFailed.Add(1)
		return out, err
	}

	m.state.Counters.FramesProcessed++
	m.metrics.FramesProcessed.Add(1)
	m.metrics.ObserveLatency(res.Latency)

	if res.Warning != nil {
		m.state.Counters.FramesFailed++
		m.metrics.FramesFailed.Add(1)
		m.state.LastWarning = res.Warning.Error()
		m.logger.Warning("Inference failed: %v", res.Warning)
		m.publishStatus()
		m.enqueueRender(renderJob{frame: res.Frame, at: now})
		return out, nil
	}

	if res.Qualifying {
		record, ok := m.state.Retain(res.Frame, res.Detections, now)
		if ok {
			out.Record, out.Retained = record, true
			m.metrics.FramesRetained.Add(1)
			m.metrics.Detections.Add(uint64(len(record.Detections)))
			m.logger.Info("Pothole frame retained: %d detection(s), log size %d", len(record.Detections), m.state.Log.Len())

			if m.archive != nil {
				m.archive.Add(record)
			}
			m.broadcast(dto.DetectionMessage{
				Type:      dto.TypeDetection,
				RecordID:  record.ID,
				Count:     len(record.Detections),
				Timestamp: record.Timestamp,
				Location:  record.Location,
			})
		}
	}

	m.enqueueRender(renderJob{frame: res.Frame, detections: res.Detections, annotated: true, at: now})
	return out, nil
}

// enqueueRender puts job on the render queue, replacing the oldest
// pending job when the queue is full.
func (m *Manager) enqueueRender(job renderJob) {
	for {
		select {
		case m.renders <- job:
			return
		default:
		}
		select {
		case <-m.renders:
			m.metrics.RendersDropped.Add(1)
		default:
		}
	}
}

func (m *Manager) renderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.renders:
			data, err := ai.EncodeJPEG(job.frame.RGBA, m.cfg.JPEGQuality)
			if err != nil {
				m.logger.Error("Error encoding frame for viewers: %v", err)
				continue
			}
			m.broadcast(dto.FrameMessage{
				Type:       dto.TypeFrame,
				Image:      base64.StdEncoding.EncodeToString(data),
				Annotated:  job.annotated,
				Detections: job.detections,
				Timestamp:  job.at,
			})
		}
	}
}

func (m *Manager) publishStatus() {
	m.broadcast(dto.StatusMessage{
		Type:    dto.TypeStatus,
		Session: m.state.Snapshot(),
		Warning: m.state.LastWarning,
	})
}

func (m *Manager) broadcast(v interface{}) {
	if m.hub == nil {
		return
	}
	m.hub.BroadcastJSON(v)
}
