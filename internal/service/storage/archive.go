package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"potholecam/internal/config"
	"potholecam/internal/logger"
	"potholecam/internal/model"
	"potholecam/internal/repository"
)

const (
	// DefaultBufferLimit is how many records are held before an early flush.
	DefaultBufferLimit = 10
	// DefaultFlushInterval is how often buffered records are written out.
	DefaultFlushInterval = 30 * time.Second

	timestampLayout = "2006-01-02_15-04_05.000"
)

// ArchiveService buffers retained detection records in memory and
// periodically writes them to the image directory and the SQLite archive.
type ArchiveService struct {
	imagesDir     string
	limit         int
	interval      time.Duration
	jpegQuality   int
	records       []model.DetectionRecord
	mu            sync.Mutex
	full          chan struct{}
	logger        *logger.Logger
	frameRepo     repository.FrameRepository
	detectionRepo repository.DetectionRepository
}

// NewArchiveService creates an ArchiveService. Either repository may be nil,
// in which case only the JPEG files are written.
func NewArchiveService(cfg *config.Config, logger *logger.Logger, frameRepo repository.FrameRepository, detectionRepo repository.DetectionRepository) *ArchiveService {
	limit := cfg.ImageBufferLimit
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	interval := time.Duration(cfg.ImageBufferFlushInterval) * time.Second
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	return &ArchiveService{
		imagesDir:     cfg.ImageDirectory,
		limit:         limit,
		interval:      interval,
		jpegQuality:   cfg.JPEGQuality,
		full:          make(chan struct{}, 1),
		logger:        logger,
		frameRepo:     frameRepo,
		detectionRepo: detectionRepo,
	}
}

// Run flushes on every tick and whenever the buffer fills up. Remaining
// records are flushed when ctx is cancelled.
func (s *ArchiveService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		case <-s.full:
			s.Flush()
		}
	}
}

// Add queues a record for archiving.
func (s *ArchiveService) Add(record model.DetectionRecord) {
	s.mu.Lock()
	s.records = append(s.records, record)
	n := len(s.records)
	s.mu.Unlock()

	s.logger.Info("Archive buffer: %d/%d", n, s.limit)

	if n >= s.limit {
		select {
		case s.full <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered records.
func (s *ArchiveService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Flush writes all buffered records and returns how many were saved.
// Failures are logged and the affected record is skipped.
func (s *ArchiveService) Flush() int {
	s.mu.Lock()
	records := s.records
	s.records = nil
	s.mu.Unlock()

	if len(records) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	saved := 0
	for _, record := range records {
		if err := s.save(record); err != nil {
			s.logger.Error("Error archiving record %s: %v", record.ID, err)
			continue
		}
		saved++
	}

	s.logger.Info("Flushed %d detection records to disk", saved)
	return saved
}

func (s *ArchiveService) save(record model.DetectionRecord) error {
	filename := Filename(record)
	fullpath := filepath.Join(s.imagesDir, filename)

	if err := imaging.Save(record.Frame.RGBA, fullpath, imaging.JPEGQuality(s.jpegQuality)); err != nil {
		return fmt.Errorf("saving image %s: %w", filename, err)
	}

	if s.frameRepo == nil {
		return nil
	}

	var size int64
	if info, err := os.Stat(fullpath); err == nil {
		size = info.Size()
	}

	row := &model.ArchivedFrame{
		RecordID:  record.ID,
		SessionID: record.SessionID,
		Filename:  filename,
		Timestamp: record.Timestamp,
		FilePath:  fullpath,
		FileSize:  size,
	}
	if record.Location != nil {
		lat, lon := record.Location.Latitude, record.Location.Longitude
		row.Latitude = &lat
		row.Longitude = &lon
	}

	frameID, err := s.frameRepo.Insert(row)
	if err != nil {
		return fmt.Errorf("saving frame row: %w", err)
	}

	if s.detectionRepo == nil {
		return nil
	}

	rows := make([]model.ArchivedDetection, 0, len(record.Detections))
	for _, d := range record.Detections {
		rows = append(rows, model.ArchivedDetection{
			FrameID:    frameID,
			ClassName:  d.ClassName,
			Confidence: d.Confidence,
			XMin:       d.XMin,
			YMin:       d.YMin,
			XMax:       d.XMax,
			YMax:       d.YMax,
		})
	}
	if err := s.detectionRepo.InsertBatch(rows); err != nil {
		return fmt.Errorf("saving detections: %w", err)
	}
	return nil
}

// Filename builds the archive file name: timestamp, short record id and
// the distinct detected classes.
func Filename(record model.DetectionRecord) string {
	seen := make(map[string]bool)
	var classes []string
	for _, d := range record.Detections {
		name := strings.ReplaceAll(d.ClassName, " ", "-")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		classes = append(classes, name)
	}
	sort.Strings(classes)

	id := record.ID
	if len(id) > 8 {
		id = id[:8]
	}

	name := record.Timestamp.Format(timestampLayout) + "_" + id
	if len(classes) > 0 {
		name += "_" + strings.Join(classes, "_")
	}
	return name + ".jpg"
}
