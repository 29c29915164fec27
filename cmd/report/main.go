package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/disintegration/imaging"

	"potholecam/internal/model"
	"potholecam/internal/repository"
	"potholecam/internal/repository/sqlite"
	"potholecam/internal/service/report"
)

func main() {
	dbPath := flag.String("db", "data/potholes.db", "Archive database path")
	out := flag.String("out", "pothole_report.pdf", "Output PDF path")
	sessionID := flag.String("session", "", "Only include this session")
	quality := flag.Int("quality", 90, "JPEG quality of embedded frames")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("Archive database not found: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	records, skipped, err := loadRecords(sqlite.NewFrameRepository(db), sqlite.NewDetectionRepository(db), *sessionID)
	if err != nil {
		log.Fatalf("Failed to read archive: %v", err)
	}

	err = report.NewGenerator(*quality).WriteFile(*out, records)
	if errors.Is(err, report.ErrNoData) {
		fmt.Println("⚠️  No archived detections, report not written")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}

	fmt.Printf("✅ Wrote %d detection records to %s\n", len(records), *out)
	if skipped > 0 {
		fmt.Printf("⚠️  Skipped %d frames (missing or unreadable image)\n", skipped)
	}
}

// loadRecords rebuilds detection records from the archive, oldest first.
func loadRecords(frames repository.FrameRepository, detections repository.DetectionRepository, sessionID string) ([]model.DetectionRecord, int, error) {
	rows, err := frames.GetAll(&model.ArchiveFilter{SessionID: sessionID})
	if err != nil {
		return nil, 0, err
	}

	var (
		records []model.DetectionRecord
		skipped int
	)
	for _, row := range rows {
		img, err := imaging.Open(row.FilePath)
		if err != nil {
			log.Printf("⚠️  Skipping %s: %v", row.Filename, err)
			skipped++
			continue
		}

		dets, err := detections.GetByFrameID(row.ID)
		if err != nil {
			return nil, 0, err
		}

		record := model.DetectionRecord{
			ID:        row.RecordID,
			SessionID: row.SessionID,
			Frame:     model.NewFrame(img),
			Timestamp: row.Timestamp,
		}
		for _, d := range dets {
			record.Detections = append(record.Detections, model.Detection{
				ClassName:  d.ClassName,
				Confidence: d.Confidence,
				XMin:       d.XMin,
				YMin:       d.YMin,
				XMax:       d.XMax,
				YMax:       d.YMax,
			})
		}
		if row.Latitude != nil && row.Longitude != nil {
			record.Location = &model.Location{Latitude: *row.Latitude, Longitude: *row.Longitude}
		}
		records = append(records, record)
	}
	return records, skipped, nil
}
