package handler

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"potholecam/internal/config"
	"potholecam/internal/dto"
	"potholecam/internal/logger"
	"potholecam/internal/model"
	"potholecam/internal/service"
	"potholecam/internal/service/ai"
)

const defaultRecentDetections = 4

// RecentDetectionsHandler returns the newest retained frames of the running
// session, newest last. The count comes from ?n and defaults to 4.
func RecentDetectionsHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := atoiDefault(r.URL.Query().Get("n"), defaultRecentDetections)

		records := manager.LatestRecords(n)
		out := make([]dto.RecentDetection, 0, len(records))
		for _, record := range records {
			data, err := ai.EncodeJPEG(record.Frame.RGBA, cfg.JPEGQuality)
			if err != nil {
				logger.Error("Error encoding record %s: %v", record.ID, err)
				continue
			}
			out = append(out, dto.RecentDetection{
				RecordID:  record.ID,
				Count:     len(record.Detections),
				Timestamp: record.Timestamp,
				Location:  record.Location,
				Caption:   caption(record),
				Image:     base64.StdEncoding.EncodeToString(data),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func caption(record model.DetectionRecord) string {
	where := "unknown location"
	if record.Location != nil {
		where = record.Location.String()
	}
	return fmt.Sprintf("%d potholes at %s", len(record.Detections), where)
}
