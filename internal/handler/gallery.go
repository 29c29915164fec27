package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"potholecam/internal/config"
	"potholecam/internal/dto"
	"potholecam/internal/logger"
	"potholecam/internal/model"
	"potholecam/internal/repository"
)

// GetCapturesHandler returns a filtered, paginated list of archived frames.
func GetCapturesHandler(cfg *config.Config, logger *logger.Logger,
	frameRepo repository.FrameRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &model.ArchiveFilter{
			SessionID:  q.Get("session"),
			ClassName:  q.Get("class"),
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: endOfDay(parseDate(q.Get("dateBefore"))),
		}

		totalCount, err := frameRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting captures: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		filter.Limit = limit
		filter.Offset = (page - 1) * limit
		frames, err := frameRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying captures from database: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		totalSize, err := frameRepo.GetTotalSize()
		if err != nil {
			logger.Error("Error getting archive size: %v", err)
			totalSize = 0
		}

		captures := make([]dto.CaptureInfo, 0, len(frames))
		for _, f := range frames {
			classes, err := detectionRepo.GetClassNamesByFrameID(f.ID)
			if err != nil {
				logger.Error("Error getting classes for frame %d: %v", f.ID, err)
				classes = []string{}
			}

			captures = append(captures, dto.CaptureInfo{
				Name:      f.Filename,
				Date:      f.Timestamp,
				TimeOfDay: f.Timestamp,
				SessionID: f.SessionID,
				Classes:   classes,
				Latitude:  f.Latitude,
				Longitude: f.Longitude,
			})
		}

		writeJSON(w, http.StatusOK, dto.CapturesData{
			Captures:    captures,
			ImagesDir:   cfg.ImageDirectory,
			Size:        totalSize,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// ClassesHandler lists every detected class in the archive.
func ClassesHandler(logger *logger.Logger, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := detectionRepo.GetAllClassNames()
		if err != nil {
			logger.Error("Error listing classes: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, names)
	}
}

// DeleteCaptureHandler removes an archived frame from disk and database.
func DeleteCaptureHandler(cfg *config.Config, logger *logger.Logger, frameRepo repository.FrameRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := r.URL.Query().Get("filename")
		if !validFilename(filename) {
			writeError(w, http.StatusBadRequest, "Filename required")
			return
		}

		filePath := filepath.Join(cfg.ImageDirectory, filename)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete file %s: %v", filePath, err)
		}

		if err := frameRepo.DeleteByFilename(filename); err != nil {
			logger.Error("Failed to delete from database: %v", err)
		}

		logger.Info("Deleted capture: %s", filename)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "filename": filename})
	}
}

// ClearCapturesHandler deletes every archived image and clears the database.
func ClearCapturesHandler(cfg *config.Config, logger *logger.Logger, frameRepo repository.FrameRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := os.ReadDir(cfg.ImageDirectory)
		if err != nil && !os.IsNotExist(err) {
			logger.Error("Error reading image directory: %v", err)
			writeError(w, http.StatusInternalServerError, "Unable to read image directory")
			return
		}

		for _, file := range files {
			if file.IsDir() || filepath.Ext(file.Name()) != ".jpg" {
				continue
			}
			if err := os.Remove(filepath.Join(cfg.ImageDirectory, file.Name())); err != nil {
				logger.Error("Error deleting file %s: %v", file.Name(), err)
			}
		}

		if err := frameRepo.DeleteAll(); err != nil {
			logger.Error("Error clearing database: %v", err)
		}

		logger.Info("All captures cleared from directory: %s", cfg.ImageDirectory)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ViewCaptureHandler serves a single archived image named by the "image" query parameter.
func ViewCaptureHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		image := r.URL.Query().Get("image")
		if !validFilename(image) {
			http.Error(w, "Image parameter is required", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.ImageDirectory, image))
	}
}

// validFilename accepts plain file names only.
func validFilename(name string) bool {
	return name != "" && name != "." && name != ".." && filepath.Base(name) == name
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" from the request (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(24*time.Hour - time.Nanosecond)
}
