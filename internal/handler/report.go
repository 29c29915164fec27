package handler

import (
	"bytes"
	"errors"
	"net/http"
	"os"
	"strconv"

	"potholecam/internal/config"
	"potholecam/internal/logger"
	"potholecam/internal/service"
	"potholecam/internal/service/report"
)

// ReportHandler renders the detection log as a PDF download. With ?save=true
// the same bytes are also written to the configured report path.
func ReportHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		err := manager.ExportReport(&buf)
		if errors.Is(err, report.ErrNoData) {
			writeError(w, http.StatusNotFound, report.ErrNoData.Error())
			return
		}
		if err != nil {
			logger.Error("Error generating report: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to generate report")
			return
		}

		if save, _ := strconv.ParseBool(r.URL.Query().Get("save")); save {
			if err := os.WriteFile(cfg.ReportPath, buf.Bytes(), 0644); err != nil {
				logger.Error("Error saving report to %s: %v", cfg.ReportPath, err)
			} else {
				logger.Info("Report written to %s", cfg.ReportPath)
			}
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="pothole_report.pdf"`)
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.Write(buf.Bytes())
	}
}
