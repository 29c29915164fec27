package handler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"github.com/disintegration/imaging"

	"potholecam/internal/config"
	"potholecam/internal/dto"
	"potholecam/internal/logger"
	"potholecam/internal/service"
	"potholecam/internal/service/ai"
)

const maxUploadSize = 20 << 20

// UploadFrameHandler runs a single uploaded image through the detector. The
// image is read from the "file" form field or, failing that, the raw body.
func UploadFrameHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

		data, err := readUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unsupported image: "+err.Error())
			return
		}

		res, err := manager.SubmitFrame(r.Context(), img)
		var invalid *ai.InvalidFrameError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}

		encoded, err := ai.EncodeJPEG(res.Frame.RGBA, cfg.JPEGQuality)
		if err != nil {
			logger.Error("Error encoding annotated upload: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to encode image")
			return
		}

		resp := dto.UploadResponse{
			Detections: res.Detections,
			Qualifying: res.Qualifying,
			Retained:   res.Retained,
			Image:      base64.StdEncoding.EncodeToString(encoded),
		}
		if res.Retained {
			resp.RecordID = res.Record.ID
		}
		if res.Warning != nil {
			resp.Warning = res.Warning.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func readUpload(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		return io.ReadAll(file)
	}
	if !errors.Is(err, http.ErrNotMultipart) && !errors.Is(err, http.ErrMissingFile) {
		return nil, err
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("no image uploaded")
	}
	return data, nil
}
