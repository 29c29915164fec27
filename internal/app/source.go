package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"potholecam/internal/config"
	"potholecam/internal/logger"
	"potholecam/internal/model"
	"potholecam/internal/service"
	"potholecam/internal/service/capture"
	"potholecam/internal/service/capture/opencv"
)

var stillExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true}

// sourceFactory returns a factory for the capture source named by
// CAPTURE_SOURCE. A still image given as VIDEO_FILE is replayed in a loop.
func sourceFactory(cfg *config.Config, logger *logger.Logger) service.SourceFactory {
	return func() (capture.Source, error) {
		switch cfg.CaptureSource {
		case config.SourceUDP:
			return capture.NewUDPSource(cfg.CamerasPort, logger), nil
		case config.SourceCamera:
			return opencv.NewCameraSource(cfg.CameraDevice, cfg.CaptureInterval, logger), nil
		case config.SourceFile:
			if cfg.VideoFile == "" {
				return nil, fmt.Errorf("VIDEO_FILE is required for capture source %q", cfg.CaptureSource)
			}
			if stillExtensions[strings.ToLower(filepath.Ext(cfg.VideoFile))] {
				img, err := imaging.Open(cfg.VideoFile)
				if err != nil {
					return nil, fmt.Errorf("opening %s: %w", cfg.VideoFile, err)
				}
				return capture.NewImageSource([]*model.Frame{model.NewFrame(img)}, cfg.CaptureInterval, true), nil
			}
			return opencv.NewFileSource(cfg.VideoFile, cfg.CaptureInterval, logger), nil
		default:
			return nil, fmt.Errorf("unknown capture source: %s", cfg.CaptureSource)
		}
	}
}
