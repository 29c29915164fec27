package opencv

import (
	"fmt"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"potholecam/internal/logger"
	"potholecam/internal/model"
	"potholecam/internal/service/capture"
)

// DefaultInterval is the pause between reads.
const DefaultInterval = 100 * time.Millisecond

// CameraSource pulls frames from a local camera or a video file through OpenCV.
type CameraSource struct {
	capture.Base

	device   string // device index or URL; ignored when file is set
	file     string
	interval time.Duration
	logger   *logger.Logger
	vc       *gocv.VideoCapture
}

var _ capture.Source = (*CameraSource)(nil)

// NewCameraSource reads from device, e.g. "0" or an RTSP URL.
func NewCameraSource(device string, interval time.Duration, logger *logger.Logger) *CameraSource {
	return newSource(device, "", interval, logger)
}

// NewFileSource reads a video file once from start to end.
func NewFileSource(path string, interval time.Duration, logger *logger.Logger) *CameraSource {
	return newSource("", path, interval, logger)
}

func newSource(device, file string, interval time.Duration, logger *logger.Logger) *CameraSource {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &CameraSource{device: device, file: file, interval: interval, logger: logger}
	s.Init()
	return s
}

func (s *CameraSource) Start() error {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if s.file != "" {
		vc, err = gocv.VideoCaptureFile(s.file)
	} else if id, convErr := strconv.Atoi(s.device); convErr == nil {
		vc, err = gocv.OpenVideoCapture(id)
	} else {
		vc, err = gocv.OpenVideoCapture(s.device)
	}
	if err != nil {
		return fmt.Errorf("opening video capture: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("video capture %q is not open", s.name())
	}
	s.vc = vc

	s.logger.Info("OpenCV capture started on %s", s.name())
	go s.readLoop()
	return nil
}

// Stop ends the pull loop; the capture device is released by the loop.
func (s *CameraSource) Stop() {
	s.Close(nil)
}

func (s *CameraSource) name() string {
	if s.file != "" {
		return s.file
	}
	return "device " + s.device
}

func (s *CameraSource) readLoop() {
	defer s.vc.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	for {
		if s.Stopped() {
			return
		}

		if ok := s.vc.Read(&mat); !ok {
			if s.file != "" {
				s.Fail(capture.ErrExhausted)
			} else {
				s.Fail(fmt.Errorf("reading from %s failed", s.name()))
			}
			return
		}

		if !mat.Empty() {
			img, err := mat.ToImage()
			if err != nil {
				s.logger.Warning("Error converting frame: %v", err)
			} else {
				s.Offer(model.NewFrame(img))
			}
		}

		if !capture.Pause(s.Done(), s.interval) {
			return
		}
	}
}
