package capture

import (
	"bytes"
	"time"

	"github.com/disintegration/imaging"

	"potholecam/internal/model"
)

// ImageSource replays a fixed list of images in a pull loop, pausing
// between reads. It is used for still-image directories and tests.
type ImageSource struct {
	Base

	images   []*model.Frame
	interval time.Duration
	loop     bool
}

// NewImageSource creates a source from frames. When loop is false the
// source reports ErrExhausted after the last frame.
func NewImageSource(frames []*model.Frame, interval time.Duration, loop bool) *ImageSource {
	s := &ImageSource{images: frames, interval: interval, loop: loop}
	s.Init()
	return s
}

// DecodeImages decodes encoded images into frames.
func DecodeImages(data ...[]byte) ([]*model.Frame, error) {
	frames := make([]*model.Frame, 0, len(data))
	for _, d := range data {
		img, err := imaging.Decode(bytes.NewReader(d))
		if err != nil {
			return nil, err
		}
		frames = append(frames, model.NewFrame(img))
	}
	return frames, nil
}

func (s *ImageSource) Start() error {
	go s.run()
	return nil
}

func (s *ImageSource) Stop() {
	s.Close(nil)
}

func (s *ImageSource) run() {
	for i := 0; ; i++ {
		if i == len(s.images) {
			if !s.loop || len(s.images) == 0 {
				s.Fail(ErrExhausted)
				return
			}
			i = 0
		}

		s.Offer(s.images[i].Clone())

		if !Pause(s.Done(), s.interval) {
			return
		}
	}
}
