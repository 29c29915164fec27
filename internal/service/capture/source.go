package capture

import (
	"sync"
	"sync/atomic"

	"potholecam/internal/model"
)

// Source produces frames for the manager.
type Source interface {
	Start() error
	Stop()
	FrameChan() <-chan *model.Frame
	ErrorChan() <-chan error
	// Dropped counts frames discarded because the consumer was busy.
	Dropped() uint64
}

// Base carries the channels shared by every source. The frame channel is
// unbuffered, so a frame is only handed over when the consumer is waiting
// for one.
type Base struct {
	frames   chan *model.Frame
	errs     chan error
	stop     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// Init creates the channels. It must be called before the source is used.
func (b *Base) Init() {
	b.frames = make(chan *model.Frame)
	b.errs = make(chan error, 1)
	b.stop = make(chan struct{})
}

func (b *Base) FrameChan() <-chan *model.Frame { return b.frames }

func (b *Base) ErrorChan() <-chan error { return b.errs }

func (b *Base) Dropped() uint64 { return b.dropped.Load() }

// Offer hands frame to the consumer without blocking. A frame nobody is
// waiting for is dropped.
func (b *Base) Offer(frame *model.Frame) bool {
	select {
	case b.frames <- frame:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Fail reports a terminal error unless one is already pending.
func (b *Base) Fail(err error) {
	select {
	case b.errs <- err:
	default:
	}
}

// Done is closed once Close has been called.
func (b *Base) Done() <-chan struct{} { return b.stop }

// Close signals the reading goroutine to exit. It is safe to call more than once.
func (b *Base) Close(cleanup func()) {
	b.stopOnce.Do(func() {
		close(b.stop)
		if cleanup != nil {
			cleanup()
		}
	})
}

// Stopped reports whether Close has been called.
func (b *Base) Stopped() bool {
	select {
	case <-b.stop:
		return true
	default:
		return false
	}
}
