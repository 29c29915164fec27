package capture

import (
	"errors"
	"time"
)

// ErrExhausted is reported by finite sources after their last frame.
var ErrExhausted = errors.New("capture source exhausted")

// Pause waits for d and returns false if stop was signalled first.
func Pause(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}
