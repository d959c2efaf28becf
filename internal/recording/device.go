package recording

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned when microphone permission is denied or
// no input device exists.
var ErrDeviceUnavailable = errors.New("audio input device unavailable")

// Device acquires the audio input. Audio chunks are pushed into the
// capturing Manager through its io.Writer side while the Capture is held.
type Device interface {
	Acquire(ctx context.Context) (Capture, error)
}

// Capture is a held input device.
type Capture interface {
	Release() error
}

// DeviceFunc adapts a function to Device.
type DeviceFunc func(ctx context.Context) (Capture, error)

func (f DeviceFunc) Acquire(ctx context.Context) (Capture, error) {
	return f(ctx)
}

// ReleaseFunc adapts a function to Capture.
type ReleaseFunc func() error

func (f ReleaseFunc) Release() error {
	return f()
}
