package device

import (
	"context"
	"sync"
)

// RemoteSensor adapts a capture device driven by an external process: the
// kiosk UI talks to the reader SDK and posts raw frames to the daemon.
// Push feeds those frames into the capture stream.
//
// The sensor survives session cycles; Close releases the current capture
// stream but a later Open starts a fresh one.
type RemoteSensor struct {
	info Info

	mu        sync.Mutex
	frames    chan Frame
	capturing bool
}

func NewRemoteSensor(info Info) *RemoteSensor {
	return &RemoteSensor{
		info:   info,
		frames: make(chan Frame, 16),
	}
}

func (d *RemoteSensor) Open(ctx context.Context) (Info, error) {
	return d.info, nil
}

func (d *RemoteSensor) StartCapture(ctx context.Context) (<-chan Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capturing = true
	return d.frames, nil
}

func (d *RemoteSensor) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capturing = false
	return nil
}

// Close stops the capture stream and discards anything queued. Frames from
// a previous session must not leak into the next one.
func (d *RemoteSensor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capturing = false
	for {
		select {
		case <-d.frames:
		default:
			return nil
		}
	}
}

// Push delivers one captured frame. Frames pushed while nobody captures,
// or faster than the consumer drains them, are dropped; readers outpace
// matching and only a fresh placement matters.
func (d *RemoteSensor) Push(image []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.capturing {
		return nil
	}
	select {
	case d.frames <- Frame{Image: image}:
	default:
	}
	return nil
}
