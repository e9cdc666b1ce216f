// Package device defines the boundary to the physical fingerprint reader.
// Concrete implementations (USB vendor transports) live outside the core;
// the session manager depends only on this interface.
package device

import "context"

// Info describes an opened reader.
type Info struct {
	Serial      string
	Vendor      string
	Product     string
	ImageWidth  int
	ImageHeight int
}

// Frame is one captured image delivered during continuous capture.
type Frame struct {
	Image []byte
}

// Sensor is a capture device. Open and Close bracket a session;
// StartCapture begins continuous capture and returns the frame channel,
// which the implementation closes when capture stops or the device goes
// away. Frames are delivered strictly in capture order.
type Sensor interface {
	Open(ctx context.Context) (Info, error)
	StartCapture(ctx context.Context) (<-chan Frame, error)
	StopCapture() error
	Close() error
}
