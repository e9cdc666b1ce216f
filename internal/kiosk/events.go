package kiosk

import "github.com/fpkiosk/fpkiosk/internal/models"

// Listener receives session events. It is fixed at construction and called
// from the session worker goroutine, so implementations must return
// quickly and must not call back into the session synchronously.
type Listener interface {
	DeviceConnected(info string)
	DeviceDisconnected()
	FrameCaptured(image []byte)
	RegistrationProgress(step, total int)
	RegistrationComplete(workerID string)
	RegistrationFailed(reason string)
	IdentificationComplete(subject *models.Subject, score int)
	Error(msg string)
}

// NopListener discards all events. Useful as a default and in tests.
type NopListener struct{}

func (NopListener) DeviceConnected(string)                      {}
func (NopListener) DeviceDisconnected()                         {}
func (NopListener) FrameCaptured([]byte)                        {}
func (NopListener) RegistrationProgress(int, int)               {}
func (NopListener) RegistrationComplete(string)                 {}
func (NopListener) RegistrationFailed(string)                   {}
func (NopListener) IdentificationComplete(*models.Subject, int) {}
func (NopListener) Error(string)                                {}
