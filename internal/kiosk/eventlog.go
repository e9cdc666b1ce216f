package kiosk

import (
	"sync"
	"time"

	"github.com/fpkiosk/fpkiosk/internal/models"
)

// Event type names, as seen by the UI poll feed.
const (
	EventDeviceConnected        = "device_connected"
	EventDeviceDisconnected     = "device_disconnected"
	EventFrameCaptured          = "frame_captured"
	EventRegistrationProgress   = "registration_progress"
	EventRegistrationComplete   = "registration_complete"
	EventRegistrationFailed     = "registration_failed"
	EventIdentificationComplete = "identification_complete"
	EventError                  = "error"
)

// Event is one entry of the UI feed. Seq grows monotonically; consumers
// poll with the last seq they have seen. Frame events carry no image
// payload, only the fact that a finger was read.
type Event struct {
	Seq       int64     `json:"seq"`
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	Info      string    `json:"info,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	SubjectID int64     `json:"subject_id,omitempty"`
	Step      int       `json:"step,omitempty"`
	Total     int       `json:"total,omitempty"`
	Score     int       `json:"score,omitempty"`
	Matched   bool      `json:"matched"`
}

// EventLog is a bounded ring of recent events implementing Listener. It is
// safe for concurrent use: the session worker appends, API handlers read.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
	seq    int64
	limit  int
}

// NewEventLog returns a log retaining the last limit events (minimum 16).
func NewEventLog(limit int) *EventLog {
	if limit < 16 {
		limit = 16
	}
	return &EventLog{limit: limit}
}

func (l *EventLog) append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	e.Seq = l.seq
	e.Time = time.Now().UTC()
	l.events = append(l.events, e)
	if len(l.events) > l.limit {
		l.events = l.events[len(l.events)-l.limit:]
	}
}

// Since returns all retained events with Seq > after, oldest first.
func (l *EventLog) Since(after int64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, 0)
	for _, e := range l.events {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest event, 0 when empty.
func (l *EventLog) LastSeq() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

func (l *EventLog) DeviceConnected(info string) {
	l.append(Event{Type: EventDeviceConnected, Info: info})
}

func (l *EventLog) DeviceDisconnected() {
	l.append(Event{Type: EventDeviceDisconnected})
}

func (l *EventLog) FrameCaptured([]byte) {
	l.append(Event{Type: EventFrameCaptured})
}

func (l *EventLog) RegistrationProgress(step, total int) {
	l.append(Event{Type: EventRegistrationProgress, Step: step, Total: total})
}

func (l *EventLog) RegistrationComplete(workerID string) {
	l.append(Event{Type: EventRegistrationComplete, WorkerID: workerID})
}

func (l *EventLog) RegistrationFailed(reason string) {
	l.append(Event{Type: EventRegistrationFailed, Reason: reason})
}

func (l *EventLog) IdentificationComplete(subject *models.Subject, score int) {
	e := Event{Type: EventIdentificationComplete, Score: score}
	if subject != nil {
		e.Matched = true
		e.SubjectID = subject.ID
		e.WorkerID = subject.WorkerID
		e.Name = subject.Name
	}
	l.append(e)
}

func (l *EventLog) Error(msg string) {
	l.append(Event{Type: EventError, Reason: msg})
}
