// Package kiosk implements the fingerprint session core: the device
// session manager, the 3-sample enrollment protocol, identification
// against the enrolled population and the store/corpus synchronization.
//
// All state mutation happens on a single worker goroutine fed by a command
// channel; capture frames are consumed by the same goroutine, which gives
// strict in-order processing and makes enrollment cancellation race-free
// without extra locking.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fpkiosk/fpkiosk/internal/biometric"
	"github.com/fpkiosk/fpkiosk/internal/device"
	"github.com/fpkiosk/fpkiosk/internal/logging"
	"github.com/fpkiosk/fpkiosk/internal/models"
	"github.com/fpkiosk/fpkiosk/internal/repositories/subjects"
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// Thresholds are the similarity cut-offs on the engine's 0-100 scale.
// Duplicate guards global uniqueness during enrollment, Consistency guards
// one session against a finger swap, Identify gates access decisions and
// is strictest because a false accept there grants access.
type Thresholds struct {
	Duplicate   int
	Consistency int
	Identify    int
}

// DefaultThresholds returns the tuned production values.
func DefaultThresholds() Thresholds {
	return Thresholds{Duplicate: 55, Consistency: 50, Identify: 70}
}

// StoreOpener opens (and migrates) the subject store. The session owns the
// returned closer for the lifetime of the device connection.
type StoreOpener func(ctx context.Context) (subjects.Repository, io.Closer, error)

// Options configure a Session. Engine and OpenStore are required; a nil
// Listener falls back to NopListener.
type Options struct {
	Thresholds Thresholds
	Engine     biometric.Engine
	OpenStore  StoreOpener
	Listener   Listener
	Logger     logging.Logger
}

// Session is the device session manager. Construct with NewSession, start
// the worker with Run, then use the public methods from any goroutine.
type Session struct {
	opts     Options
	log      logging.Logger
	listener Listener

	cmds chan func(ctx context.Context)
	done chan struct{}

	// Worker-owned state. Only the Run goroutine touches these.
	state  connState
	sensor device.Sensor
	frames <-chan device.Frame
	repo   subjects.Repository
	store  io.Closer
	enroll *enrollment

	// Mirror of the worker state for cross-goroutine reads.
	mu          sync.RWMutex
	connected   bool
	registering bool
	step        int
}

func NewSession(opts Options) *Session {
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefault()
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	return &Session{
		opts:     opts,
		log:      opts.Logger,
		listener: opts.Listener,
		cmds:     make(chan func(ctx context.Context)),
		done:     make(chan struct{}),
	}
}

// Run executes the worker loop until ctx is cancelled, then disconnects.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			// Detached context: the loop context is already cancelled but
			// the sensor and store still need an orderly shutdown.
			_ = s.disconnect(context.WithoutCancel(ctx))
			return
		case fn := <-s.cmds:
			fn(ctx)
		case f, ok := <-s.frames:
			if !ok {
				// Device dropped mid-session.
				s.log.Warn(ctx, "capture stream closed, disconnecting")
				_ = s.disconnect(ctx)
				continue
			}
			s.handleFrame(ctx, f)
		}
	}
}

// do runs fn on the worker goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- func(c context.Context) { reply <- fn(c) }:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// Connect opens the sensor, opens and migrates the subject store, rebuilds
// the engine corpus and starts continuous capture. It is a no-op when a
// session is already open. On any failure everything opened so far is
// closed again and the session stays disconnected.
func (s *Session) Connect(ctx context.Context, sensor device.Sensor) error {
	return s.do(ctx, func(c context.Context) error { return s.connect(c, sensor) })
}

// Disconnect stops capture and releases the sensor, the store and the
// engine corpus. Safe to call when already disconnected.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.do(ctx, s.disconnect)
}

// StartRegistration begins a 3-sample enrollment for the given identity.
func (s *Session) StartRegistration(ctx context.Context, workerID, name string) error {
	return s.do(ctx, func(c context.Context) error { return s.startRegistration(c, workerID, name) })
}

// CancelRegistration discards the active enrollment session, if any.
func (s *Session) CancelRegistration(ctx context.Context) error {
	return s.do(ctx, func(c context.Context) error {
		s.resetEnrollment()
		return nil
	})
}

// DeleteSubject removes a subject and resynchronizes the corpus.
func (s *Session) DeleteSubject(ctx context.Context, id int64) error {
	return s.do(ctx, func(c context.Context) error {
		if s.state != stateConnected {
			return ErrNotConnected
		}
		if err := s.repo.DeleteByID(c, id); err != nil {
			return err
		}
		s.log.Info(c, "subject deleted", "id", id)
		return s.resyncCache(c)
	})
}

// ClearSubjects removes every subject and empties the corpus.
func (s *Session) ClearSubjects(ctx context.Context) error {
	return s.do(ctx, func(c context.Context) error {
		if s.state != stateConnected {
			return ErrNotConnected
		}
		if err := s.repo.Clear(c); err != nil {
			return err
		}
		s.log.Info(c, "subject store cleared")
		return s.resyncCache(c)
	})
}

// Subjects lists all enrolled subjects ordered by name.
func (s *Session) Subjects(ctx context.Context) ([]models.Subject, error) {
	var out []models.Subject
	err := s.do(ctx, func(c context.Context) error {
		if s.state != stateConnected {
			return ErrNotConnected
		}
		var err error
		out, err = s.repo.GetAll(c)
		return err
	})
	return out, err
}

// NextSubjectID predicts the id the next enrollment will be assigned.
func (s *Session) NextSubjectID(ctx context.Context) (int64, error) {
	var id int64
	err := s.do(ctx, func(c context.Context) error {
		if s.state != stateConnected {
			return ErrNotConnected
		}
		var err error
		id, err = s.repo.NextID(c)
		return err
	})
	return id, err
}

// SubjectCount returns the number of enrolled subjects.
func (s *Session) SubjectCount(ctx context.Context) (int, error) {
	var n int
	err := s.do(ctx, func(c context.Context) error {
		if s.state != stateConnected {
			return ErrNotConnected
		}
		var err error
		n, err = s.repo.Count(c)
		return err
	})
	return n, err
}

// ExportSnapshot returns a full snapshot of the store.
func (s *Session) ExportSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var snap *models.Snapshot
	err := s.do(ctx, func(c context.Context) error {
		if s.state != stateConnected {
			return ErrNotConnected
		}
		var err error
		snap, err = s.repo.ExportAll(c)
		return err
	})
	return snap, err
}

// ImportSnapshot atomically replaces the store contents and resynchronizes
// the corpus. Returns the number of subjects imported.
func (s *Session) ImportSnapshot(ctx context.Context, snap *models.Snapshot) (int, error) {
	var n int
	err := s.do(ctx, func(c context.Context) error {
		if s.state != stateConnected {
			return ErrNotConnected
		}
		var err error
		n, err = s.repo.ImportAll(c, snap)
		if err != nil {
			return err
		}
		s.log.Info(c, "snapshot imported", "subjects", n)
		return s.resyncCache(c)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// IsConnected reports whether a device session is open.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// IsRegistering reports whether an enrollment session is active.
func (s *Session) IsRegistering() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registering
}

// Progress returns the current enrollment step and total (0, 3 when idle).
func (s *Session) Progress() (step, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step, SamplesRequired
}

func (s *Session) setMirror(connected, registering bool, step int) {
	s.mu.Lock()
	s.connected = connected
	s.registering = registering
	s.step = step
	s.mu.Unlock()
}

// connect runs on the worker goroutine.
func (s *Session) connect(ctx context.Context, sensor device.Sensor) error {
	if s.state != stateDisconnected {
		return nil
	}
	s.state = stateConnecting

	fail := func(err error) error {
		s.state = stateDisconnected
		s.setMirror(false, false, 0)
		s.listener.Error("connection failed: " + err.Error())
		s.log.Error(ctx, "connection failed", "error", err.Error())
		return err
	}

	info, err := sensor.Open(ctx)
	if err != nil {
		return fail(fmt.Errorf("open sensor: %w", err))
	}

	repo, store, err := s.opts.OpenStore(ctx)
	if err != nil {
		_ = sensor.Close()
		return fail(fmt.Errorf("open store: %w", err))
	}
	s.sensor = sensor
	s.repo = repo
	s.store = store

	if err := s.resyncCache(ctx); err != nil {
		s.closeResources()
		return fail(err)
	}

	frames, err := sensor.StartCapture(ctx)
	if err != nil {
		s.closeResources()
		return fail(fmt.Errorf("start capture: %w", err))
	}

	s.frames = frames
	s.state = stateConnected
	s.setMirror(true, false, 0)
	s.listener.DeviceConnected(describeDevice(info))
	s.log.Info(ctx, "device connected", "serial", info.Serial, "vendor", info.Vendor, "product", info.Product)
	return nil
}

// disconnect runs on the worker goroutine.
func (s *Session) disconnect(ctx context.Context) error {
	if s.state == stateDisconnected {
		return nil
	}
	s.resetEnrollment()
	s.closeResources()
	s.state = stateDisconnected
	s.setMirror(false, false, 0)
	s.listener.DeviceDisconnected()
	s.log.Info(ctx, "device disconnected")
	return nil
}

func (s *Session) closeResources() {
	if s.sensor != nil {
		_ = s.sensor.StopCapture()
		_ = s.sensor.Close()
		s.sensor = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	s.repo = nil
	s.frames = nil
	s.opts.Engine.CacheClear()
}

// handleFrame runs on the worker goroutine for every captured frame.
func (s *Session) handleFrame(ctx context.Context, f device.Frame) {
	if s.state != stateConnected {
		return
	}
	s.listener.FrameCaptured(f.Image)

	tpl, err := s.opts.Engine.Extract(ctx, f.Image)
	if err != nil {
		// Bad placement happens constantly; only real faults surface.
		if errors.Is(err, biometric.ErrNoFeatures) {
			return
		}
		s.listener.Error("template extraction failed: " + err.Error())
		return
	}

	if s.enroll != nil {
		s.handleEnrollSample(ctx, tpl)
		return
	}
	s.identify(ctx, tpl)
}

func describeDevice(info device.Info) string {
	d := info.Vendor + " " + info.Product
	if info.Serial != "" {
		d += " (" + info.Serial + ")"
	}
	return d
}
