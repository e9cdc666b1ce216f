package kiosk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fpkiosk/fpkiosk/internal/biometric"
	"github.com/fpkiosk/fpkiosk/internal/device"
	"github.com/fpkiosk/fpkiosk/internal/models"
	"github.com/fpkiosk/fpkiosk/internal/repositories/subjects"
)

// fakeEngine treats templates as opaque labels and scores pairs from a
// scripted table. Unscripted pairs score 100 when equal, 0 otherwise.
type fakeEngine struct {
	mu          sync.Mutex
	corpus      map[int64][]byte
	scores      map[string]int
	clearCalls  int
	mergeErr    error
	saveErr     error
	identifyErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{corpus: map[int64][]byte{}, scores: map[string]int{}}
}

func (e *fakeEngine) setScore(a, b string, score int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scores[a+"|"+b] = score
	e.scores[b+"|"+a] = score
}

func (e *fakeEngine) score(a, b []byte) int {
	if s, ok := e.scores[string(a)+"|"+string(b)]; ok {
		return s
	}
	if bytes.Equal(a, b) {
		return 100
	}
	return 0
}

func (e *fakeEngine) Extract(_ context.Context, image []byte) ([]byte, error) {
	if string(image) == "smudge" {
		return nil, biometric.ErrNoFeatures
	}
	return image, nil
}

func (e *fakeEngine) Verify(_ context.Context, a, b []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.score(a, b), nil
}

func (e *fakeEngine) Merge(_ context.Context, samples [3][]byte) ([]byte, error) {
	if e.mergeErr != nil {
		return nil, e.mergeErr
	}
	return []byte(fmt.Sprintf("merged(%s,%s,%s)", samples[0], samples[1], samples[2])), nil
}

func (e *fakeEngine) Identify(_ context.Context, tpl []byte, threshold int) (*biometric.Candidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.identifyErr != nil {
		return nil, e.identifyErr
	}
	ids := make([]int64, 0, len(e.corpus))
	for id := range e.corpus {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var best *biometric.Candidate
	for _, id := range ids {
		s := e.score(tpl, e.corpus[id])
		if s < threshold {
			continue
		}
		if best == nil || s > best.Score {
			best = &biometric.Candidate{ID: id, Score: s}
		}
	}
	return best, nil
}

func (e *fakeEngine) CacheSave(id int64, tpl []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saveErr != nil {
		return e.saveErr
	}
	cp := make([]byte, len(tpl))
	copy(cp, tpl)
	e.corpus[id] = cp
	return nil
}

func (e *fakeEngine) CacheDelete(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.corpus, id)
}

func (e *fakeEngine) CacheClear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearCalls++
	e.corpus = map[int64][]byte{}
}

func (e *fakeEngine) CacheIDs() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int64, 0, len(e.corpus))
	for id := range e.corpus {
		ids = append(ids, id)
	}
	return ids
}

func (e *fakeEngine) Close() error { return nil }

// fakeSensor delivers frames pushed by the test.
type fakeSensor struct {
	mu       sync.Mutex
	frames   chan device.Frame
	openErr  error
	started  bool
	opens    int
	closes   int
	captures int
}

func newFakeSensor() *fakeSensor {
	return &fakeSensor{frames: make(chan device.Frame, 16)}
}

func (d *fakeSensor) Open(context.Context) (device.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return device.Info{}, d.openErr
	}
	d.opens++
	return device.Info{Serial: "FS-01", Vendor: "Faketec", Product: "FR-9500"}, nil
}

func (d *fakeSensor) StartCapture(context.Context) (<-chan device.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	d.captures++
	return d.frames, nil
}

func (d *fakeSensor) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

func (d *fakeSensor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeSensor) feed(image string) {
	d.frames <- device.Frame{Image: []byte(image)}
}

// recListener records events as printable strings and signals each one on
// a channel so tests can wait for asynchronous frame processing.
type recListener struct {
	mu     sync.Mutex
	events []string
	ch     chan string
}

func newRecListener() *recListener {
	return &recListener{ch: make(chan string, 128)}
}

func (l *recListener) push(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	l.ch <- e
}

func (l *recListener) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

// wait consumes events until want appears or the timeout hits.
func (l *recListener) wait(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-l.ch:
			if e == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q, events so far: %v", want, l.all())
		}
	}
}

func (l *recListener) DeviceConnected(info string) { l.push("connected:" + info) }
func (l *recListener) DeviceDisconnected()         { l.push("disconnected") }
func (l *recListener) FrameCaptured([]byte)        { l.push("frame") }
func (l *recListener) RegistrationProgress(step, total int) {
	l.push(fmt.Sprintf("progress:%d/%d", step, total))
}
func (l *recListener) RegistrationComplete(workerID string) { l.push("complete:" + workerID) }
func (l *recListener) RegistrationFailed(reason string)     { l.push("failed:" + reason) }
func (l *recListener) IdentificationComplete(subject *models.Subject, score int) {
	if subject == nil {
		l.push("identified:none:0")
		return
	}
	l.push(fmt.Sprintf("identified:%s:%d", subject.WorkerID, score))
}
func (l *recListener) Error(msg string) { l.push("error:" + msg) }

// testRig bundles a running session with its collaborators.
type testRig struct {
	session  *Session
	engine   *fakeEngine
	sensor   *fakeSensor
	listener *recListener
	dsn      string
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "kiosk.db")
	engine := newFakeEngine()
	listener := newRecListener()

	open := func(ctx context.Context) (subjects.Repository, io.Closer, error) {
		db, err := subjects.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return subjects.NewSQLiteRepository(db), db, nil
	}

	s := NewSession(Options{
		Engine:    engine,
		OpenStore: open,
		Listener:  listener,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(cancel)

	return &testRig{session: s, engine: engine, sensor: newFakeSensor(), listener: listener, dsn: dsn}
}

// sideRepo opens an independent handle onto the rig's store for test
// assertions.
func (r *testRig) sideRepo(t *testing.T) subjects.Repository {
	t.Helper()
	db, err := subjects.Open(context.Background(), r.dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return subjects.NewSQLiteRepository(db)
}

func (r *testRig) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, r.session.Connect(context.Background(), r.sensor))
}

// enroll drives a complete, consistent enrollment through the capture path.
func (r *testRig) enroll(t *testing.T, workerID, name, sample string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.session.StartRegistration(ctx, workerID, name))
	for i := 0; i < SamplesRequired; i++ {
		r.sensor.feed(sample)
	}
	r.listener.wait(t, "complete:"+workerID)
}

var errBoom = errors.New("boom")
