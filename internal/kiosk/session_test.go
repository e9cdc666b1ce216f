package kiosk

import (
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpkiosk/fpkiosk/internal/models"
	"github.com/fpkiosk/fpkiosk/internal/repositories/subjects"
)

// storeIDs lists the ids currently persisted, via an independent handle.
func storeIDs(t *testing.T, repo subjects.Repository) []int64 {
	t.Helper()
	all, err := repo.GetAll(context.Background())
	require.NoError(t, err)
	ids := make([]int64, 0, len(all))
	for _, s := range all {
		ids = append(ids, s.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedCacheIDs(e *fakeEngine) []int64 {
	ids := e.CacheIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestSessionConnectLifecycle(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	require.False(t, r.session.IsConnected())

	r.connect(t)
	r.listener.wait(t, "connected:Faketec FR-9500 (FS-01)")
	assert.True(t, r.session.IsConnected())
	assert.Equal(t, 1, r.engine.clearCalls, "one corpus resync on connect")

	// Connecting an already connected session is a no-op.
	require.NoError(t, r.session.Connect(ctx, r.sensor))
	assert.Equal(t, 1, r.sensor.opens)
	assert.Equal(t, 1, r.sensor.captures)

	require.NoError(t, r.session.Disconnect(ctx))
	r.listener.wait(t, "disconnected")
	assert.False(t, r.session.IsConnected())
	assert.Equal(t, 1, r.sensor.closes)

	require.NoError(t, r.session.Disconnect(ctx))
	assert.Equal(t, 1, r.sensor.closes)
}

func TestSessionConnectRollsBackOnSensorError(t *testing.T) {
	r := newRig(t)
	r.sensor.openErr = errBoom

	err := r.session.Connect(context.Background(), r.sensor)
	require.ErrorIs(t, err, errBoom)
	assert.False(t, r.session.IsConnected())
	r.listener.wait(t, "error:connection failed: open sensor: boom")

	// A later attempt with a healthy sensor succeeds.
	r.sensor.openErr = nil
	r.connect(t)
	assert.True(t, r.session.IsConnected())
}

func TestSessionOperationsRequireConnection(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	require.ErrorIs(t, r.session.StartRegistration(ctx, "w1", "Ann"), ErrNotConnected)
	require.ErrorIs(t, r.session.DeleteSubject(ctx, 1), ErrNotConnected)
	require.ErrorIs(t, r.session.ClearSubjects(ctx), ErrNotConnected)

	_, err := r.session.Subjects(ctx)
	require.ErrorIs(t, err, ErrNotConnected)
	_, err = r.session.NextSubjectID(ctx)
	require.ErrorIs(t, err, ErrNotConnected)
	_, err = r.session.SubjectCount(ctx)
	require.ErrorIs(t, err, ErrNotConnected)
	_, err = r.session.ExportSnapshot(ctx)
	require.ErrorIs(t, err, ErrNotConnected)
	_, err = r.session.ImportSnapshot(ctx, &models.Snapshot{})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSessionIdentification(t *testing.T) {
	r := newRig(t)
	r.connect(t)

	r.engine.setScore("F1", "merged(F1,F1,F1)", 80)
	r.enroll(t, "w1", "Ann", "F1")

	r.sensor.feed("F1")
	r.listener.wait(t, "identified:w1:80")

	r.sensor.feed("stranger")
	r.listener.wait(t, "identified:none:0")
}

func TestSessionIgnoresFramesWithoutFeatures(t *testing.T) {
	r := newRig(t)
	r.connect(t)

	r.sensor.feed("smudge")
	r.sensor.feed("stranger")
	r.listener.wait(t, "identified:none:0")

	var identified int
	for _, e := range r.listener.all() {
		if e == "identified:none:0" {
			identified++
		}
	}
	assert.Equal(t, 1, identified, "smudge frame must not reach identification")
}

func TestSessionScoreBelowIdentifyThresholdIsNoMatch(t *testing.T) {
	r := newRig(t)
	r.connect(t)

	r.engine.setScore("F1", "merged(F1,F1,F1)", 80)
	r.enroll(t, "w1", "Ann", "F1")

	// 69 is below the identify gate even though it would pass the
	// enrollment duplicate gate.
	r.engine.setScore("close", "merged(F1,F1,F1)", 69)
	r.sensor.feed("close")
	r.listener.wait(t, "identified:none:0")
}

func TestSessionDeleteSubject(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.connect(t)

	r.engine.setScore("F1", "merged(F1,F1,F1)", 80)
	r.enroll(t, "w1", "Ann", "F1")

	all, err := r.session.Subjects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, r.session.DeleteSubject(ctx, all[0].ID))
	assert.Empty(t, r.engine.CacheIDs())

	// The stored finger no longer identifies.
	r.sensor.feed("F1")
	r.listener.wait(t, "identified:none:0")

	n, err := r.session.SubjectCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.ErrorIs(t, r.session.DeleteSubject(ctx, all[0].ID), subjects.ErrNotFound)
}

func TestSessionStoreAndCorpusStayInSync(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.connect(t)
	side := r.sideRepo(t)

	r.enroll(t, "w1", "Ann", "F1")
	r.enroll(t, "w2", "Bob", "F2")
	assert.Equal(t, storeIDs(t, side), sortedCacheIDs(r.engine))

	require.NoError(t, r.session.DeleteSubject(ctx, 1))
	assert.Equal(t, storeIDs(t, side), sortedCacheIDs(r.engine))

	snap, err := r.session.ExportSnapshot(ctx)
	require.NoError(t, err)
	n, err := r.session.ImportSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, storeIDs(t, side), sortedCacheIDs(r.engine))

	require.NoError(t, r.session.ClearSubjects(ctx))
	assert.Empty(t, storeIDs(t, side))
	assert.Empty(t, sortedCacheIDs(r.engine))
}

func TestSessionExportImportRoundTrip(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.connect(t)

	r.engine.setScore("F1", "merged(F1,F1,F1)", 80)
	r.engine.setScore("F2", "merged(F2,F2,F2)", 85)
	r.enroll(t, "w1", "Ann", "F1")
	r.enroll(t, "w2", "Bob", "F2")

	snap, err := r.session.ExportSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Users, 2)

	require.NoError(t, r.session.ClearSubjects(ctx))

	n, err := r.session.ImportSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := r.session.Subjects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ann", all[0].Name)
	assert.Equal(t, "Bob", all[1].Name)

	// Imported templates identify again.
	r.sensor.feed("F2")
	r.listener.wait(t, "identified:w2:85")
}

func TestSessionImportInvalidSnapshotLeavesStoreUntouched(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.connect(t)

	r.engine.setScore("F1", "merged(F1,F1,F1)", 80)
	r.enroll(t, "w1", "Ann", "F1")

	bad := &models.Snapshot{Users: []models.SnapshotUser{
		{ID: 1, WorkerID: "w9", Name: "Nia", Feature: "dGVtcGxhdGU=", CreatedAt: time.Now().UTC().Format(time.RFC3339)},
		{ID: 2, WorkerID: "", Name: "No Badge", Feature: "dGVtcGxhdGU="},
	}}
	_, err := r.session.ImportSnapshot(ctx, bad)
	require.ErrorIs(t, err, subjects.ErrBadSnapshot)

	all, err := r.session.Subjects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "w1", all[0].WorkerID)

	// The prior corpus is intact and still identifies.
	r.sensor.feed("F1")
	r.listener.wait(t, "identified:w1:80")
}

func TestSessionNextSubjectID(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.connect(t)

	id, err := r.session.NextSubjectID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	r.enroll(t, "w1", "Ann", "F1")

	id, err = r.session.NextSubjectID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestSessionRunStopsOnContextCancel(t *testing.T) {
	dsn := t.TempDir() + "/kiosk.db"
	engine := newFakeEngine()
	s := NewSession(Options{
		Engine: engine,
		OpenStore: func(ctx context.Context) (subjects.Repository, io.Closer, error) {
			db, err := subjects.Open(ctx, dsn)
			if err != nil {
				return nil, nil, err
			}
			return subjects.NewSQLiteRepository(db), db, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	sensor := newFakeSensor()
	require.NoError(t, s.Connect(ctx, sensor))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}

	// The session released the device on shutdown and rejects new work.
	assert.Equal(t, 1, sensor.closes)
	require.ErrorIs(t, s.Connect(context.Background(), sensor), ErrClosed)
}
