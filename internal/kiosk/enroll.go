package kiosk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fpkiosk/fpkiosk/internal/repositories/subjects"
)

// SamplesRequired is the number of consistent captures one enrollment
// needs before the samples are merged into the stored composite template.
const SamplesRequired = 3

// enrollment is the transient state of one enrollment session. It lives
// only on the worker goroutine and is dropped on completion, cancel or any
// terminal failure.
type enrollment struct {
	id       string
	workerID string
	name     string
	index    int
	samples  [SamplesRequired][]byte
}

// startRegistration runs on the worker goroutine.
func (s *Session) startRegistration(ctx context.Context, workerID, name string) error {
	if s.state != stateConnected {
		return ErrNotConnected
	}
	if s.enroll != nil {
		return ErrAlreadyRegistering
	}
	if strings.TrimSpace(workerID) == "" {
		return ErrEmptyWorkerID
	}

	s.enroll = &enrollment{id: uuid.NewString(), workerID: workerID, name: name}
	s.setMirror(true, true, 1)
	s.listener.RegistrationProgress(1, SamplesRequired)
	s.log.Info(ctx, "enrollment started", "session", s.enroll.id, "worker_id", workerID)
	return nil
}

func (s *Session) resetEnrollment() {
	if s.enroll == nil {
		return
	}
	s.enroll = nil
	s.setMirror(s.state == stateConnected, false, 0)
}

// failRegistration terminates the active session with a user-facing reason.
func (s *Session) failRegistration(ctx context.Context, reason string) {
	if s.enroll != nil {
		s.log.Warn(ctx, "enrollment failed", "session", s.enroll.id, "reason", reason)
	}
	s.resetEnrollment()
	s.listener.RegistrationFailed(reason)
}

// handleEnrollSample evaluates one extracted template against the active
// enrollment session. Checks happen in fixed order: the duplicate check
// protects global uniqueness and aborts the whole session; the consistency
// check protects the session against a finger swap and only rejects the
// sample, keeping the slot open for a retry.
func (s *Session) handleEnrollSample(ctx context.Context, tpl []byte) {
	e := s.enroll

	cand, err := s.opts.Engine.Identify(ctx, tpl, s.opts.Thresholds.Duplicate)
	if err != nil {
		s.failRegistration(ctx, "duplicate check failed: "+err.Error())
		return
	}
	if cand != nil {
		s.failRegistration(ctx, fmt.Sprintf("finger already enrolled under id %d", cand.ID))
		return
	}

	if e.index > 0 {
		score, err := s.opts.Engine.Verify(ctx, e.samples[e.index-1], tpl)
		if err != nil {
			s.failRegistration(ctx, "sample comparison failed: "+err.Error())
			return
		}
		if score < s.opts.Thresholds.Consistency {
			// Same slot is retried; the session stays alive.
			s.listener.RegistrationFailed("place the same finger")
			return
		}
	}

	e.samples[e.index] = tpl
	e.index++

	if e.index < SamplesRequired {
		s.setMirror(true, true, e.index+1)
		s.listener.RegistrationProgress(e.index+1, SamplesRequired)
		return
	}
	s.completeRegistration(ctx, e)
}

// completeRegistration merges the samples, persists the subject and brings
// the corpus up to date. Runs on the worker goroutine.
func (s *Session) completeRegistration(ctx context.Context, e *enrollment) {
	composite, err := s.opts.Engine.Merge(ctx, e.samples)
	if err != nil {
		s.failRegistration(ctx, "could not merge templates")
		return
	}

	id, err := s.repo.Insert(ctx, e.workerID, e.name, composite)
	if err != nil {
		if errors.Is(err, subjects.ErrWorkerIDExists) {
			s.failRegistration(ctx, fmt.Sprintf("worker %s is already enrolled", e.workerID))
			return
		}
		s.failRegistration(ctx, "could not store subject: "+err.Error())
		return
	}

	if err := s.opts.Engine.CacheSave(id, composite); err != nil {
		// Corpus and store must agree; fall back to a full rebuild.
		if rerr := s.resyncCache(ctx); rerr != nil {
			s.listener.Error("corpus resync failed: " + rerr.Error())
		}
	}

	s.log.Info(ctx, "enrollment complete", "session", e.id, "worker_id", e.workerID, "id", id)
	workerID := e.workerID
	s.resetEnrollment()
	s.listener.RegistrationComplete(workerID)
}
