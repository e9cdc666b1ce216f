package kiosk

import (
	"context"
	"errors"

	"github.com/fpkiosk/fpkiosk/internal/repositories/subjects"
)

// identify runs on the worker goroutine for every capture outside an
// enrollment session. It never mutates the store; the only write path it
// can take is healing a corpus entry that lost its store row.
func (s *Session) identify(ctx context.Context, tpl []byte) {
	cand, err := s.opts.Engine.Identify(ctx, tpl, s.opts.Thresholds.Identify)
	if err != nil {
		s.listener.Error("identification failed: " + err.Error())
		return
	}
	if cand == nil {
		s.listener.IdentificationComplete(nil, 0)
		return
	}

	subj, err := s.repo.GetByID(ctx, cand.ID)
	if err != nil {
		if errors.Is(err, subjects.ErrNotFound) {
			// Orphaned corpus entry; rebuild and report no match.
			s.log.Warn(ctx, "corpus entry without store row", "id", cand.ID)
			if rerr := s.resyncCache(ctx); rerr != nil {
				s.listener.Error("corpus resync failed: " + rerr.Error())
			}
			s.listener.IdentificationComplete(nil, 0)
			return
		}
		s.listener.Error("subject lookup failed: " + err.Error())
		return
	}

	s.log.Debug(ctx, "subject identified", "id", subj.ID, "worker_id", subj.WorkerID, "score", cand.Score)
	s.listener.IdentificationComplete(subj, cand.Score)
}
