package kiosk

import (
	"context"
	"fmt"
)

// resyncCache rebuilds the engine corpus from the store so that both hold
// exactly the same set of subject ids. Called after connect and after
// every store mutation. Corpus sizes are kiosk-scale, so a full rebuild is
// cheaper than tracking diffs.
func (s *Session) resyncCache(ctx context.Context) error {
	s.opts.Engine.CacheClear()

	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("corpus resync: %w", err)
	}
	for _, subj := range all {
		if err := s.opts.Engine.CacheSave(subj.ID, subj.Template); err != nil {
			return fmt.Errorf("corpus resync: subject %d: %w", subj.ID, err)
		}
	}
	s.log.Debug(ctx, "corpus resynced", "subjects", len(all))
	return nil
}
