// Package biometric defines the boundary to the fingerprint matching
// engine. The engine owns template extraction, pairwise scoring, template
// merging and an in-memory search corpus keyed by subject id. The daemon
// core never interprets template bytes; it only moves them between the
// engine and the store.
package biometric

import (
	"context"
	"errors"
)

var (
	// ErrNoFeatures is returned by Extract when no usable features can be
	// read from the capture (bad placement, empty frame).
	ErrNoFeatures = errors.New("biometric: no features extracted")

	// ErrMergeFailed is returned by Merge when the samples cannot be
	// combined into one composite template.
	ErrMergeFailed = errors.New("biometric: merge failed")
)

// Candidate is one identification result: the corpus id of the best match
// and its similarity score on the 0-100 scale.
type Candidate struct {
	ID    int64
	Score int
}

// Engine is the external matching capability. Scores are 0-100.
//
// Corpus mutation (CacheSave/CacheDelete/CacheClear) is reserved to the
// cache synchronizer; all other callers treat the corpus as read-only
// through Identify.
type Engine interface {
	// Extract produces a template from a captured image.
	Extract(ctx context.Context, image []byte) ([]byte, error)

	// Verify scores two templates for similarity.
	Verify(ctx context.Context, a, b []byte) (int, error)

	// Merge combines three samples of the same finger into one composite
	// template.
	Merge(ctx context.Context, samples [3][]byte) ([]byte, error)

	// Identify searches the corpus for the best match at or above
	// threshold. A nil Candidate means no match cleared the threshold.
	Identify(ctx context.Context, template []byte, threshold int) (*Candidate, error)

	// CacheSave adds or replaces the corpus entry for id.
	CacheSave(id int64, template []byte) error

	// CacheDelete removes the corpus entry for id, if present.
	CacheDelete(id int64)

	// CacheClear empties the corpus.
	CacheClear()

	// CacheIDs lists the ids currently in the corpus, in no particular
	// order.
	CacheIDs() []int64

	// Close releases engine resources.
	Close() error
}
