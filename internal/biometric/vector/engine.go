// Package vector implements biometric.Engine for readers that deliver
// fixed-size embedding vectors (MobileFaceNet-style) instead of raster
// images. Templates are JSON arrays of float64; similarity is cosine,
// mapped to the engine's 0-100 scale.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/fpkiosk/fpkiosk/internal/biometric"
)

// DefaultDims matches the 192-dimensional embeddings produced by the
// kiosk's on-device extractor.
const DefaultDims = 192

type Engine struct {
	dims int

	mu     sync.RWMutex
	corpus map[int64][]float64
}

// New returns an embedding engine expecting dims-dimensional vectors.
// dims <= 0 selects DefaultDims.
func New(dims int) *Engine {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &Engine{dims: dims, corpus: make(map[int64][]float64)}
}

func (e *Engine) decode(template []byte) ([]float64, error) {
	var v []float64
	if err := json.Unmarshal(template, &v); err != nil {
		return nil, fmt.Errorf("vector: bad template: %w", err)
	}
	if len(v) != e.dims {
		return nil, fmt.Errorf("vector: expected %d dimensions, got %d", e.dims, len(v))
	}
	if floats.Norm(v, 2) == 0 {
		return nil, biometric.ErrNoFeatures
	}
	return v, nil
}

// Extract validates the delivered embedding and returns it in canonical
// form. The capture payload for vector readers already is the embedding.
func (e *Engine) Extract(_ context.Context, image []byte) ([]byte, error) {
	v, err := e.decode(image)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// score maps cosine similarity to 0..100, clamping negatives to 0.
func score(a, b []float64) int {
	cos := floats.Dot(a, b) / (floats.Norm(a, 2) * floats.Norm(b, 2))
	if cos <= 0 {
		return 0
	}
	return int(math.Round(math.Min(cos, 1) * 100))
}

func (e *Engine) Verify(_ context.Context, a, b []byte) (int, error) {
	va, err := e.decode(a)
	if err != nil {
		return 0, err
	}
	vb, err := e.decode(b)
	if err != nil {
		return 0, err
	}
	return score(va, vb), nil
}

// Merge averages the three samples element-wise and renormalizes to unit
// length.
func (e *Engine) Merge(_ context.Context, samples [3][]byte) ([]byte, error) {
	sum := make([]float64, e.dims)
	for _, s := range samples {
		v, err := e.decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", biometric.ErrMergeFailed, err)
		}
		floats.Add(sum, v)
	}
	norm := floats.Norm(sum, 2)
	if norm == 0 {
		return nil, biometric.ErrMergeFailed
	}
	floats.Scale(1/norm, sum)
	return json.Marshal(sum)
}

func (e *Engine) Identify(_ context.Context, template []byte, threshold int) (*biometric.Candidate, error) {
	probe, err := e.decode(template)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var best *biometric.Candidate
	for id, v := range e.corpus {
		s := score(probe, v)
		if s < threshold {
			continue
		}
		if best == nil || s > best.Score {
			best = &biometric.Candidate{ID: id, Score: s}
		}
	}
	return best, nil
}

func (e *Engine) CacheSave(id int64, template []byte) error {
	v, err := e.decode(template)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.corpus[id] = v
	e.mu.Unlock()
	return nil
}

func (e *Engine) CacheDelete(id int64) {
	e.mu.Lock()
	delete(e.corpus, id)
	e.mu.Unlock()
}

func (e *Engine) CacheClear() {
	e.mu.Lock()
	e.corpus = make(map[int64][]float64)
	e.mu.Unlock()
}

func (e *Engine) CacheIDs() []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]int64, 0, len(e.corpus))
	for id := range e.corpus {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) Close() error {
	e.CacheClear()
	return nil
}
