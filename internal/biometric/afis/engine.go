// Package afis implements biometric.Engine on top of the SourceAFIS Go
// port for optical readers that deliver raster frames. Stored templates
// are canonical grayscale PNGs of the captured frame; minutiae templates
// are derived from them on demand, which keeps the persisted form stable
// across library upgrades. Corpus sizes on a kiosk are small, so the
// per-call template derivation is not a bottleneck.
package afis

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"runtime"
	"sync"

	"github.com/jtejido/sourceafis"
	"github.com/jtejido/sourceafis/config"

	"github.com/fpkiosk/fpkiosk/internal/biometric"
)

type noTransparency struct{}

func (noTransparency) Accepts(key string) bool                    { return false }
func (noTransparency) Accept(key, mime string, data []byte) error { return nil }

type Engine struct {
	mu     sync.RWMutex
	corpus map[int64][]byte
}

var configOnce sync.Once

func New() *Engine {
	configOnce.Do(func() {
		config.LoadDefaultConfig()
		config.Config.Workers = runtime.NumCPU()
	})
	return &Engine{corpus: make(map[int64][]byte)}
}

func grayFromBytes(data []byte) (*image.Gray, error) {
	reader := bytes.NewReader(data)

	img, err := png.Decode(reader)
	if err != nil {
		if _, err := reader.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		img, err = jpeg.Decode(reader)
		if err != nil {
			return nil, fmt.Errorf("afis: frame must be PNG or JPEG: %w", biometric.ErrNoFeatures)
		}
	}

	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray, nil
}

func imageFromBytes(data []byte) (*sourceafis.Image, error) {
	gray, err := grayFromBytes(data)
	if err != nil {
		return nil, err
	}
	return sourceafis.NewFromGray(gray)
}

// match derives templates for both frames and returns the raw SourceAFIS
// similarity score.
func match(ctx context.Context, probeBytes, candidateBytes []byte) (float64, error) {
	probeImg, err := imageFromBytes(probeBytes)
	if err != nil {
		return 0, err
	}
	candidateImg, err := imageFromBytes(candidateBytes)
	if err != nil {
		return 0, err
	}

	l := sourceafis.NewTransparencyLogger(noTransparency{})
	tc := sourceafis.NewTemplateCreator(l)

	probe, err := tc.Template(probeImg)
	if err != nil {
		return 0, fmt.Errorf("afis: probe template: %w", err)
	}
	candidate, err := tc.Template(candidateImg)
	if err != nil {
		return 0, fmt.Errorf("afis: candidate template: %w", err)
	}

	matcher, err := sourceafis.NewMatcher(l, probe)
	if err != nil {
		return 0, fmt.Errorf("afis: matcher: %w", err)
	}
	return matcher.Match(ctx, candidate), nil
}

// toScale clamps a raw SourceAFIS score onto the 0-100 scale the session
// thresholds are expressed in. Raw scores around 40 already indicate a
// confident match, so the configured thresholds (50/55/70) sit well above
// the library's own false-accept region.
func toScale(raw float64) int {
	s := int(math.Round(raw))
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Extract canonicalizes a captured frame to a grayscale PNG and proves a
// minutiae template can be derived from it.
func (e *Engine) Extract(_ context.Context, frame []byte) ([]byte, error) {
	gray, err := grayFromBytes(frame)
	if err != nil {
		return nil, err
	}

	img, err := sourceafis.NewFromGray(gray)
	if err != nil {
		return nil, fmt.Errorf("afis: %w", biometric.ErrNoFeatures)
	}
	l := sourceafis.NewTransparencyLogger(noTransparency{})
	if _, err := sourceafis.NewTemplateCreator(l).Template(img); err != nil {
		return nil, fmt.Errorf("afis: %w: %w", biometric.ErrNoFeatures, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Engine) Verify(ctx context.Context, a, b []byte) (int, error) {
	raw, err := match(ctx, a, b)
	if err != nil {
		return 0, err
	}
	return toScale(raw), nil
}

// Merge selects the sample that scores highest against the other two as
// the composite. The Go port does not expose minutiae-level merging; since
// all three samples already passed the consistency gate, the most mutually
// similar one is the best single representative of the finger.
func (e *Engine) Merge(ctx context.Context, samples [3][]byte) ([]byte, error) {
	bestIdx, bestSum := -1, -1
	for i := range samples {
		sum := 0
		for j := range samples {
			if i == j {
				continue
			}
			s, err := e.Verify(ctx, samples[i], samples[j])
			if err != nil {
				return nil, fmt.Errorf("%w: %w", biometric.ErrMergeFailed, err)
			}
			sum += s
		}
		if sum > bestSum {
			bestIdx, bestSum = i, sum
		}
	}
	if bestIdx < 0 {
		return nil, biometric.ErrMergeFailed
	}
	composite := make([]byte, len(samples[bestIdx]))
	copy(composite, samples[bestIdx])
	return composite, nil
}

func (e *Engine) Identify(ctx context.Context, template []byte, threshold int) (*biometric.Candidate, error) {
	e.mu.RLock()
	entries := make(map[int64][]byte, len(e.corpus))
	for id, tpl := range e.corpus {
		entries[id] = tpl
	}
	e.mu.RUnlock()

	var best *biometric.Candidate
	for id, tpl := range entries {
		raw, err := match(ctx, template, tpl)
		if err != nil {
			return nil, err
		}
		s := toScale(raw)
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
	cp := make([]byte, len(template))
	copy(cp, template)
	e.mu.Lock()
	e.corpus[id] = cp
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
	e.corpus = make(map[int64][]byte)
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
