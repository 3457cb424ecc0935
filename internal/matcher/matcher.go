// Package matcher assigns detected faces to known identities with a
// thresholded nearest-neighbour search over the encoding store.
package matcher

import (
	"math"
	"sync"

	"github.com/andresmejia3/rollcall/internal/encodings"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/types"
)

// DefaultThreshold is the conventional acceptance distance for 128-d dlib encodings.
const DefaultThreshold = 0.6

// Options configures a Matcher. Zero values select the defaults.
type Options struct {
	Threshold    float64 // inclusive acceptance distance
	IndexMinSize int     // store size from which the HNSW index is built; < 0 disables it
	Candidates   int     // HNSW candidates that are re-ranked with the exact distance
}

const (
	defaultIndexMinSize = 512
	defaultCandidates   = 16
)

// Matcher matches encodings against a read-only store. It is safe for concurrent use.
type Matcher struct {
	store     *encodings.Store
	threshold float64
	index     index

	emptyOnce sync.Once
}

// New builds a matcher over store. The store must not be mutated afterwards.
func New(store *encodings.Store, opts Options) *Matcher {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.IndexMinSize == 0 {
		opts.IndexMinSize = defaultIndexMinSize
	}
	if opts.Candidates <= 0 {
		opts.Candidates = defaultCandidates
	}
	if store == nil {
		store = encodings.New()
	}

	m := &Matcher{store: store, threshold: opts.Threshold}
	if opts.IndexMinSize > 0 && store.Len() >= opts.IndexMinSize {
		m.index = newHNSWIndex(store, opts.Candidates)
		logger.Info("built HNSW index for encoding store", logger.LoggerOptions{Key: "size", Data: store.Len()})
	} else {
		m.index = linearIndex{store: store}
	}
	return m
}

// Threshold returns the acceptance distance in use.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match finds the closest known identity. The face is accepted only when the
// closest distance is at or below the threshold; otherwise the result is
// Unknown but still carries the closest distance. An empty store always yields
// Unknown with no distance.
func (m *Matcher) Match(face types.DetectedFace) types.MatchResult {
	res := types.MatchResult{Face: face, Name: types.Unknown}

	if m.store.Len() == 0 {
		m.emptyOnce.Do(func() {
			logger.Info("encoding store is empty, every face will be reported as Unknown")
		})
		return res
	}

	idx, dist := m.index.nearest(face.Encoding)
	res.Distance = dist
	res.HasDistance = true
	if dist <= m.threshold {
		res.Name = m.store.At(idx).Name
		res.Matched = true
	}
	return res
}

// MatchAll matches each face independently and preserves the input order.
func (m *Matcher) MatchAll(faces []types.DetectedFace) []types.MatchResult {
	results := make([]types.MatchResult, 0, len(faces))
	for _, f := range faces {
		results = append(results, m.Match(f))
	}
	return results
}

// Distance is the Euclidean distance between two encodings.
func Distance(a, b types.FaceEncoding) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
