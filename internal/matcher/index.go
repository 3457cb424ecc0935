package matcher

import (
	"math"

	"github.com/coder/hnsw"

	"github.com/andresmejia3/rollcall/internal/encodings"
	"github.com/andresmejia3/rollcall/internal/types"
)

// hnswMaxNeighbors is the M parameter of the HNSW graph.
const hnswMaxNeighbors = 16

// index returns the store position of the encoding closest to the query and
// its exact distance. Ties resolve to the lowest store position.
type index interface {
	nearest(q types.FaceEncoding) (int, float64)
}

// linearIndex scans the whole store.
type linearIndex struct {
	store *encodings.Store
}

func (l linearIndex) nearest(q types.FaceEncoding) (int, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i := 0; i < l.store.Len(); i++ {
		// strict < keeps the first of equally close templates
		if d := Distance(q, l.store.At(i).Encoding); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// hnswIndex proposes candidates with an approximate graph search and re-ranks
// them with the exact float64 distance. The graph may not propose every entry
// at the winning distance, so earlier store positions are checked afterwards
// and the first one at least as close wins.
type hnswIndex struct {
	store      *encodings.Store
	graph      *hnsw.Graph[int]
	candidates int
}

func newHNSWIndex(store *encodings.Store, candidates int) *hnswIndex {
	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.EfSearch = max(candidates*2, 20)
	g.Distance = hnsw.EuclideanDistance

	for i := 0; i < store.Len(); i++ {
		g.Add(hnsw.MakeNode(i, toFloat32(store.At(i).Encoding)))
	}
	return &hnswIndex{store: store, graph: g, candidates: candidates}
}

func (h *hnswIndex) nearest(q types.FaceEncoding) (int, float64) {
	neighbors := h.graph.Search(toFloat32(q), h.candidates)

	best := -1
	bestDist := math.Inf(1)
	for _, n := range neighbors {
		d := Distance(q, h.store.At(n.Key).Encoding)
		if d < bestDist || (d == bestDist && n.Key < best) {
			best, bestDist = n.Key, d
		}
	}
	if best == -1 {
		return linearIndex{store: h.store}.nearest(q)
	}
	for i := 0; i < best; i++ {
		if d := Distance(q, h.store.At(i).Encoding); d <= bestDist {
			return i, d
		}
	}
	return best, bestDist
}

func toFloat32(enc types.FaceEncoding) []float32 {
	out := make([]float32, len(enc))
	for i, v := range enc {
		out[i] = float32(v)
	}
	return out
}
