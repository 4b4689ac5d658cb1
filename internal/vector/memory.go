package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/scholar/pkg/utils"
)

// IndexTypeMemory identifies the in-memory brute-force index.
const IndexTypeMemory = "memory"

// MemoryIndex is an in-memory vector index using brute-force cosine search.
//
// Readers load an immutable snapshot and never block. Writers hold a per-paper
// lock while preparing the paper's new vector set, then swap in a new snapshot
// under a short publish lock, so a search sees either all or none of a paper's
// vectors.
type MemoryIndex struct {
	dimensions int
	snap       atomic.Pointer[snapshot]
	locks      *utils.KeyedMutex
	publish    sync.Mutex
	closed     atomic.Bool
}

type snapshot struct {
	papers map[string]*paperVectors
	size   int
}

// paperVectors is never mutated once published.
type paperVectors struct {
	ids     []string
	vectors [][]float32
	norms   []float64
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	m := &MemoryIndex{dimensions: dimensions, locks: utils.NewKeyedMutex()}
	m.snap.Store(&snapshot{papers: map[string]*paperVectors{}})
	return m, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return IndexTypeMemory
}

// Dimensions returns the vector dimension every entry must have.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add inserts entries. Entries are grouped by paper; all groups are published in
// a single snapshot swap.
func (m *MemoryIndex) Add(ctx context.Context, entries []Entry) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(entries) == 0 {
		return nil
	}
	byPaper := make(map[string][]Entry)
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.PaperID == "" || e.ChunkID == "" {
			return fmt.Errorf("entry requires chunk and paper IDs")
		}
		if len(e.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", e.ChunkID, len(e.Vector), m.dimensions)
		}
		if _, dup := seen[e.ChunkID]; dup {
			return fmt.Errorf("duplicate chunk ID in batch: %s", e.ChunkID)
		}
		seen[e.ChunkID] = struct{}{}
		byPaper[e.PaperID] = append(byPaper[e.PaperID], e)
	}

	paperIDs := make([]string, 0, len(byPaper))
	for id := range byPaper {
		paperIDs = append(paperIDs, id)
	}
	sort.Strings(paperIDs) // fixed lock order
	for _, id := range paperIDs {
		unlock := m.locks.Lock(id)
		defer unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// While the paper locks are held nobody else can change these papers'
	// entries, so the prepared sets stay valid until publish.
	base := m.snap.Load()
	prepared := make(map[string]*paperVectors, len(byPaper))
	added := 0
	for _, id := range paperIDs {
		pv, err := merge(base.papers[id], byPaper[id])
		if err != nil {
			return err
		}
		prepared[id] = pv
		added += len(byPaper[id])
	}

	m.publish.Lock()
	defer m.publish.Unlock()
	cur := m.snap.Load()
	next := &snapshot{papers: make(map[string]*paperVectors, len(cur.papers)+len(prepared)), size: cur.size + added}
	for id, pv := range cur.papers {
		next.papers[id] = pv
	}
	for id, pv := range prepared {
		next.papers[id] = pv
	}
	m.snap.Store(next)
	return nil
}

// merge returns a new vector set holding old plus entries, sorted by chunk ID.
func merge(old *paperVectors, entries []Entry) (*paperVectors, error) {
	n := len(entries)
	if old != nil {
		n += len(old.ids)
	}
	type item struct {
		id   string
		vec  []float32
		norm float64
	}
	items := make([]item, 0, n)
	existing := map[string]struct{}{}
	if old != nil {
		for i, id := range old.ids {
			items = append(items, item{id: id, vec: old.vectors[i], norm: old.norms[i]})
			existing[id] = struct{}{}
		}
	}
	for _, e := range entries {
		if _, ok := existing[e.ChunkID]; ok {
			return nil, fmt.Errorf("chunk %s is already indexed", e.ChunkID)
		}
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		items = append(items, item{id: e.ChunkID, vec: vec, norm: L2Norm(vec)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })
	pv := &paperVectors{ids: make([]string, n), vectors: make([][]float32, n), norms: make([]float64, n)}
	for i, it := range items {
		pv.ids[i], pv.vectors[i], pv.norms[i] = it.id, it.vec, it.norm
	}
	return pv, nil
}

// Search returns the top-k vectors by cosine similarity against one consistent snapshot.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filter map[string]struct{}) ([]*VectorResult, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	snap := m.snap.Load()
	qnorm := L2Norm(query)

	var hits []*VectorResult
	scan := func(paperID string, pv *paperVectors) {
		for i, vec := range pv.vectors {
			var score float64
			if qnorm > 0 && pv.norms[i] > 0 {
				score = clampCos(InnerProduct(query, vec) / (qnorm * pv.norms[i]))
			}
			hits = append(hits, &VectorResult{ChunkID: pv.ids[i], PaperID: paperID, Score: score})
		}
	}
	if len(filter) > 0 {
		for id := range filter {
			if pv, ok := snap.papers[id]; ok {
				scan(id, pv)
			}
		}
	} else {
		for id, pv := range snap.papers {
			scan(id, pv)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// DeletePaper removes all vectors of paperID in one snapshot swap.
func (m *MemoryIndex) DeletePaper(ctx context.Context, paperID string) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	unlock := m.locks.Lock(paperID)
	defer unlock()

	m.publish.Lock()
	defer m.publish.Unlock()
	cur := m.snap.Load()
	pv, ok := cur.papers[paperID]
	if !ok {
		return 0, nil
	}
	next := &snapshot{papers: make(map[string]*paperVectors, len(cur.papers)), size: cur.size - len(pv.ids)}
	for id, v := range cur.papers {
		if id != paperID {
			next.papers[id] = v
		}
	}
	m.snap.Store(next)
	return len(pv.ids), nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	return m.snap.Load().size
}

// PaperSize returns the number of vectors indexed for paperID.
func (m *MemoryIndex) PaperSize(paperID string) int {
	if pv, ok := m.snap.Load().papers[paperID]; ok {
		return len(pv.ids)
	}
	return 0
}

// Close marks the index closed; later calls fail with ErrClosed.
func (m *MemoryIndex) Close() error {
	m.closed.Store(true)
	return nil
}
