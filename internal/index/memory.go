// Package index provides an in-memory vector index over chunk embeddings.
//
// Entries become visible to Search only once an Insert call has fully
// completed, and a DeleteByDocument is either entirely visible or not at
// all. A document that is still being indexed may therefore be searched
// while only some of its batches are present.
package index

import (
	"container/heap"
	"context"
	"sort"
	"sync"

	"github.com/cloo-solutions/lightrag/internal/domain"
)

// DefaultCompactRatio triggers compaction once this share of stored
// entries is tombstoned.
const DefaultCompactRatio = 0.5

type entry struct {
	domain.IndexEntry
	seq     uint64
	deleted bool
}

// Stats describes the index contents.
type Stats struct {
	Live       int    `json:"live"`
	Tombstones int    `json:"tombstones"`
	Documents  int    `json:"documents"`
	Dimension  int    `json:"dimension"`
	Tag        string `json:"tag"`
}

// Memory is a brute-force cosine index. Vectors are expected to be
// L2-normalized, so similarity is their inner product.
type Memory struct {
	mu           sync.RWMutex
	entries      []entry
	live         map[string]int
	tombstones   int
	nextSeq      uint64
	dim          int
	tag          string
	compactRatio float64
}

func NewMemory() *Memory {
	return &Memory{
		live:         make(map[string]int),
		compactRatio: DefaultCompactRatio,
	}
}

// WithCompactRatio sets the tombstone ratio that triggers compaction during
// deletes. A ratio of zero or less disables automatic compaction.
func (m *Memory) WithCompactRatio(ratio float64) *Memory {
	m.compactRatio = ratio
	return m
}

// Insert adds entries produced by the embedding provider identified by tag.
// The index adopts the dimension and tag of the first insert while empty;
// afterwards any mismatch is rejected without inserting anything.
func (m *Memory) Insert(ctx context.Context, tag string, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim, pinnedTag := m.dim, m.tag
	if m.liveCount() == 0 {
		dim, pinnedTag = len(entries[0].Vector), tag
	}
	if tag != pinnedTag {
		return domain.ErrProviderMismatch.Wrap(errMismatch("tag", pinnedTag, tag))
	}
	for _, e := range entries {
		if len(e.Vector) != dim || dim == 0 {
			return domain.ErrDimensionMismatch.Wrap(errDim(dim, len(e.Vector), e.ChunkID))
		}
	}

	m.dim, m.tag = dim, pinnedTag
	for _, e := range entries {
		m.entries = append(m.entries, entry{IndexEntry: e, seq: m.nextSeq})
		m.nextSeq++
		m.live[e.DocumentID]++
	}
	return nil
}

// DeleteByDocument tombstones every entry of a document and returns how
// many were removed.
func (m *Memory) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.live[documentID]
	if n == 0 {
		return 0, nil
	}
	for i := range m.entries {
		if !m.entries[i].deleted && m.entries[i].DocumentID == documentID {
			m.entries[i].deleted = true
		}
	}
	delete(m.live, documentID)
	m.tombstones += n

	if m.compactRatio > 0 && float64(m.tombstones) >= m.compactRatio*float64(len(m.entries)) {
		m.compactLocked()
	}
	return n, nil
}

// DeleteAll drops every entry.
func (m *Memory) DeleteAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.liveCount()
	m.entries = nil
	m.live = make(map[string]int)
	m.tombstones = 0
	return n, nil
}

// Search returns at most k hits ordered by descending similarity. Ties keep
// insertion order. A non-empty documentID restricts the search to that
// document.
func (m *Memory) Search(ctx context.Context, query []float32, k int, documentID string) ([]domain.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.liveCount() == 0 {
		return nil, nil
	}
	if len(query) != m.dim {
		return nil, domain.ErrDimensionMismatch.Wrap(errDim(m.dim, len(query), "query"))
	}

	h := make(hitHeap, 0, k+1)
	for i := range m.entries {
		e := &m.entries[i]
		if e.deleted || (documentID != "" && e.DocumentID != documentID) {
			continue
		}
		c := candidate{entry: e, score: domain.Dot(query, e.Vector)}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if h.worse(0, c) {
			h[0] = c
			heap.Fix(&h, 0)
		}
		if i%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	sort.Slice(h, func(i, j int) bool { return h.better(h[i], h[j]) })

	hits := make([]domain.SearchHit, len(h))
	for i, c := range h {
		hits[i] = domain.SearchHit{
			ChunkID:    c.entry.ChunkID,
			DocumentID: c.entry.DocumentID,
			Seq:        c.entry.Seq,
			Text:       c.entry.Text,
			Page:       c.entry.Page,
			Score:      c.score,
		}
	}
	return hits, nil
}

// CountByDocument returns the number of live entries of a document.
func (m *Memory) CountByDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live[documentID], nil
}

// Compact rewrites the entry list without tombstones, preserving order.
// It returns the number of entries reclaimed.
func (m *Memory) Compact() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactLocked()
}

func (m *Memory) compactLocked() int {
	if m.tombstones == 0 {
		return 0
	}
	kept := make([]entry, 0, len(m.entries)-m.tombstones)
	for _, e := range m.entries {
		if !e.deleted {
			kept = append(kept, e)
		}
	}
	reclaimed := len(m.entries) - len(kept)
	m.entries = kept
	m.tombstones = 0
	return reclaimed
}

func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Live:       m.liveCount(),
		Tombstones: m.tombstones,
		Documents:  len(m.live),
		Dimension:  m.dim,
		Tag:        m.tag,
	}
}

func (m *Memory) liveCount() int {
	return len(m.entries) - m.tombstones
}

type candidate struct {
	entry *entry
	score float32
}

// hitHeap keeps the worst retained candidate at the root.
type hitHeap []candidate

func (h hitHeap) better(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.entry.seq < b.entry.seq
}

// worse reports whether the candidate at i ranks below c.
func (h hitHeap) worse(i int, c candidate) bool {
	return h.better(c, h[i])
}

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return h.better(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
