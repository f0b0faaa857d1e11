package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an embedded, in-process VectorStore using brute-force
// cosine similarity. It backs tests and offline/single-shot CLI use where
// a Qdrant instance is not available. Records are kept in insertion order,
// which also serves as the tie-break for equal scores: earlier inserted
// ranks higher.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    []Document
	vectors [][]float32
	// index maps document ID to its position in docs, making Upsert
	// idempotent by ID.
	index map[string]int
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

// Upsert stores or replaces documents by ID.
func (m *MemoryStore) Upsert(_ context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("rag: %d documents but %d embeddings", len(docs), len(embeddings))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, doc := range docs {
		if pos, ok := m.index[doc.ID]; ok {
			m.docs[pos] = doc
			m.vectors[pos] = embeddings[i]
			continue
		}
		m.index[doc.ID] = len(m.docs)
		m.docs = append(m.docs, doc)
		m.vectors = append(m.vectors, embeddings[i])
	}
	return nil
}

// Search returns the topK documents by descending cosine similarity.
// An empty store yields an empty slice.
func (m *MemoryStore) Search(_ context.Context, queryEmbedding []float32, topK int, filter map[string]string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		pos   int
		score float32
	}

	candidates := make([]scored, 0, len(m.docs))
	for pos := range m.docs {
		if !matchesFilter(&m.docs[pos], filter) {
			continue
		}
		candidates = append(candidates, scored{pos: pos, score: CosineSimilarity(queryEmbedding, m.vectors[pos])})
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if topK > 0 && topK < len(candidates) {
		candidates = candidates[:topK]
	}

	results := make([]Document, 0, len(candidates))
	for _, c := range candidates {
		doc := m.docs[c.pos]
		doc.Score = c.score
		results = append(results, doc)
	}
	return results, nil
}

// Count returns the number of stored records.
func (m *MemoryStore) Count(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.docs)), nil
}

// Delete removes documents by ID. Positions of the remaining documents are
// preserved so insertion-order tie-breaking stays stable.
func (m *MemoryStore) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	docs := m.docs[:0]
	vectors := m.vectors[:0]
	index := make(map[string]int, len(m.index))
	for pos, doc := range m.docs {
		if drop[doc.ID] {
			continue
		}
		index[doc.ID] = len(docs)
		docs = append(docs, doc)
		vectors = append(vectors, m.vectors[pos])
	}
	m.docs = docs
	m.vectors = vectors
	m.index = index
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

// matchesFilter reports whether doc carries every key-value pair in filter.
// Source is addressable under the "source" key to mirror the Qdrant payload.
func matchesFilter(doc *Document, filter map[string]string) bool {
	for k, v := range filter {
		if k == "source" {
			if doc.Source != v {
				return false
			}
			continue
		}
		if doc.Metadata[k] != v {
			return false
		}
	}
	return true
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero-magnitude vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
