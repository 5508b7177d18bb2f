package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Chunk is a contiguous segment of a document's extracted text. Start and
// End are rune offsets into the extracted text; the first Overlap runes of
// Text repeat the tail of the previous chunk.
type Chunk struct {
	DocumentID string
	Seq        int
	Text       string
	Start      int
	End        int
	Overlap    int
	Page       int
}

// ID returns the chunk identity "<document id>#<seq>".
func (c Chunk) ID() string {
	return ChunkID(c.DocumentID, c.Seq)
}

// ChunkID formats a chunk identity.
func ChunkID(documentID string, seq int) string {
	return documentID + "#" + strconv.Itoa(seq)
}

// ParseChunkID splits a chunk identity into document id and sequence.
func ParseChunkID(id string) (string, int, error) {
	i := strings.LastIndexByte(id, '#')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed chunk id %q", id)
	}
	seq, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed chunk id %q: %w", id, err)
	}
	return id[:i], seq, nil
}

// IndexEntry is a chunk with its embedding, as stored in a vector index.
type IndexEntry struct {
	ChunkID    string
	DocumentID string
	Seq        int
	Text       string
	Page       int
	Vector     []float32
}

// NewIndexEntry pairs a chunk with its vector.
func NewIndexEntry(c Chunk, vector []float32) IndexEntry {
	return IndexEntry{
		ChunkID:    c.ID(),
		DocumentID: c.DocumentID,
		Seq:        c.Seq,
		Text:       c.Text,
		Page:       c.Page,
		Vector:     vector,
	}
}

// SearchHit is one ranked search result.
type SearchHit struct {
	ChunkID    string
	DocumentID string
	Seq        int
	Text       string
	Page       int
	Score      float32
}
