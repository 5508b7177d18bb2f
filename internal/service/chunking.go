package service

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/cloo-solutions/lightrag/internal/domain"
)

// PageSeparator joins extracted pages before chunking.
const PageSeparator = "\n\n"

// ChunkConfig controls how extracted text is split. Sizes count runes.
type ChunkConfig struct {
	MaxChars int
	MinChars int
	Overlap  int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars: 1000,
		MinChars: 200,
		Overlap:  100,
	}
}

// Chunker splits text into overlapping windows. It is deterministic and
// never trims, so the chunks of a text always reassemble into that text.
type Chunker struct {
	cfg ChunkConfig
}

func NewChunker(cfg ChunkConfig) (*Chunker, error) {
	if cfg.MaxChars <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.MaxChars)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxChars {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", cfg.Overlap, cfg.MaxChars)
	}
	if cfg.MinChars < 0 || cfg.MinChars >= cfg.MaxChars {
		return nil, fmt.Errorf("minimum chunk size %d must be in [0, %d)", cfg.MinChars, cfg.MaxChars)
	}
	return &Chunker{cfg: cfg}, nil
}

func (c *Chunker) Config() ChunkConfig {
	return c.cfg
}

// Chunk splits text into chunks for documentID. Page numbers are left zero.
func (c *Chunker) Chunk(documentID, text string) []domain.Chunk {
	return c.split(documentID, []rune(text), nil)
}

// ChunkPages joins pages with PageSeparator and splits the result, tagging
// each chunk with the 1-based page its first rune came from.
func (c *Chunker) ChunkPages(documentID string, pages []string) []domain.Chunk {
	text, starts := JoinPages(pages)
	return c.split(documentID, []rune(text), starts)
}

func (c *Chunker) split(documentID string, runes []rune, pageStarts []int) []domain.Chunk {
	if strings.TrimSpace(string(runes)) == "" {
		return nil
	}

	n := len(runes)
	minLen := c.cfg.MinChars
	if minLen < c.cfg.Overlap+1 {
		minLen = c.cfg.Overlap + 1
	}

	chunks := make([]domain.Chunk, 0, n/c.cfg.MaxChars+1)
	start, overlap := 0, 0
	for {
		end := start + c.cfg.MaxChars
		if end >= n {
			end = n
		} else {
			minCut := start + minLen
			for i := end; i > minCut; i-- {
				if unicode.IsSpace(runes[i-1]) {
					end = i
					break
				}
			}
		}

		chunks = append(chunks, domain.Chunk{
			DocumentID: documentID,
			Seq:        len(chunks),
			Text:       string(runes[start:end]),
			Start:      start,
			End:        end,
			Overlap:    overlap,
			Page:       pageAt(pageStarts, start),
		})

		if end == n {
			return chunks
		}
		start, overlap = end-c.cfg.Overlap, c.cfg.Overlap
	}
}

// Reconstruct reassembles the source text from ordered chunks.
func Reconstruct(chunks []domain.Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		runes := []rune(ch.Text)
		if ch.Overlap > len(runes) {
			continue
		}
		b.WriteString(string(runes[ch.Overlap:]))
	}
	return b.String()
}

// JoinPages concatenates pages and returns the rune offset at which each
// page starts.
func JoinPages(pages []string) (string, []int) {
	var b strings.Builder
	starts := make([]int, len(pages))
	offset := 0
	sepLen := len([]rune(PageSeparator))
	for i, p := range pages {
		if i > 0 {
			b.WriteString(PageSeparator)
			offset += sepLen
		}
		starts[i] = offset
		b.WriteString(p)
		offset += len([]rune(p))
	}
	return b.String(), starts
}

func pageAt(starts []int, offset int) int {
	if len(starts) == 0 {
		return 0
	}
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > offset })
	if i == 0 {
		return 1
	}
	return i
}
