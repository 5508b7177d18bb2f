package service

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/pkoukk/tiktoken-go"
)

const (
	SystemPrompt = "You are a helpful assistant that answers questions based on the provided context."

	promptTemplate = "Based on the following context, please answer the question.\n\nContext:\n%s\n\nQuestion: %s\n\nAnswer:"

	contextSeparator = "\n\n"
)

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with a tiktoken encoding. When the encoding
// cannot be loaded it falls back to one token per four runes.
type TiktokenCounter struct {
	model string
	once  sync.Once
	enc   *tiktoken.Tiktoken
}

func NewTiktokenCounter(model string) *TiktokenCounter {
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return &TiktokenCounter{model: model}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens approximates a token count from rune length.
func EstimateTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

type runeCounter struct{}

func (runeCounter) Count(text string) int { return EstimateTokens(text) }

// PromptBuilder assembles grounded prompts within a token budget.
type PromptBuilder struct {
	counter TokenCounter
	budget  int
}

// NewPromptBuilder returns a builder that keeps retrieved context within
// budget tokens. A non-positive budget disables truncation.
func NewPromptBuilder(counter TokenCounter, budget int) *PromptBuilder {
	if counter == nil {
		counter = runeCounter{}
	}
	return &PromptBuilder{counter: counter, budget: budget}
}

// Build returns the prompt for query over ranked hits and the hits that made
// it into the context. Lower-ranked hits are dropped first when the budget
// is exceeded.
func (b *PromptBuilder) Build(query string, hits []domain.SearchHit) (Prompt, []domain.SearchHit) {
	kept := hits
	if b.budget > 0 {
		used := 0
		kept = make([]domain.SearchHit, 0, len(hits))
		for _, h := range hits {
			cost := b.counter.Count(h.Text)
			if len(kept) > 0 {
				cost += b.counter.Count(contextSeparator)
			}
			if used+cost > b.budget {
				break
			}
			used += cost
			kept = append(kept, h)
		}
	}

	texts := make([]string, len(kept))
	for i, h := range kept {
		texts[i] = h.Text
	}

	return Prompt{
		System: SystemPrompt,
		User:   fmt.Sprintf(promptTemplate, strings.Join(texts, contextSeparator), query),
	}, kept
}
