// Package openai adapts the OpenAI API for embeddings and streamed chat
// completions.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/cloo-solutions/lightrag/internal/service"
	openai "github.com/sashabaranov/go-openai"
)

const (
	Name                  = "openai"
	DefaultChatModel      = openai.GPT3Dot5Turbo
	DefaultEmbeddingModel = string(openai.SmallEmbedding3)
	// BatchSize is the number of inputs sent per embeddings request.
	BatchSize             = 256
)

// ErrNoAPIKey is returned when the OpenAI API key is not configured.
var ErrNoAPIKey = errors.New("OpenAI API key is not set")

var (
	_ service.EmbeddingProvider = (*Client)(nil)
	_ service.BatchSizer        = (*Client)(nil)
	_ service.Generator         = (*Client)(nil)
)

// ChatStream yields completion deltas until io.EOF.
type ChatStream interface {
	Recv() (string, error)
	Close() error
}

// API is the subset of the OpenAI API the client uses.
type API interface {
	CreateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error)
	CreateChatStream(ctx context.Context, model string, messages []openai.ChatCompletionMessage) (ChatStream, error)
}

// OpenAIAdapter implements API with go-openai.
type OpenAIAdapter struct {
	client *openai.Client
}

func NewOpenAIAdapter(apiKey, baseURL string) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAdapter{client: openai.NewClientWithConfig(cfg)}
}

// CreateEmbeddings returns one vector per text, in input order.
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, err
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (a *OpenAIAdapter) CreateChatStream(ctx context.Context, model string, messages []openai.ChatCompletionMessage) (ChatStream, error) {
	stream, err := a.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}
	return &completionStream{stream: stream}, nil
}

type completionStream struct {
	stream *openai.ChatCompletionStream
}

func (s *completionStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
		if resp.Choices[0].FinishReason != "" {
			return "", io.EOF
		}
	}
}

func (s *completionStream) Close() error {
	return s.stream.Close()
}

type Config struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

// Client serves as both embedding provider and generator.
type Client struct {
	api            API
	chatModel      string
	embeddingModel string
}

// NewClient fails with ErrNoAPIKey when no key is configured.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClientWithAPI(NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL), cfg), nil
}

// NewClientWithAPI builds a client on an arbitrary API implementation.
func NewClientWithAPI(api API, cfg Config) *Client {
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	return &Client{api: api, chatModel: cfg.ChatModel, embeddingModel: cfg.EmbeddingModel}
}

func (c *Client) Name() string           { return Name }
func (c *Client) ChatModel() string      { return c.chatModel }
func (c *Client) EmbeddingModel() string { return c.embeddingModel }
func (c *Client) BatchSize() int         { return BatchSize }

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := c.api.CreateEmbeddings(ctx, c.embeddingModel, texts)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("failed to create embeddings: %w", err))
	}
	return vectors, nil
}

func (c *Client) GenerateStream(ctx context.Context, prompt service.Prompt) (service.TokenStream, error) {
	stream, err := c.api.CreateChatStream(ctx, c.chatModel, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
		{Role: openai.ChatMessageRoleUser, Content: prompt.User},
	})
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("failed to start completion: %w", err))
	}
	return stream, nil
}

// classify marks transient failures (transport errors, rate limits and
// server errors) as provider unavailability so callers retry them.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && retryableStatus(apiErr.HTTPStatusCode) {
		return domain.ErrProviderUnavailable.Wrap(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && retryableStatus(reqErr.HTTPStatusCode) {
		return domain.ErrProviderUnavailable.Wrap(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ErrProviderUnavailable.Wrap(err)
	}
	return err
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
