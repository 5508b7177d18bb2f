// Package ollama talks to a local Ollama server for embeddings and
// streamed chat completions.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/cloo-solutions/lightrag/internal/service"
)

const (
	Name                  = "ollama"
	DefaultBaseURL        = "http://localhost:11434"
	DefaultChatModel      = "llama3"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultTimeout        = 5 * time.Minute
	// BatchSize keeps each /api/embed call small enough for CPU-only hosts.
	BatchSize             = 32
)

var (
	_ service.EmbeddingProvider = (*Client)(nil)
	_ service.BatchSizer        = (*Client)(nil)
	_ service.Generator         = (*Client)(nil)
)

type Config struct {
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	// Timeout bounds embedding requests. Chat streams are bounded by their
	// context only.
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	http           *http.Client
	baseURL        string
	chatModel      string
	embeddingModel string
	timeout        time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		http:           cfg.HTTPClient,
		baseURL:        cfg.BaseURL,
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		timeout:        cfg.Timeout,
	}
}

func (c *Client) Name() string           { return Name }
func (c *Client) ChatModel() string      { return c.chatModel }
func (c *Client) EmbeddingModel() string { return c.embeddingModel }
func (c *Client) BatchSize() int         { return BatchSize }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChunk struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// Embed embeds all texts in one /api/embed call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, "/api/embed", embedRequest{Model: c.embeddingModel, Input: texts})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Embeddings, nil
}

// GenerateStream starts a streamed /api/chat completion.
func (c *Client) GenerateStream(ctx context.Context, prompt service.Prompt) (service.TokenStream, error) {
	resp, err := c.post(ctx, "/api/chat", chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Stream: true,
	})
	if err != nil {
		return nil, err
	}
	return &chatStream{body: resp.Body, scanner: newLineScanner(resp.Body)}, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.ErrProviderUnavailable.Wrap(fmt.Errorf("ollama: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, msg)
	}
	return resp, nil
}

func statusError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	text := string(body)
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		text = e.Error
	}
	err := fmt.Errorf("ollama error (status %d): %s", status, text)
	if status == http.StatusTooManyRequests || status >= 500 {
		return domain.ErrProviderUnavailable.Wrap(err)
	}
	return err
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return s
}

// chatStream decodes Ollama's newline-delimited JSON stream.
type chatStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *chatStream) Recv() (string, error) {
	for !s.done {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", errors.New("ollama: " + chunk.Error)
		}
		s.done = chunk.Done
		if chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
	return "", io.EOF
}

func (s *chatStream) Close() error {
	return s.body.Close()
}
