package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/cloo-solutions/lightrag/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.1,0.2],[0.3,0.4]]}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	vectors, err := client.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)
	assert.Equal(t, "ollama", client.Name())
	assert.Equal(t, "llama3", client.ChatModel())
	assert.Equal(t, 32, client.BatchSize())
}

func TestClient_EmbedErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		unavailable bool
	}{
		{name: "server error is retryable", status: http.StatusServiceUnavailable, body: `{"error":"model loading"}`, unavailable: true},
		{name: "rate limit is retryable", status: http.StatusTooManyRequests, body: `slow down`, unavailable: true},
		{name: "missing model is not", status: http.StatusNotFound, body: `{"error":"model not found"}`, unavailable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(Config{BaseURL: server.URL}).Embed(context.Background(), []string{"a"})
			require.Error(t, err)
			assert.Equal(t, tt.unavailable, domain.HasCode(err, domain.ErrCodeProviderUnavailable))
		})
	}
}

func TestClient_EmbedUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(Config{BaseURL: url}).Embed(context.Background(), []string{"a"})
	assert.True(t, domain.HasCode(err, domain.ErrCodeProviderUnavailable))
}

func TestClient_GenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief", req.Messages[0].Content)
		assert.Equal(t, "what is go?", req.Messages[1].Content)

		for _, tok := range []string{"Go ", "is ", "a language."} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", tok)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer server.Close()

	stream, err := NewClient(Config{BaseURL: server.URL}).GenerateStream(context.Background(),
		service.Prompt{System: "be brief", User: "what is go?"})
	require.NoError(t, err)
	defer stream.Close()

	text, err := service.CollectStream(stream)
	require.NoError(t, err)
	assert.Equal(t, "Go is a language.", text)
}

func TestClient_GenerateStreamErrorChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	}))
	defer server.Close()

	stream, err := NewClient(Config{BaseURL: server.URL}).GenerateStream(context.Background(), service.Prompt{User: "q"})
	require.NoError(t, err)
	defer stream.Close()

	tok, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", tok)

	_, err = stream.Recv()
	assert.ErrorContains(t, err, "model crashed")
}

func TestClient_GenerateStreamTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"cut"},"done":false}`)
	}))
	defer server.Close()

	stream, err := NewClient(Config{BaseURL: server.URL}).GenerateStream(context.Background(), service.Prompt{User: "q"})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv()
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
