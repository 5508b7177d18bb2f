//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/lightrag/internal/api/handlers"
	"github.com/cloo-solutions/lightrag/internal/extract"
	"github.com/cloo-solutions/lightrag/internal/health"
	"github.com/cloo-solutions/lightrag/internal/repository"
	"github.com/cloo-solutions/lightrag/internal/server"
	"github.com/cloo-solutions/lightrag/internal/service"
	"github.com/cloo-solutions/lightrag/internal/storage"
	"github.com/cloo-solutions/lightrag/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const apiToken = "e2e-token"

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	S3Client     *storage.S3Client
	ServerURL    string
	ServerCloser func()
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts Postgres and RustFS and serves the API on a free port.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "e2e-documents",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		S3Client:   s3Client,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	env.ServerURL, env.ServerCloser = env.startServer(port)
	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinaries builds the lightrag CLI
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "lightrag-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "lightrag"), "./cmd/lightrag")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build lightrag: %v\n%s", err, out)
	}
}

// RunCLI runs the lightrag CLI against the test server
func (e *E2ETestEnv) RunCLI(workDir string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "lightrag"), args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("LIGHTRAG_API_TOKEN=%s", apiToken),
		fmt.Sprintf("LIGHTRAG_API_URL=%s", e.ServerURL),
		// Keep the developer's saved CLI config out of the run.
		fmt.Sprintf("XDG_CONFIG_HOME=%s", workDir),
		fmt.Sprintf("HOME=%s", workDir),
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Response is a raw API response.
type Response struct {
	Status int
	Body   []byte
}

// Decode unmarshals the body into out.
func (r *Response) Decode(out any) error {
	return json.Unmarshal(r.Body, out)
}

func (e *E2ETestEnv) Get(path string) (*Response, error) {
	return e.doRequest(http.MethodGet, path, nil, "")
}

func (e *E2ETestEnv) Post(path string, body any) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}
	return e.doRequest(http.MethodPost, path, bytes.NewReader(data), "application/json")
}

func (e *E2ETestEnv) Delete(path string) (*Response, error) {
	return e.doRequest(http.MethodDelete, path, nil, "")
}

// Upload sends content as a multipart file named filename.
func (e *E2ETestEnv) Upload(filename string, content []byte, async bool) (*Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	path := "/upload"
	if async {
		path += "?async=true"
	}
	return e.doRequest(http.MethodPost, path, &body, mw.FormDataContentType())
}

func (e *E2ETestEnv) doRequest(method, path string, body io.Reader, contentType string) (*Response, error) {
	req, err := http.NewRequestWithContext(e.Ctx, method, e.ServerURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// letterEmbedder maps text to letter frequencies so texts sharing
// vocabulary rank above unrelated ones.
type letterEmbedder struct{}

func (letterEmbedder) Name() string           { return "e2e" }
func (letterEmbedder) EmbeddingModel() string { return "letters" }

func (letterEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 27)
		v[26] = 1
		for _, r := range strings.ToLower(t) {
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			}
		}
		out[i] = v
	}
	return out, nil
}

// contextEcho answers with the context block of the prompt it was given.
type contextEcho struct{}

func (contextEcho) Name() string      { return "ollama" }
func (contextEcho) ChatModel() string { return "echo" }

func (contextEcho) GenerateStream(_ context.Context, p service.Prompt) (service.TokenStream, error) {
	text := p.User
	if i := strings.Index(text, "Context:\n"); i >= 0 {
		text = text[i+len("Context:\n"):]
	}
	if i := strings.Index(text, "\n\nQuestion:"); i >= 0 {
		text = text[:i]
	}
	return &wordStream{words: strings.Fields(text)}, nil
}

type wordStream struct {
	words []string
}

func (s *wordStream) Recv() (string, error) {
	if len(s.words) == 0 {
		return "", io.EOF
	}
	w := s.words[0]
	s.words = s.words[1:]
	return w + " ", nil
}

func (s *wordStream) Close() error { return nil }

// startServer wires the Postgres and S3 backends into the router.
func (e *E2ETestEnv) startServer(port int) (string, func()) {
	t := e.T

	docs := repository.NewDocumentRepository(e.Pool)
	idx := repository.NewChunkIndex(e.Pool)

	chunker, err := service.NewChunker(service.ChunkConfig{MaxChars: 300, MinChars: 20, Overlap: 30})
	if err != nil {
		t.Fatalf("failed to create chunker: %v", err)
	}
	embedder := service.NewEmbeddingGateway(letterEmbedder{}, service.EmbeddingConfig{})

	tracker := service.NewProgressTracker(time.Hour)
	pipeline := service.NewIngestionPipeline(docs, e.S3Client, extract.New(), chunker, embedder, idx, nil,
		tracker, service.IngestionConfig{MaxFileSize: 5 << 20, MaxPages: 50, Timeout: time.Minute})

	registry := service.NewProviderRegistry()
	registry.Register(contextEcho{})
	registry.RegisterUnavailable("openai", errors.New("OPENAI_API_KEY is not set"))

	engine := service.NewQueryEngine(docs, idx, embedder, registry, service.NewPromptBuilder(nil, 0), 3)
	documents := service.NewDocumentService(docs, idx, e.S3Client, pipeline)

	router := server.NewRouter(server.RouterConfig{
		APIToken:        apiToken,
		MaxUploadBytes:  6 << 20,
		DocumentHandler: handlers.NewDocumentHandler(documents, tracker),
		UploadHandler:   handlers.NewUploadHandler(pipeline),
		QueryHandler:    handlers.NewQueryHandler(engine),
		ModelHandler:    handlers.NewModelHandler(registry),
		HealthHandler:   handlers.NewHealthHandler(health.NewMonitor(os.TempDir(), health.Thresholds{}, 0)),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		pipeline.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
