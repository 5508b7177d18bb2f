// Package client implements the lightrag command line client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envAPIToken = "LIGHTRAG_API_TOKEN"
	envAPIURL   = "LIGHTRAG_API_URL"

	defaultAPIURL = "http://localhost:8080"
	// Uploads index synchronously, which can take minutes for large PDFs.
	defaultTimeout = 15 * time.Minute
)

type APIClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// NewAPIClientWithCmd resolves the connection with the cascade
// flag → env → global config → default. A nil cmd skips the flags.
func NewAPIClientWithCmd(cmd *cobra.Command) (*APIClient, error) {
	_ = godotenv.Load()

	var apiToken, baseURL string

	if cmd != nil {
		if v, err := cmd.Flags().GetString("api-token"); err == nil && v != "" {
			apiToken = v
		}
		if v, err := cmd.Flags().GetString("api-url"); err == nil && v != "" {
			baseURL = v
		}
	}

	if apiToken == "" {
		apiToken = os.Getenv(envAPIToken)
	}
	if baseURL == "" {
		baseURL = os.Getenv(envAPIURL)
	}

	if apiToken == "" || baseURL == "" {
		globalConfig, err := LoadGlobalConfig()
		if err != nil {
			return nil, err
		}
		if globalConfig != nil {
			if apiToken == "" {
				apiToken = globalConfig.APIToken
			}
			if baseURL == "" {
				baseURL = globalConfig.APIURL
			}
		}
	}

	if baseURL == "" {
		baseURL = defaultAPIURL
	}

	return NewAPIClientWithConfig(apiToken, baseURL), nil
}

// NewAPIClientWithConfig creates an APIClient with explicit settings. An
// empty token sends no Authorization header.
func NewAPIClientWithConfig(apiToken, baseURL string) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
	// Remaining lists documents a failed delete-all left behind.
	Remaining []string
}

func (e *APIError) Error() string {
	if len(e.Remaining) > 0 {
		return fmt.Sprintf("API error (%d): %s (remaining: %s)", e.StatusCode, e.Message, strings.Join(e.Remaining, ", "))
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// SuccessResponse is the body of mutating endpoints.
type SuccessResponse struct {
	Success string `json:"success"`
}

// Get performs a GET request and decodes the JSON answer into out.
func (c *APIClient) Get(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// Post performs a POST request with a JSON body.
func (c *APIClient) Post(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *APIClient) Delete(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, out)
}

// Upload sends a file as the multipart "file" field of POST /upload.
func (c *APIClient) Upload(ctx context.Context, filePath string, async bool, out any) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(filePath))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	path := "/upload"
	if async {
		path += "?async=true"
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.send(req, out)
}

// Stream posts a JSON body and copies the plain text answer to w as it
// arrives.
func (c *APIClient) Stream(ctx context.Context, path string, body any, w io.Writer) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return nil
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newJSONRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *APIClient) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *APIClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	return req, nil
}

func (c *APIClient) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var payload struct {
		Error     string   `json:"error"`
		Remaining []string `json:"remaining"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: payload.Error, Remaining: payload.Remaining}
}

// documentPath builds a route with an escaped filename segment.
func documentPath(prefix, filename string) string {
	return prefix + "/" + url.PathEscape(filename)
}
