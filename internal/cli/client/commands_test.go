package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	useConfigPath(t)
	t.Setenv(envAPIToken, "")
	t.Setenv(envAPIURL, srv.URL)

	root := &cobra.Command{Use: "lightrag", SilenceUsage: true, SilenceErrors: true}
	RootFlags(root)
	root.AddCommand(UploadCmd(), ListCmd(), QueryCmd(), DeleteCmd(), ModelCmd(), ConfigCmd())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestListCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") == "legacy" {
			w.Write([]byte(`["a.pdf"]`))
			return
		}
		w.Write([]byte(`[{"filename":"a.pdf","size":1024,"pages":3}]`))
	}))
	defer srv.Close()

	out, err := run(t, srv, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "FILENAME")
	assert.Contains(t, out, "a.pdf")
	assert.Contains(t, out, "1024")

	out, err = run(t, srv, "list", "--legacy")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf\n", out)

	out, err = run(t, srv, "list", "--output")
	require.NoError(t, err)
	var docs []DocumentItem
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	assert.Equal(t, 3, docs[0].Pages)
}

func TestQueryCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is it", req.Query)
		assert.Equal(t, "a.pdf", req.Filename)
		w.Write([]byte("An answer."))
	}))
	defer srv.Close()

	out, err := run(t, srv, "query", "what", "is", "it", "--file", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "An answer.\n", out)
}

func TestDeleteCmd(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		paths = append(paths, r.URL.EscapedPath())
		w.Write([]byte(`{"success":"done"}`))
	}))
	defer srv.Close()

	_, err := run(t, srv, "delete", "my report.pdf")
	require.NoError(t, err)
	_, err = run(t, srv, "delete", "--all")
	require.NoError(t, err)
	assert.Equal(t, []string{"/delete/my%20report.pdf", "/delete_all"}, paths)

	_, err = run(t, srv, "delete")
	assert.Error(t, err)
	_, err = run(t, srv, "delete", "--all", "a.pdf")
	assert.Error(t, err)
}

func TestModelCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/get_model":
			w.Write([]byte(`{"provider":"ollama"}`))
		case "/select_model":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Invalid model provider"}`))
		}
	}))
	defer srv.Close()

	out, err := run(t, srv, "model")
	require.NoError(t, err)
	assert.Equal(t, "ollama\n", out)

	_, err = run(t, srv, "model", "claude")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid model provider")
}

func TestConfigCmd(t *testing.T) {
	useConfigPath(t)
	root := &cobra.Command{Use: "lightrag"}
	root.AddCommand(ConfigCmd())
	var out bytes.Buffer
	root.SetOut(&out)

	root.SetArgs([]string{"config", "set", "--url", "http://rag:8080", "--token", "t"})
	require.NoError(t, root.Execute())

	cfg, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://rag:8080", cfg.APIURL)
	assert.Equal(t, "t", cfg.APIToken)

	out.Reset()
	root.SetArgs([]string{"config", "show"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "http://rag:8080")
	assert.NotContains(t, out.String(), "api_token: t\n")
}
