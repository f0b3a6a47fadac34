package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("ghp_test").WithBaseURL(srv.URL)
}

func TestRequestHeaders(t *testing.T) {
	var gotAuth, gotAccept, gotAgent string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotAgent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"full_name":"octo/hello","stargazers_count":3}`))
	})

	_, err := c.GetRepo(context.Background(), "octo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Bearer ghp_test", gotAuth)
	assert.Equal(t, "application/vnd.github.v3+json", gotAccept)
	assert.True(t, strings.HasPrefix(gotAgent, "opsforge/"), "user agent %q", gotAgent)
}

func TestSearchRepos(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/repositories", r.URL.Path)
		assert.Equal(t, "nginx config", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("per_page"))
		_, _ = w.Write([]byte(`{
			"total_count": 2,
			"items": [
				{"full_name": "a/one", "stargazers_count": 100, "language": "Go", "description": "first"},
				{"full_name": "b/two", "stargazers_count": 7, "language": "Shell", "description": "second"}
			]
		}`))
	})

	out, err := c.SearchRepos(context.Background(), "nginx config", 5)
	require.NoError(t, err)
	assert.Contains(t, out, "2 repositories found")
	assert.Contains(t, out, "a/one ★100 [Go] first")
	assert.Contains(t, out, "b/two ★7 [Shell] second")
}

func TestGetFileDecodesBase64(t *testing.T) {
	content := base64.StdEncoding.EncodeToString([]byte("server {\n  listen 80;\n}\n"))
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/hello/contents/nginx.conf", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name": "nginx.conf", "encoding": "base64", "content": content,
		})
	})

	out, err := c.GetFile(context.Background(), "octo", "hello", "nginx.conf", "main")
	require.NoError(t, err)
	assert.Equal(t, "server {\n  listen 80;\n}\n", out)
}

func TestCreateFileUpdateFetchesBlobSHA(t *testing.T) {
	var putBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"sha": "abc123", "encoding": "base64", "content": ""}`))
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&putBody))
			_, _ = w.Write([]byte(`{"commit": {"sha": "deadbeefcafe"}, "content": {"html_url": "x"}}`))
		}
	})

	out, err := c.CreateFile(context.Background(), "octo", "hello", "README.md", "hi", "update readme", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "deadbeef")
	assert.Equal(t, "abc123", putBody["sha"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hi")), putBody["content"])
	assert.Equal(t, "main", putBody["branch"])
}

func TestCreateFileNewPathSkipsSHA(t *testing.T) {
	var putBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message": "Not Found"}`))
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&putBody))
			_, _ = w.Write([]byte(`{"commit": {"sha": "0011223344"}, "content": {}}`))
		}
	})

	_, err := c.CreateFile(context.Background(), "octo", "hello", "new.txt", "x", "add", "")
	require.NoError(t, err)
	_, hasSHA := putBody["sha"]
	assert.False(t, hasSHA)
}

func TestAPIErrorSurfacesStatusAndMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "API rate limit exceeded"}`))
	})

	_, err := c.ListBranches(context.Background(), "octo", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "rate limit")
}

func TestListIssuesDefaultsState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		_, _ = w.Write([]byte(`[{"number": 12, "title": "broken build", "state": "open"}]`))
	})

	out, err := c.ListIssues(context.Background(), "octo", "hello", "", 0)
	require.NoError(t, err)
	assert.Contains(t, out, "#12 [open] broken build")
}
