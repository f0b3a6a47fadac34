// Package github executes the GitHub tool family over the REST API using
// the user's stored token. These operations never touch the SSH path.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opsforge/opsforge/pkg/version"
)

const defaultBaseURL = "https://api.github.com"

// Client is a thin, token-scoped GitHub REST client.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// New builds a client for one user token.
func New(token string) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL points the client at a different API host. Test hook.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

// apiError carries the HTTP status for non-2xx responses; the dispatcher
// returns it to the LLM as tool-result data.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("github api error %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", version.Full())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("github: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ghErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &ghErr)
		if ghErr.Message == "" {
			ghErr.Message = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: ghErr.Message}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("github: decode response: %w", err)
		}
	}
	return nil
}

type repo struct {
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	Stars         int    `json:"stargazers_count"`
	Language      string `json:"language"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
}

// SearchRepos searches repositories and renders a compact listing.
func (c *Client) SearchRepos(ctx context.Context, query string, limit int) (string, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	q := url.Values{"q": {query}, "per_page": {fmt.Sprint(limit)}}
	var result struct {
		TotalCount int    `json:"total_count"`
		Items      []repo `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/search/repositories", q, nil, &result); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d repositories found\n", result.TotalCount)
	for _, r := range result.Items {
		fmt.Fprintf(&b, "%s ★%d [%s] %s\n", r.FullName, r.Stars, r.Language, r.Description)
	}
	return b.String(), nil
}

// GetRepo fetches repository metadata.
func (c *Client) GetRepo(ctx context.Context, owner, name string) (string, error) {
	var r repo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, name), nil, nil, &r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s ★%d [%s] default branch %s\n%s\n%s",
		r.FullName, r.Stars, r.Language, r.DefaultBranch, r.Description, r.HTMLURL), nil
}

type contentEntry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Size     int    `json:"size"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// ListContents lists a directory in a repository.
func (c *Client) ListContents(ctx context.Context, owner, name, path, ref string) (string, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	var entries []contentEntry
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, name, path), q, nil, &entries); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%-4s %8d  %s\n", e.Type, e.Size, e.Path)
	}
	return b.String(), nil
}

// GetFile fetches and decodes one file.
func (c *Client) GetFile(ctx context.Context, owner, name, path, ref string) (string, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	var entry contentEntry
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, name, path), q, nil, &entry); err != nil {
		return "", err
	}
	if entry.Encoding != "base64" {
		return entry.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(entry.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("github: decode file content: %w", err)
	}
	return string(decoded), nil
}

// SearchCode searches code across GitHub.
func (c *Client) SearchCode(ctx context.Context, query string, limit int) (string, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	q := url.Values{"q": {query}, "per_page": {fmt.Sprint(limit)}}
	var result struct {
		TotalCount int `json:"total_count"`
		Items      []struct {
			Path       string `json:"path"`
			Repository struct {
				FullName string `json:"full_name"`
			} `json:"repository"`
			HTMLURL string `json:"html_url"`
		} `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/search/code", q, nil, &result); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d matches\n", result.TotalCount)
	for _, item := range result.Items {
		fmt.Fprintf(&b, "%s: %s\n", item.Repository.FullName, item.Path)
	}
	return b.String(), nil
}

// ListCommits lists recent commits on a ref.
func (c *Client) ListCommits(ctx context.Context, owner, name, ref string, limit int) (string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := url.Values{"per_page": {fmt.Sprint(limit)}}
	if ref != "" {
		q.Set("sha", ref)
	}
	var commits []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string `json:"name"`
				Date string `json:"date"`
			} `json:"author"`
		} `json:"commit"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/commits", owner, name), q, nil, &commits); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, commit := range commits {
		subject := commit.Commit.Message
		if i := strings.IndexByte(subject, '\n'); i >= 0 {
			subject = subject[:i]
		}
		fmt.Fprintf(&b, "%.8s %s (%s, %s)\n", commit.SHA, subject, commit.Commit.Author.Name, commit.Commit.Author.Date)
	}
	return b.String(), nil
}

// ListBranches lists branches.
func (c *Client) ListBranches(ctx context.Context, owner, name string) (string, error) {
	var branches []struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/branches", owner, name), nil, nil, &branches); err != nil {
		return "", err
	}
	names := make([]string, len(branches))
	for i, br := range branches {
		names[i] = br.Name
	}
	return strings.Join(names, "\n"), nil
}

type issue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
}

// ListIssues lists issues filtered by state.
func (c *Client) ListIssues(ctx context.Context, owner, name, state string, limit int) (string, error) {
	if state == "" {
		state = "open"
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := url.Values{"state": {state}, "per_page": {fmt.Sprint(limit)}}
	var issues []issue
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues", owner, name), q, nil, &issues); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, is := range issues {
		fmt.Fprintf(&b, "#%d [%s] %s\n", is.Number, is.State, is.Title)
	}
	return b.String(), nil
}

// CreateIssue opens a new issue and returns its number and URL.
func (c *Client) CreateIssue(ctx context.Context, owner, name, title, body string) (string, error) {
	var created issue
	payload := map[string]string{"title": title}
	if body != "" {
		payload["body"] = body
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues", owner, name), nil, payload, &created); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created issue #%d: %s", created.Number, created.HTMLURL), nil
}

// ListPullRequests lists pull requests filtered by state.
func (c *Client) ListPullRequests(ctx context.Context, owner, name, state string, limit int) (string, error) {
	if state == "" {
		state = "open"
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := url.Values{"state": {state}, "per_page": {fmt.Sprint(limit)}}
	var prs []issue
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls", owner, name), q, nil, &prs); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, pr := range prs {
		fmt.Fprintf(&b, "#%d [%s] %s\n", pr.Number, pr.State, pr.Title)
	}
	return b.String(), nil
}

// CreateFile creates or updates a file via the contents API. Updates
// require the existing blob SHA, fetched first; creation proceeds when
// the path does not exist yet.
func (c *Client) CreateFile(ctx context.Context, owner, name, path, content, message, branch string) (string, error) {
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
	}
	if branch != "" {
		payload["branch"] = branch
	}

	q := url.Values{}
	if branch != "" {
		q.Set("ref", branch)
	}
	var existing contentEntry
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, name, path), q, nil, &existing)
	switch {
	case err == nil && existing.SHA != "":
		payload["sha"] = existing.SHA
	case err != nil:
		var apiErr *apiError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
			return "", err
		}
	}

	var result struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
		Content struct {
			HTMLURL string `json:"html_url"`
		} `json:"content"`
	}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, name, path), nil, payload, &result); err != nil {
		return "", err
	}
	return fmt.Sprintf("Committed %s (%.8s)", path, result.Commit.SHA), nil
}
