package tools

import "encoding/json"

// githubTools operate over the GitHub REST API with the user's stored token,
// not over SSH. Only create_issue and create_file mutate.
func githubTools() []Definition {
	repoProps := `"owner": {"type": "string"}, "repo": {"type": "string"}`

	return []Definition{
		{
			Name:        "github_search_repos",
			Description: "Search GitHub repositories.",
			Category:    CategoryGitHub,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Search query, GitHub search syntax"},
					"limit": {"type": "integer", "minimum": 1, "maximum": 50}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        "github_get_repo",
			Description: "Get repository metadata.",
			Category:    CategoryGitHub,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + repoProps + `},
				"required": ["owner", "repo"]
			}`),
		},
		{
			Name:        "github_list_contents",
			Description: "List a directory in a repository.",
			Category:    CategoryGitHub,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + repoProps + `,
					"path": {"type": "string", "description": "Directory path, empty for root"},
					"ref": {"type": "string", "description": "Branch, tag, or commit"}
				},
				"required": ["owner", "repo"]
			}`),
		},
		{
			Name:        "github_get_file",
			Description: "Fetch a file's content from a repository.",
			Category:    CategoryGitHub,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + repoProps + `,
					"path": {"type": "string"},
					"ref": {"type": "string"}
				},
				"required": ["owner", "repo", "path"]
			}`),
		},
		{
			Name:        "github_search_code",
			Description: "Search code across GitHub.",
			Category:    CategoryGitHub,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"limit": {"type": "integer", "minimum": 1, "maximum": 50}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        "github_list_commits",
			Description: "List recent commits on a branch.",
			Category:    CategoryGitHub,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + repoProps + `,
					"ref": {"type": "string"},
					"limit": {"type": "integer", "minimum": 1, "maximum": 100}
				},
				"required": ["owner", "repo"]
			}`),
		},
		{
			Name:        "github_list_branches",
			Description: "List branches of a repository.",
			Category:    CategoryGitHub,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + repoProps + `},
				"required": ["owner", "repo"]
			}`),
		},
		{
			Name:        "github_list_issues",
			Description: "List open issues.",
			Category:    CategoryGitHub,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + repoProps + `,
					"state": {"type": "string", "enum": ["open", "closed", "all"]},
					"limit": {"type": "integer", "minimum": 1, "maximum": 100}
				},
				"required": ["owner", "repo"]
			}`),
		},
		{
			Name:        "github_create_issue",
			Description: "Open a new issue.",
			Category:    CategoryGitHub,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + repoProps + `,
					"title": {"type": "string"},
					"body": {"type": "string"}
				},
				"required": ["owner", "repo", "title"]
			}`),
		},
		{
			Name:        "github_list_pull_requests",
			Description: "List pull requests.",
			Category:    CategoryGitHub,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + repoProps + `,
					"state": {"type": "string", "enum": ["open", "closed", "all"]},
					"limit": {"type": "integer", "minimum": 1, "maximum": 100}
				},
				"required": ["owner", "repo"]
			}`),
		},
		{
			Name:        "github_create_file",
			Description: "Create or update a file via the contents API (base64 body, blob SHA on update).",
			Category:    CategoryGitHub,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + repoProps + `,
					"path": {"type": "string"},
					"content": {"type": "string", "description": "Plain-text content; encoded before upload"},
					"message": {"type": "string", "description": "Commit message"},
					"branch": {"type": "string"}
				},
				"required": ["owner", "repo", "path", "content", "message"]
			}`),
		},
	}
}
