package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/opsforge/opsforge/pkg/store"
)

// executeGitHub resolves the caller's stored token and routes to the REST
// client. No SSH, no approval gate: the replay path in Approve runs shell
// commands only, so gating these would strand them.
func (d *Dispatcher) executeGitHub(ctx context.Context, call Call, tc Context) *Result {
	integration, err := d.store.GetGitHubIntegration(ctx, tc.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Result{Error: "GitHub is not connected for this account"}
		}
		return &Result{Error: fmt.Sprintf("github integration lookup failed: %v", err)}
	}
	token, err := d.apiKeyVault.DecryptCBC(integration.EncryptedToken)
	if err != nil {
		return &Result{Error: "stored GitHub token could not be opened; reconnect the integration"}
	}

	client := d.github(token)
	in := call.Input

	var output string
	switch call.Name {
	case "github_search_repos":
		output, err = client.SearchRepos(ctx, strArg(in, "query"), intArg(in, "limit", 10))
	case "github_get_repo":
		output, err = client.GetRepo(ctx, strArg(in, "owner"), strArg(in, "repo"))
	case "github_list_contents":
		output, err = client.ListContents(ctx, strArg(in, "owner"), strArg(in, "repo"), strArg(in, "path"), strArg(in, "ref"))
	case "github_get_file":
		output, err = client.GetFile(ctx, strArg(in, "owner"), strArg(in, "repo"), strArg(in, "path"), strArg(in, "ref"))
	case "github_search_code":
		output, err = client.SearchCode(ctx, strArg(in, "query"), intArg(in, "limit", 10))
	case "github_list_commits":
		output, err = client.ListCommits(ctx, strArg(in, "owner"), strArg(in, "repo"), strArg(in, "ref"), intArg(in, "limit", 20))
	case "github_list_branches":
		output, err = client.ListBranches(ctx, strArg(in, "owner"), strArg(in, "repo"))
	case "github_list_issues":
		output, err = client.ListIssues(ctx, strArg(in, "owner"), strArg(in, "repo"), strArg(in, "state"), intArg(in, "limit", 20))
	case "github_create_issue":
		output, err = client.CreateIssue(ctx, strArg(in, "owner"), strArg(in, "repo"), strArg(in, "title"), strArg(in, "body"))
	case "github_list_pull_requests":
		output, err = client.ListPullRequests(ctx, strArg(in, "owner"), strArg(in, "repo"), strArg(in, "state"), intArg(in, "limit", 20))
	case "github_create_file":
		output, err = client.CreateFile(ctx, strArg(in, "owner"), strArg(in, "repo"),
			strArg(in, "path"), strArg(in, "content"), strArg(in, "message"), strArg(in, "branch"))
	default:
		return &Result{Error: fmt.Sprintf("no GitHub executor for tool %q", call.Name)}
	}

	if err != nil {
		return &Result{Error: err.Error()}
	}
	return &Result{Success: true, Output: truncate(output, MaxToolOutput)}
}
