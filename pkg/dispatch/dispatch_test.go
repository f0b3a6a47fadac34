package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/sshexec"
	"github.com/opsforge/opsforge/pkg/store"
	"github.com/opsforge/opsforge/pkg/tools"
	"github.com/opsforge/opsforge/pkg/vault"
)

// fakeRunner records commands and replays canned results.
type fakeRunner struct {
	commands []string
	result   *sshexec.ExecResult
	err      error
}

func (f *fakeRunner) Run(_ context.Context, _ sshexec.ServerConnection, command string, _ int) (*sshexec.ExecResult, error) {
	f.commands = append(f.commands, command)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &sshexec.ExecResult{Stdout: "ok\n"}, nil
}

type fakeGitHub struct {
	calls  []string
	output string
	err    error
}

func (f *fakeGitHub) record(name string) (string, error) {
	f.calls = append(f.calls, name)
	return f.output, f.err
}

func (f *fakeGitHub) SearchRepos(context.Context, string, int) (string, error) {
	return f.record("search_repos")
}
func (f *fakeGitHub) GetRepo(context.Context, string, string) (string, error) {
	return f.record("get_repo")
}
func (f *fakeGitHub) ListContents(context.Context, string, string, string, string) (string, error) {
	return f.record("list_contents")
}
func (f *fakeGitHub) GetFile(context.Context, string, string, string, string) (string, error) {
	return f.record("get_file")
}
func (f *fakeGitHub) SearchCode(context.Context, string, int) (string, error) {
	return f.record("search_code")
}
func (f *fakeGitHub) ListCommits(context.Context, string, string, string, int) (string, error) {
	return f.record("list_commits")
}
func (f *fakeGitHub) ListBranches(context.Context, string, string) (string, error) {
	return f.record("list_branches")
}
func (f *fakeGitHub) ListIssues(context.Context, string, string, string, int) (string, error) {
	return f.record("list_issues")
}
func (f *fakeGitHub) CreateIssue(context.Context, string, string, string, string) (string, error) {
	return f.record("create_issue")
}
func (f *fakeGitHub) ListPullRequests(context.Context, string, string, string, int) (string, error) {
	return f.record("list_pull_requests")
}
func (f *fakeGitHub) CreateFile(context.Context, string, string, string, string, string, string) (string, error) {
	return f.record("create_file")
}

type harness struct {
	dispatcher *Dispatcher
	runner     *fakeRunner
	store      *store.Memory
	github     *fakeGitHub
	vault      *vault.Vault
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	catalog, err := tools.NewCatalog()
	require.NoError(t, err)
	sessionVault, err := vault.New("session-secret")
	require.NoError(t, err)
	keyVault, err := vault.New("api-key-secret")
	require.NoError(t, err)
	backupVault, err := vault.New("backup-secret")
	require.NoError(t, err)

	h := &harness{
		runner: &fakeRunner{},
		store:  store.NewMemory(),
		github: &fakeGitHub{output: "gh ok"},
		vault:  sessionVault,
	}
	h.dispatcher = New(Config{
		Catalog:      catalog,
		Runner:       h.runner,
		Store:        h.store,
		SessionVault: sessionVault,
		APIKeyVault:  keyVault,
		BackupVault:  backupVault,
		GitHub:       func(string) GitHubAPI { return h.github },
	})

	token, err := keyVault.EncryptCBC("ghp_token")
	require.NoError(t, err)
	h.store.PutGitHubIntegration(&models.GitHubIntegration{UserID: "u1", EncryptedToken: token})

	password, err := backupVault.EncryptGCM("repo-password")
	require.NoError(t, err)
	h.store.PutBackupConfig(&models.BackupConfig{
		ID:                "bc1",
		VPSServerID:       "s1",
		RepositoryType:    models.RepositoryLocal,
		RepositoryPath:    "/var/backups/restic",
		EncryptedPassword: password,
		IncludePaths:      []string{"/etc", "/var/www"},
		ExcludePatterns:   []string{"*.log"},
		Retention:         models.BackupRetention{Daily: 7, Weekly: 4, Monthly: 6, Yearly: 1},
	})
	return h
}

func tcx() Context {
	return Context{UserID: "u1", ServerID: "s1", Conn: sshexec.ServerConnection{Host: "vps", Username: "root"}}
}

func TestExecuteUnknownAndInvalid(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Execute(context.Background(), Call{Name: "no_such_tool"}, tcx())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")

	res = h.dispatcher.Execute(context.Background(), Call{
		Name:  "execute_command",
		Input: map[string]any{"command": "df -h"},
	}, tcx())
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, h.runner.commands, "invalid input must not reach the host")
}

func TestExecuteSafeCommandRecordsHistory(t *testing.T) {
	h := newHarness(t)
	h.runner.result = &sshexec.ExecResult{Stdout: "Filesystem  Size\n", ExitCode: 0}

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "execute_command",
		Input: map[string]any{"command": "df -h", "explanation": "disk check"},
	}, tcx())

	require.True(t, res.Success)
	assert.Equal(t, "Filesystem  Size", res.Output)
	assert.Equal(t, 0, res.Metadata["exit_code"])

	history, err := h.store.ListCommandHistory(context.Background(), "u1", "s1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "df -h", history[0].Command)
}

func TestExecuteNonZeroExitIsDataNotError(t *testing.T) {
	h := newHarness(t)
	h.runner.result = &sshexec.ExecResult{Stderr: "No such file\n", ExitCode: 2}

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "read_file",
		Input: map[string]any{"path": "/etc/missing"},
	}, tcx())

	assert.False(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Contains(t, res.Output, "No such file")
	assert.Equal(t, 2, res.Metadata["exit_code"])
}

func TestDangerGateShortCircuits(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "execute_command",
		Input: map[string]any{"command": "rm -rf /var/log", "explanation": "wipe logs"},
	}, tcx())

	assert.False(t, res.Success)
	assert.True(t, res.RequiresApproval)
	assert.Equal(t, "rm -rf /var/log", res.PendingCommand)
	assert.NotEmpty(t, res.Mac)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, h.runner.commands, "gated command must not reach the host")
}

func TestIntrinsicDangerPerAction(t *testing.T) {
	h := newHarness(t)

	// docker logs passes without approval even though docker_manage can stop.
	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "docker_manage",
		Input: map[string]any{"action": "logs", "container": "web", "tail": 50},
	}, tcx())
	require.False(t, res.RequiresApproval)
	require.Len(t, h.runner.commands, 1)
	assert.Equal(t, "docker logs --tail 50 'web'", h.runner.commands[0])

	res = h.dispatcher.Execute(context.Background(), Call{
		Name:  "docker_manage",
		Input: map[string]any{"action": "stop", "container": "web"},
	}, tcx())
	assert.True(t, res.RequiresApproval)
	assert.Equal(t, "docker stop 'web'", res.PendingCommand)
	assert.Len(t, h.runner.commands, 1)
}

func TestDatabaseQueryGatesMutatingSQL(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "database_query",
		Input: map[string]any{"engine": "postgres", "database": "app", "query": "SELECT count(*) FROM users"},
	}, tcx())
	assert.False(t, res.RequiresApproval)

	res = h.dispatcher.Execute(context.Background(), Call{
		Name:  "database_query",
		Input: map[string]any{"engine": "postgres", "database": "app", "query": "UPDATE users SET active = false"},
	}, tcx())
	assert.True(t, res.RequiresApproval)
}

func TestApproveVerifiesMAC(t *testing.T) {
	h := newHarness(t)

	gated := h.dispatcher.Execute(context.Background(), Call{
		Name:  "execute_command",
		Input: map[string]any{"command": "reboot", "explanation": "restart host"},
	}, tcx())
	require.True(t, gated.RequiresApproval)

	// Tampered command is refused before any SSH connect.
	res := h.dispatcher.Approve(context.Background(), tcx(), "rm -rf /", gated.Mac, true)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "approval token")
	assert.Empty(t, h.runner.commands)

	// A MAC minted for one server does not transfer to another.
	other := tcx()
	other.ServerID = "s2"
	res = h.dispatcher.Approve(context.Background(), other, gated.PendingCommand, gated.Mac, true)
	assert.False(t, res.Success)
	assert.Empty(t, h.runner.commands)

	res = h.dispatcher.Approve(context.Background(), tcx(), gated.PendingCommand, gated.Mac, true)
	assert.True(t, res.Success)
	require.Len(t, h.runner.commands, 1)
	assert.Equal(t, "reboot", h.runner.commands[0])
}

func TestApproveRejectionRunsNothing(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Approve(context.Background(), tcx(), "reboot", "whatever", false)
	assert.True(t, res.Success)
	assert.Equal(t, "Command rejected", res.Output)
	assert.Empty(t, h.runner.commands)
}

func TestReadFileBuildsSedRange(t *testing.T) {
	h := newHarness(t)

	h.dispatcher.Execute(context.Background(), Call{
		Name:  "read_file",
		Input: map[string]any{"path": "/var/log/syslog", "start_line": 100, "max_lines": 50},
	}, tcx())

	require.Len(t, h.runner.commands, 1)
	assert.Equal(t, "sed -n '100,149p' '/var/log/syslog'", h.runner.commands[0])

	h.dispatcher.Execute(context.Background(), Call{
		Name:  "read_file",
		Input: map[string]any{"path": "/etc/hosts"},
	}, tcx())
	assert.Equal(t, "sed -n '1,500p' '/etc/hosts'", h.runner.commands[1])
}

func TestWriteFileRequiresApprovalAndEscapes(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "write_file",
		Input: map[string]any{"path": "/etc/motd", "content": "hello\n\"quoted\" and 'single'"},
	}, tcx())

	require.True(t, res.RequiresApproval)
	assert.Contains(t, res.PendingCommand, `path = "/etc/motd"`)
	assert.Contains(t, res.PendingCommand, `\n`)
	assert.Contains(t, res.PendingCommand, `\"quoted\"`)
	assert.NotContains(t, res.PendingCommand, "\nhello", "content must stay a one-line literal")
}

func TestResticBackupRedactsPassword(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "restic_backup",
		Input: map[string]any{"config_id": "bc1"},
	}, tcx())
	require.True(t, res.RequiresApproval)
	assert.Contains(t, res.PendingCommand, "RESTIC_PASSWORD='repo-password'")
	assert.Contains(t, res.PendingCommand, "restic backup '/etc' '/var/www' --exclude '*.log'")

	// Approving the replayed command must not persist the plaintext.
	approved := h.dispatcher.Approve(context.Background(), tcx(), res.PendingCommand, res.Mac, true)
	require.True(t, approved.Success)

	history, err := h.store.ListCommandHistory(context.Background(), "u1", "s1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotContains(t, history[0].Command, "repo-password")
	assert.Contains(t, history[0].Command, "RESTIC_PASSWORD='****'")
}

func TestResticListRunsWithoutApproval(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "restic_list",
		Input: map[string]any{"config_id": "bc1"},
	}, tcx())
	require.False(t, res.RequiresApproval)
	require.Len(t, h.runner.commands, 1)
	assert.True(t, strings.HasSuffix(h.runner.commands[0], "restic snapshots"))

	history, err := h.store.ListCommandHistory(context.Background(), "u1", "s1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotContains(t, history[0].Command, "repo-password")
}

func TestResticPruneUsesRetentionPolicy(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "restic_prune",
		Input: map[string]any{"config_id": "bc1"},
	}, tcx())
	require.True(t, res.RequiresApproval)
	assert.Contains(t, res.PendingCommand,
		"forget --keep-daily 7 --keep-weekly 4 --keep-monthly 6 --keep-yearly 1 --prune")
}

func TestGitHubRoutesOverHTTPS(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "github_create_issue",
		Input: map[string]any{"owner": "octo", "repo": "hello", "title": "deploy broken"},
	}, tcx())

	require.True(t, res.Success)
	assert.Equal(t, "gh ok", res.Output)
	assert.False(t, res.RequiresApproval, "github mutations are not SSH commands and bypass the gate")
	assert.Equal(t, []string{"create_issue"}, h.github.calls)
	assert.Empty(t, h.runner.commands)
}

func TestGitHubWithoutIntegration(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "github_get_repo",
		Input: map[string]any{"owner": "octo", "repo": "hello"},
	}, Context{UserID: "nobody", ServerID: "s1"})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not connected")
}

func TestOutputTruncation(t *testing.T) {
	h := newHarness(t)
	h.runner.result = &sshexec.ExecResult{Stdout: strings.Repeat("x", MaxToolOutput+100)}

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "execute_command",
		Input: map[string]any{"command": "cat big", "explanation": "dump"},
	}, tcx())

	require.True(t, res.Success)
	assert.LessOrEqual(t, len(res.Output), MaxToolOutput+len("\n... [output truncated]"))
	assert.Contains(t, res.Output, "[output truncated]")
	assert.LessOrEqual(t, len(res.Preview()), PreviewLimit+len("\n... [output truncated]"))

	// The ledger keeps the untruncated output.
	history, err := h.store.ListCommandHistory(context.Background(), "u1", "s1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Len(t, history[0].Output, MaxToolOutput+100)
	assert.NotContains(t, history[0].Output, "[output truncated]")
}

func TestCrossFieldValidation(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Execute(context.Background(), Call{
		Name:  "package_manage",
		Input: map[string]any{"action": "install"},
	}, tcx())
	assert.Contains(t, res.Error, "requires a package name")

	res = h.dispatcher.Execute(context.Background(), Call{
		Name:  "process_manage",
		Input: map[string]any{"action": "kill"},
	}, tcx())
	assert.Contains(t, res.Error, "requires a pid")
	assert.Empty(t, h.runner.commands)
}
