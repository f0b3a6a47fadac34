// Package dispatch routes tool calls from the agent loop to their executor
// family. Shell-backed tools build a command string, pass the approval gate,
// and run over SSH; GitHub tools go over HTTPS with the user's stored token.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/opsforge/opsforge/pkg/github"
	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/sshexec"
	"github.com/opsforge/opsforge/pkg/store"
	"github.com/opsforge/opsforge/pkg/tools"
	"github.com/opsforge/opsforge/pkg/vault"
)

const (
	// MaxToolOutput caps what a tool result feeds back to the LLM. The full
	// output still lands in CommandHistory.
	MaxToolOutput = 50_000

	// PreviewLimit caps the outputPreview streamed to the UI.
	PreviewLimit = 500

	defaultTimeoutSeconds  = 30
	approvedTimeoutSeconds = 60
)

// Call is one tool invocation as emitted by the LLM.
type Call struct {
	Name  string
	Input map[string]any
}

// Context identifies who is calling and which host the call targets. Conn
// carries the already-decrypted credential for the SSH hop.
type Context struct {
	UserID   string
	ServerID string
	Conn     sshexec.ServerConnection
}

// Result is the outcome of a dispatch. RequiresApproval short-circuits
// execution: PendingCommand must be echoed back through Approve together
// with Mac, which binds the command to the server it was built for.
type Result struct {
	Success          bool
	Output           string
	Error            string
	RequiresApproval bool
	PendingCommand   string
	Mac              string
	Metadata         map[string]any
	Duration         time.Duration
}

// Preview returns the UI-facing truncation of the output.
func (r *Result) Preview() string {
	return truncate(r.Output, PreviewLimit)
}

// GitHubAPI is the REST surface the GitHub tool family needs. Implemented by
// github.Client; tests substitute fakes.
type GitHubAPI interface {
	SearchRepos(ctx context.Context, query string, limit int) (string, error)
	GetRepo(ctx context.Context, owner, name string) (string, error)
	ListContents(ctx context.Context, owner, name, path, ref string) (string, error)
	GetFile(ctx context.Context, owner, name, path, ref string) (string, error)
	SearchCode(ctx context.Context, query string, limit int) (string, error)
	ListCommits(ctx context.Context, owner, name, ref string, limit int) (string, error)
	ListBranches(ctx context.Context, owner, name string) (string, error)
	ListIssues(ctx context.Context, owner, name, state string, limit int) (string, error)
	CreateIssue(ctx context.Context, owner, name, title, body string) (string, error)
	ListPullRequests(ctx context.Context, owner, name, state string, limit int) (string, error)
	CreateFile(ctx context.Context, owner, name, path, content, message, branch string) (string, error)
}

// Config wires a Dispatcher. SessionVault signs pending commands, APIKeyVault
// opens GitHub tokens (CBC scheme), BackupVault opens restic passwords (GCM).
type Config struct {
	Catalog      *tools.Catalog
	Runner       sshexec.Runner
	Store        store.Store
	SessionVault *vault.Vault
	APIKeyVault  *vault.Vault
	BackupVault  *vault.Vault

	// GitHub builds a token-scoped client. Nil selects the real REST client.
	GitHub func(token string) GitHubAPI

	Logger *slog.Logger
}

// Dispatcher routes tool calls per the catalog and enforces the approval gate.
type Dispatcher struct {
	catalog      *tools.Catalog
	runner       sshexec.Runner
	store        store.Store
	sessionVault *vault.Vault
	apiKeyVault  *vault.Vault
	backupVault  *vault.Vault
	github       func(token string) GitHubAPI
	logger       *slog.Logger
}

// New builds a Dispatcher from cfg.
func New(cfg Config) *Dispatcher {
	gh := cfg.GitHub
	if gh == nil {
		gh = func(token string) GitHubAPI { return github.New(token) }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		catalog:      cfg.Catalog,
		runner:       cfg.Runner,
		store:        cfg.Store,
		sessionVault: cfg.SessionVault,
		apiKeyVault:  cfg.APIKeyVault,
		backupVault:  cfg.BackupVault,
		github:       gh,
		logger:       logger,
	}
}

// Execute dispatches one tool call. It never returns a Go error: every
// failure mode becomes a Result the LLM can read and react to.
func (d *Dispatcher) Execute(ctx context.Context, call Call, tc Context) *Result {
	started := time.Now()

	def, ok := d.catalog.Get(call.Name)
	if !ok {
		return &Result{Error: fmt.Sprintf("unknown tool %q", call.Name), Duration: time.Since(started)}
	}
	if err := d.catalog.Validate(call.Name, call.Input); err != nil {
		return &Result{Error: err.Error(), Duration: time.Since(started)}
	}

	if def.Category == tools.CategoryGitHub {
		res := d.executeGitHub(ctx, call, tc)
		res.Duration = time.Since(started)
		return res
	}

	plan, err := d.buildCommand(ctx, call)
	if err != nil {
		return &Result{Error: err.Error(), Duration: time.Since(started)}
	}

	if reason, gated := d.approvalReason(plan); gated {
		return &Result{
			RequiresApproval: true,
			PendingCommand:   plan.command,
			Mac:              d.sessionVault.Sign(macPayload(tc.ServerID, plan.command)),
			Error:            reason,
			Duration:         time.Since(started),
		}
	}

	res := d.run(ctx, tc, plan)
	res.Duration = time.Since(started)
	return res
}

// Approve is the sole resumption path for a gated command. The MAC is
// verified against the server id and command before anything executes, so a
// client cannot substitute an arbitrary string.
func (d *Dispatcher) Approve(ctx context.Context, tc Context, pendingCommand, mac string, approved bool) *Result {
	started := time.Now()

	if !approved {
		return &Result{Success: true, Output: "Command rejected", Duration: time.Since(started)}
	}
	if !d.sessionVault.Verify(macPayload(tc.ServerID, pendingCommand), mac) {
		return &Result{Error: "approval token does not match this command", Duration: time.Since(started)}
	}

	plan := commandPlan{
		command: pendingCommand,
		history: redactSecrets(pendingCommand),
		timeout: approvedTimeoutSeconds,
	}
	res := d.run(ctx, tc, plan)
	res.Duration = time.Since(started)
	return res
}

func macPayload(serverID, command string) string {
	return serverID + "\n" + command
}

// approvalReason decides the gate: intrinsic per-action danger from the
// builder, or a danger-classifier hit on the built command string.
func (d *Dispatcher) approvalReason(plan commandPlan) (string, bool) {
	if plan.dangerous {
		return "This operation modifies the server and requires approval before it runs.", true
	}
	if reason := tools.DangerReason(plan.command); reason != "" {
		return fmt.Sprintf("Command matches danger rule %s and requires approval before it runs.", reason), true
	}
	return "", false
}

func (d *Dispatcher) run(ctx context.Context, tc Context, plan commandPlan) *Result {
	timeout := plan.timeout
	if timeout == 0 {
		timeout = defaultTimeoutSeconds
	}

	exec, err := d.runner.Run(ctx, tc.Conn, plan.command, timeout)
	if err != nil {
		if errors.Is(err, sshexec.ErrTimeout) {
			// The command reached the host; the ledger records the breach.
			d.recordHistory(ctx, tc, plan, "command timed out", -1)
		}
		return &Result{Error: err.Error()}
	}

	output := exec.CombinedOutput()
	d.recordHistory(ctx, tc, plan, output, exec.ExitCode)

	return &Result{
		Success:  exec.ExitCode == 0,
		Output:   truncate(output, MaxToolOutput),
		Metadata: map[string]any{"exit_code": exec.ExitCode},
	}
}

// recordHistory appends to the command ledger. The redacted form is stored
// when the builder produced one, so credentials never persist. Output is
// kept in full here; only the copy handed to the model is truncated. Ledger
// failures are logged, not surfaced; the tool result already exists.
func (d *Dispatcher) recordHistory(ctx context.Context, tc Context, plan commandPlan, output string, exitCode int) {
	command := plan.command
	if plan.history != "" {
		command = plan.history
	}
	entry := &models.CommandHistory{
		UserID:      tc.UserID,
		VPSServerID: tc.ServerID,
		Command:     command,
		Output:      output,
		ExitCode:    exitCode,
		ExecutedAt:  time.Now().UTC(),
	}
	if err := d.store.AppendCommandHistory(ctx, entry); err != nil {
		d.logger.Warn("command history append failed",
			slog.String("server_id", tc.ServerID), slog.Any("error", err))
	}
}

var resticSecretPattern = regexp.MustCompile(`(RESTIC_PASSWORD|AWS_SECRET_ACCESS_KEY)='[^']*'`)

// redactSecrets masks credential env assignments in a command string. Used
// for commands replayed through Approve, where the original builder's
// redacted form is no longer available.
func redactSecrets(command string) string {
	if !resticSecretPattern.MatchString(command) {
		return ""
	}
	return resticSecretPattern.ReplaceAllString(command, "$1='****'")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... [output truncated]"
}
