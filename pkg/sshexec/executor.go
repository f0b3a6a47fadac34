// Package sshexec runs commands on remote hosts over SSH.
//
// Two modes: one-shot exec with a hard timeout (Run) and interactive
// PTY-backed shells (OpenShell). A fresh connection is opened per one-shot
// exec; shell sessions own their connection for their lifetime.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// ReadyTimeout bounds TCP connect plus SSH handshake.
	ReadyTimeout = 10 * time.Second

	// MinExecTimeout and MaxExecTimeout clamp caller-supplied exec timeouts.
	MinExecTimeout = 1
	MaxExecTimeout = 300
)

var (
	// ErrUnreachable reports a connection-level failure (dial, handshake).
	ErrUnreachable = errors.New("ssh: host unreachable")
	// ErrAuthFailed reports an authentication failure.
	ErrAuthFailed = errors.New("ssh: authentication failed")
	// ErrTimeout reports a command that exceeded its exec timeout.
	ErrTimeout = errors.New("ssh: command timed out")
	// ErrChannel reports a session/channel-level failure after connect.
	ErrChannel = errors.New("ssh: channel failure")
)

// ServerConnection carries everything needed to reach one host. Exactly one
// of Password or PrivateKey must be set. The plaintext credential is held
// only for the duration of the connect.
type ServerConnection struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string
}

// ExecResult is the outcome of a one-shot exec. A non-zero exit code is
// data, not an error.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CombinedOutput merges stdout and stderr the way tool results are shown to
// the LLM: stderr is appended under a [STDERR] marker when present.
func (r *ExecResult) CombinedOutput() string {
	out := strings.TrimRight(r.Stdout, "\n")
	if strings.TrimSpace(r.Stderr) == "" {
		return out
	}
	if out == "" {
		return "[STDERR] " + strings.TrimRight(r.Stderr, "\n")
	}
	return out + "\n[STDERR] " + strings.TrimRight(r.Stderr, "\n")
}

// Runner is the one-shot exec interface consumed by the tool dispatcher and
// the task orchestrator. Implemented by Executor; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, conn ServerConnection, command string, timeoutSeconds int) (*ExecResult, error)
}

// Executor opens real SSH connections.
type Executor struct{}

// NewExecutor returns an Executor.
func NewExecutor() *Executor { return &Executor{} }

// ClampTimeout bounds a caller-supplied exec timeout to [1, 300] seconds.
func ClampTimeout(seconds int) int {
	if seconds < MinExecTimeout {
		return MinExecTimeout
	}
	if seconds > MaxExecTimeout {
		return MaxExecTimeout
	}
	return seconds
}

func clientConfig(conn ServerConnection) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	switch {
	case conn.PrivateKey != "":
		signer, err := ssh.ParsePrivateKey([]byte(conn.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w: parse private key: %v", ErrAuthFailed, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	case conn.Password != "":
		auth = append(auth, ssh.Password(conn.Password))
	default:
		return nil, fmt.Errorf("%w: no credential provided", ErrAuthFailed)
	}

	return &ssh.ClientConfig{
		User:            conn.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         ReadyTimeout,
	}, nil
}

func dial(ctx context.Context, conn ServerConnection) (*ssh.Client, error) {
	cfg, err := clientConfig(conn)
	if err != nil {
		return nil, err
	}

	port := conn.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(conn.Host, fmt.Sprintf("%d", port))

	dialer := net.Dialer{Timeout: ReadyTimeout}
	tcp, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcp, addr, cfg)
	if err != nil {
		_ = tcp.Close()
		if strings.Contains(err.Error(), "unable to authenticate") ||
			strings.Contains(err.Error(), "permission denied") {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Run opens a connection, executes command verbatim (no quoting is applied;
// callers are responsible for escaping), and accumulates stdout and stderr.
// The timeout is clamped to [1, 300] seconds; breach aborts the connection
// and yields ErrTimeout. The connection is closed on every path.
func (e *Executor) Run(ctx context.Context, conn ServerConnection, command string, timeoutSeconds int) (*ExecResult, error) {
	timeout := time.Duration(ClampTimeout(timeoutSeconds)) * time.Second

	client, err := dial(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if err := sess.Start(command); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		// Closing the client aborts the in-flight command.
		_ = client.Close()
		return nil, fmt.Errorf("%w: exceeded %s", ErrTimeout, timeout)
	case <-ctx.Done():
		_ = client.Close()
		return nil, ctx.Err()
	}

	result := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: remote exited without status", ErrChannel)
		}
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}
	return result, nil
}
