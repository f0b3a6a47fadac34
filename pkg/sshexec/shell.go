package sshexec

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ShellSession is an interactive PTY-backed shell. It owns its SSH
// connection; closing the session tears the connection down and vice versa.
type ShellSession struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	output chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenShell dials the host and requests a shell with an xterm-256color PTY
// at the negotiated size. Remote output (stdout and stderr interleaved) is
// delivered on Output; the channel is closed when the remote side ends.
func (e *Executor) OpenShell(ctx context.Context, conn ServerConnection, cols, rows int) (*ShellSession, error) {
	client, err := dial(ctx, conn)
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("%w: request pty: %v", ErrChannel, err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("%w: start shell: %v", ErrChannel, err)
	}

	s := &ShellSession{
		client: client,
		sess:   sess,
		stdin:  stdin,
		output: make(chan []byte, 64),
		closed: make(chan struct{}),
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go s.pump(&pumps, stdout)
	go s.pump(&pumps, stderr)
	go func() {
		pumps.Wait()
		close(s.output)
		s.Close()
	}()

	return s, nil
}

func (s *ShellSession) pump(wg *sync.WaitGroup, r io.Reader) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			select {
			case s.output <- out:
			case <-s.closed:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Output returns the channel carrying raw PTY bytes from the remote shell.
func (s *ShellSession) Output() <-chan []byte { return s.output }

// Write sends raw bytes to the shell's stdin.
func (s *ShellSession) Write(data []byte) error {
	_, err := s.stdin.Write(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChannel, err)
	}
	return nil
}

// Resize forwards a window-change to the PTY.
func (s *ShellSession) Resize(cols, rows int) error {
	if err := s.sess.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("%w: window change: %v", ErrChannel, err)
	}
	return nil
}

// Close tears down the PTY session and its SSH connection. Safe to call
// multiple times and from multiple goroutines.
func (s *ShellSession) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.sess.Close()
		_ = s.client.Close()
	})
}
