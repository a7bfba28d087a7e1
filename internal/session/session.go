package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/Linkavych/rOSac/internal/logging"
)

// Mode selects how commands reach the device.
type Mode string

const (
	ModeExec  Mode = "exec"
	ModeShell Mode = "shell"
)

// ParseMode maps a config value to a Mode; empty means exec.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeExec:
		return ModeExec, nil
	case ModeShell:
		return ModeShell, nil
	}
	return "", fmt.Errorf("unknown session mode %q (want exec or shell)", s)
}

// Result is the raw outcome of one command or file retrieval.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	// Files is filled by FetchDir, sorted by path.
	Files []RemoteFile
}

// RemoteFile is one regular file retrieved by FetchDir.
type RemoteFile struct {
	Path string
	Data []byte
	// Err reports a read failure; Data holds what arrived before it.
	Err error
}

// Session runs commands on one connected device, one at a time.
type Session interface {
	// Execute runs cmd and returns its output. A non-nil error is an
	// *ExecutionError; Result still holds any bytes captured before it.
	Execute(ctx context.Context, cmd string, timeout time.Duration) (Result, error)
	// Fetch retrieves a remote file; its content is returned as Stdout.
	Fetch(ctx context.Context, path string, timeout time.Duration) (Result, error)
	// FetchDir retrieves every regular file below dir. Unreadable files
	// are reported per file; only a missing or unlistable dir fails the call.
	FetchDir(ctx context.Context, dir string, timeout time.Duration) (Result, error)
	Close() error
}

// Connector establishes sessions. Failures are *ConnectionError.
type Connector interface {
	Connect(ctx context.Context, t Target) (Session, error)
}

// DefaultShellCommand starts a POSIX shell reading commands from stdin.
const DefaultShellCommand = "/bin/sh -s -"

// SSHConnector connects over SSH.
type SSHConnector struct {
	Mode Mode
	// ShellCommand overrides DefaultShellCommand in shell mode.
	ShellCommand string
	// ProbeTimeout bounds the keepalive used to tell a closed channel from
	// a dead connection.
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

var _ Connector = (*SSHConnector)(nil)

// Connect dials t and returns a ready session.
func (c *SSHConnector) Connect(ctx context.Context, t Target) (Session, error) {
	log := logging.OrDefault(c.Logger).With("target", t.String())
	client, err := dialSSH(ctx, t)
	if err != nil {
		log.Warn("connect failed", "error", err)
		return nil, err
	}
	mode := c.Mode
	if mode == "" {
		mode = ModeExec
	}
	shellCmd := c.ShellCommand
	if shellCmd == "" {
		shellCmd = DefaultShellCommand
	}
	probe := c.ProbeTimeout
	if probe <= 0 {
		probe = 5 * time.Second
	}
	s := &sshSession{
		client:   client,
		mode:     mode,
		shellCmd: shellCmd,
		probe:    probe,
		log:      log,
		dead:     make(chan struct{}),
	}
	go func() {
		_ = client.Wait()
		close(s.dead)
	}()
	log.Info("connected", "mode", string(mode), "server_version", string(client.ServerVersion()))
	return s, nil
}

type sshSession struct {
	client   *ssh.Client
	mode     Mode
	shellCmd string
	probe    time.Duration
	log      *slog.Logger
	// dead is closed once the transport has shut down.
	dead chan struct{}

	mu     sync.Mutex
	shell  *persistentShell
	closed bool
}

var _ Session = (*sshSession)(nil)

func (s *sshSession) Execute(ctx context.Context, cmd string, timeout time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(cmd); err != nil {
		return Result{ExitCode: -1}, err
	}
	switch s.mode {
	case ModeShell:
		return s.runShell(ctx, cmd, timeout)
	case ModeExec:
		return s.runExec(ctx, cmd, timeout)
	}
	return Result{ExitCode: -1}, &ExecutionError{Kind: KindCommandFailed, Command: cmd, ExitCode: -1,
		Err: fmt.Errorf("unknown session mode %q", s.mode)}
}

func (s *sshSession) Fetch(ctx context.Context, path string, timeout time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(path); err != nil {
		return Result{ExitCode: -1}, err
	}
	return s.fetch(ctx, path, timeout)
}

func (s *sshSession) FetchDir(ctx context.Context, dir string, timeout time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(dir); err != nil {
		return Result{ExitCode: -1}, err
	}
	return s.fetchDir(ctx, dir, timeout)
}

func (s *sshSession) usable(what string) error {
	if s.closed {
		return &ExecutionError{Kind: KindSessionLost, Command: what, ExitCode: -1, Err: fmt.Errorf("session closed")}
	}
	if s.isDead() {
		return &ExecutionError{Kind: KindSessionLost, Command: what, ExitCode: -1, Err: fmt.Errorf("connection closed")}
	}
	return nil
}

func (s *sshSession) isDead() bool {
	select {
	case <-s.dead:
		return true
	default:
		return false
	}
}

// alive reports whether the connection still answers. A channel that ended
// without an exit status is only a session loss if this fails.
func (s *sshSession) alive() bool {
	if s.isDead() {
		return false
	}
	errc := make(chan error, 1)
	go func() {
		_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
		errc <- err
	}()
	t := time.NewTimer(s.probe)
	defer t.Stop()
	select {
	case err := <-errc:
		return err == nil
	case <-s.dead:
		return false
	case <-t.C:
		return false
	}
}

// channelEnded classifies a channel that finished without an exit status.
func (s *sshSession) channelEnded(cmd string, err error) *ExecutionError {
	if !s.alive() {
		return &ExecutionError{Kind: KindSessionLost, Command: cmd, ExitCode: -1, Err: err}
	}
	return &ExecutionError{Kind: KindChannelClosed, Command: cmd, ExitCode: -1, Err: err}
}

func (s *sshSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.shell != nil {
		_ = s.shell.Close()
		s.shell = nil
	}
	err := s.client.Close()
	<-s.dead
	s.log.Debug("session closed")
	return err
}
