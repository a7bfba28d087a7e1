package session

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/ssh"
)

// runExec runs cmd on a fresh exec channel. On timeout the remote command is
// interrupted and the channel closed; the bytes read so far are kept.
func (s *sshSession) runExec(ctx context.Context, cmd string, timeout time.Duration) (Result, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		if !s.alive() {
			return Result{ExitCode: -1}, &ExecutionError{Kind: KindSessionLost, Command: cmd, ExitCode: -1, Err: err}
		}
		return Result{ExitCode: -1}, &ExecutionError{Kind: KindCommandFailed, Command: cmd, ExitCode: -1, Err: err}
	}
	defer func() { _ = sess.Close() }()

	var stdout, stderr lockedBuffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if err := sess.Start(cmd); err != nil {
		return Result{ExitCode: -1}, s.channelEnded(cmd, err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case err := <-done:
		res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		return s.execOutcome(cmd, res, err)
	case <-expired:
		return s.abandon(cmd, sess, done, &stdout, &stderr, context.DeadlineExceeded)
	case <-ctx.Done():
		return s.abandon(cmd, sess, done, &stdout, &stderr, ctx.Err())
	case <-s.dead:
		res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1}
		return res, &ExecutionError{Kind: KindSessionLost, Command: cmd, ExitCode: -1, Err: errors.New("connection closed during command")}
	}
}

func (s *sshSession) execOutcome(cmd string, res Result, err error) (Result, error) {
	if err == nil {
		return res, nil
	}
	var ee *ssh.ExitError
	if errors.As(err, &ee) {
		res.ExitCode = ee.ExitStatus()
		return res, &ExecutionError{Kind: KindNonZeroExit, Command: cmd, ExitCode: res.ExitCode, Err: err}
	}
	res.ExitCode = -1
	return res, s.channelEnded(cmd, err)
}

// abandon interrupts a command that overran and waits briefly for the
// channel to wind down so late bytes are not lost to a racing snapshot.
func (s *sshSession) abandon(cmd string, sess *ssh.Session, done <-chan error, stdout, stderr *lockedBuffer, cause error) (Result, error) {
	_ = sess.Signal(ssh.SIGINT)
	_ = sess.Close()
	grace := time.NewTimer(s.probe)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
	}
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1}
	s.log.Warn("command timed out", "command", cmd, "captured_bytes", len(res.Stdout))
	return res, &ExecutionError{Kind: KindTimeout, Command: cmd, ExitCode: -1, Err: cause}
}
