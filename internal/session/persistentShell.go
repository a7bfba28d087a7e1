package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// persistentShell maintains a single long-lived PTY shell over one
// ssh.Session and executes commands sequentially. Completion is detected by
// a unique marker echoed with the exit status after each command.
type persistentShell struct {
	sess  *ssh.Session
	stdin io.WriteCloser
	pr    *io.PipeReader
	pw    *io.PipeWriter

	nonce string
	seq   int
	// pending holds bytes read past the last marker line.
	pending []byte

	closeOnce sync.Once
	closeErr  error
}

// newPersistentShell requests a PTY and starts shellCmd, wiring stdout and
// stderr into one stream.
func newPersistentShell(client *ssh.Client, shellCmd string) (*persistentShell, error) {
	s, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	s.Stdout = pw
	s.Stderr = pw

	stdin, err := s.StdinPipe()
	if err != nil {
		_ = pw.Close()
		_ = s.Close()
		return nil, err
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := s.RequestPty("xterm", 80, 200, modes); err != nil {
		_ = stdin.Close()
		_ = pw.Close()
		_ = s.Close()
		return nil, err
	}
	if err := s.Start(shellCmd); err != nil {
		_ = stdin.Close()
		_ = pw.Close()
		_ = s.Close()
		return nil, err
	}
	// The reader sees EOF once the shell or the connection goes away.
	go func() {
		_ = s.Wait()
		_ = pw.Close()
	}()
	return &persistentShell{
		sess:  s,
		stdin: stdin,
		pr:    pr,
		pw:    pw,
		nonce: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}, nil
}

// Close terminates the shell. It never blocks on a command in flight and is
// safe to call more than once.
func (ps *persistentShell) Close() error {
	ps.closeOnce.Do(func() {
		_, _ = io.WriteString(ps.stdin, "exit\n")
		_ = ps.stdin.Close()
		_ = ps.pw.Close()
		ps.closeErr = ps.sess.Close()
	})
	return ps.closeErr
}

type shellOutcome struct {
	exit int
	err  error
}

// runOne sends line and reads combined output up to its marker. On timeout
// the shell is closed and the bytes seen so far are returned.
func (ps *persistentShell) runOne(ctx context.Context, line string, timeout time.Duration) ([]byte, int, error) {
	id := ps.seq
	ps.seq++
	marker := fmt.Sprintf("__ROSAC_END__%s__%d__", ps.nonce, id)

	if _, err := io.WriteString(ps.stdin, fmt.Sprintf("%s; echo %s $?\n", line, marker)); err != nil {
		return nil, -1, err
	}

	var out lockedBuffer
	done := make(chan shellOutcome, 1)
	go func() {
		exit, err := ps.readUntil(marker, &out)
		done <- shellOutcome{exit, err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case o := <-done:
		return out.Bytes(), o.exit, o.err
	case <-expired:
		_ = ps.Close()
		<-done
		return out.Bytes(), -1, context.DeadlineExceeded
	case <-ctx.Done():
		_ = ps.Close()
		<-done
		return out.Bytes(), -1, ctx.Err()
	}
}

// readUntil copies stream bytes into out until "<marker> <status>\n" is
// seen. Output bytes are passed through unchanged; only the marker line is
// consumed.
func (ps *persistentShell) readUntil(marker string, out io.Writer) (int, error) {
	tag := []byte(marker + " ")
	acc := ps.pending
	ps.pending = nil
	buf := make([]byte, 4096)
	var readErr error
	for {
		if idx := bytes.Index(acc, tag); idx >= 0 {
			rest := acc[idx+len(tag):]
			if nl := bytes.IndexByte(rest, '\n'); nl >= 0 {
				_, _ = out.Write(acc[:idx])
				ps.pending = append([]byte(nil), rest[nl+1:]...)
				exit, err := strconv.Atoi(strings.TrimSpace(string(rest[:nl])))
				if err != nil {
					return -1, fmt.Errorf("malformed exit status after marker: %q", rest[:nl])
				}
				return exit, nil
			}
		} else if keep := len(tag) + 16; len(acc) > keep {
			// Flush all but a tail that could hold a split marker.
			_, _ = out.Write(acc[:len(acc)-keep])
			acc = append(acc[:0:0], acc[len(acc)-keep:]...)
		}
		if readErr != nil {
			_, _ = out.Write(acc)
			if errors.Is(readErr, io.ErrClosedPipe) {
				readErr = io.EOF
			}
			return -1, readErr
		}
		var n int
		n, readErr = ps.pr.Read(buf)
		acc = append(acc, buf[:n]...)
	}
}

// runShell executes cmd in the persistent shell, opening one lazily. A shell
// that timed out or broke is discarded and replaced on the next command.
func (s *sshSession) runShell(ctx context.Context, cmd string, timeout time.Duration) (Result, error) {
	if s.shell == nil {
		ps, err := newPersistentShell(s.client, s.shellCmd)
		if err != nil {
			if !s.alive() {
				return Result{ExitCode: -1}, &ExecutionError{Kind: KindSessionLost, Command: cmd, ExitCode: -1, Err: err}
			}
			return Result{ExitCode: -1}, &ExecutionError{Kind: KindCommandFailed, Command: cmd, ExitCode: -1, Err: err}
		}
		s.shell = ps
	}
	out, exit, err := s.shell.runOne(ctx, cmd, timeout)
	res := Result{Stdout: out, ExitCode: exit}
	switch {
	case err == nil && exit == 0:
		return res, nil
	case err == nil:
		return res, &ExecutionError{Kind: KindNonZeroExit, Command: cmd, ExitCode: exit}
	}
	_ = s.shell.Close()
	s.shell = nil
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("command timed out", "command", cmd, "captured_bytes", len(out))
		return res, &ExecutionError{Kind: KindTimeout, Command: cmd, ExitCode: -1, Err: err}
	}
	return res, s.channelEnded(cmd, err)
}
