package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"
)

// fetch copies a remote file over an SFTP subsystem on the existing
// connection. An overrun closes the SFTP client and keeps partial bytes.
func (s *sshSession) fetch(ctx context.Context, path string, timeout time.Duration) (Result, error) {
	failed := func(err error) (Result, error) {
		return Result{ExitCode: -1}, &ExecutionError{Kind: KindCommandFailed, Command: path, ExitCode: -1, Err: err}
	}
	sc, err := sftp.NewClient(s.client)
	if err != nil {
		if !s.alive() {
			return Result{ExitCode: -1}, &ExecutionError{Kind: KindSessionLost, Command: path, ExitCode: -1, Err: err}
		}
		return failed(fmt.Errorf("sftp: %w", err))
	}
	defer func() { _ = sc.Close() }()

	var out lockedBuffer
	done := make(chan error, 1)
	go func() {
		f, err := sc.Open(path)
		if err != nil {
			done <- err
			return
		}
		_, err = io.Copy(&out, f)
		_ = f.Close()
		done <- err
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case err := <-done:
		res := Result{Stdout: out.Bytes()}
		if err == nil {
			return res, nil
		}
		res.ExitCode = -1
		if errors.Is(err, os.ErrNotExist) {
			return res, &ExecutionError{Kind: KindCommandFailed, Command: path, ExitCode: -1, Err: fmt.Errorf("remote file not found: %w", err)}
		}
		if !s.alive() {
			return res, &ExecutionError{Kind: KindSessionLost, Command: path, ExitCode: -1, Err: err}
		}
		return res, &ExecutionError{Kind: KindCommandFailed, Command: path, ExitCode: -1, Err: err}
	case <-expired:
		_ = sc.Close()
		<-done
		return Result{Stdout: out.Bytes(), ExitCode: -1}, &ExecutionError{Kind: KindTimeout, Command: path, ExitCode: -1, Err: context.DeadlineExceeded}
	case <-ctx.Done():
		_ = sc.Close()
		<-done
		return Result{Stdout: out.Bytes(), ExitCode: -1}, &ExecutionError{Kind: KindTimeout, Command: path, ExitCode: -1, Err: ctx.Err()}
	case <-s.dead:
		return Result{Stdout: out.Bytes(), ExitCode: -1}, &ExecutionError{Kind: KindSessionLost, Command: path, ExitCode: -1, Err: errors.New("connection closed during fetch")}
	}
}
