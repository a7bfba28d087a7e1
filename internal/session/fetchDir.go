package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/sftp"
)

// fileTree collects walked files while a timed-out caller may snapshot it.
type fileTree struct {
	mu    sync.Mutex
	files []RemoteFile
}

func (t *fileTree) add(f RemoteFile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = append(t.files, f)
}

// sorted returns a path-ordered copy of the collected files.
func (t *fileTree) sorted() []RemoteFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]RemoteFile(nil), t.files...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// fetchDir walks dir over SFTP and copies every regular file below it.
// An overrun closes the SFTP client and keeps the files completed so far.
func (s *sshSession) fetchDir(ctx context.Context, dir string, timeout time.Duration) (Result, error) {
	sc, err := sftp.NewClient(s.client)
	if err != nil {
		if !s.alive() {
			return Result{ExitCode: -1}, &ExecutionError{Kind: KindSessionLost, Command: dir, ExitCode: -1, Err: err}
		}
		return Result{ExitCode: -1}, &ExecutionError{Kind: KindCommandFailed, Command: dir, ExitCode: -1, Err: fmt.Errorf("sftp: %w", err)}
	}
	defer func() { _ = sc.Close() }()

	var tree fileTree
	done := make(chan error, 1)
	go func() { done <- walkTree(sc, dir, &tree) }()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case err := <-done:
		res := Result{Files: tree.sorted()}
		if err == nil {
			return res, nil
		}
		res.ExitCode = -1
		if errors.Is(err, os.ErrNotExist) {
			return res, &ExecutionError{Kind: KindCommandFailed, Command: dir, ExitCode: -1, Err: fmt.Errorf("remote directory not found: %w", err)}
		}
		if !s.alive() {
			return res, &ExecutionError{Kind: KindSessionLost, Command: dir, ExitCode: -1, Err: err}
		}
		return res, &ExecutionError{Kind: KindCommandFailed, Command: dir, ExitCode: -1, Err: err}
	case <-expired:
		_ = sc.Close()
		<-done
		return Result{Files: tree.sorted(), ExitCode: -1}, &ExecutionError{Kind: KindTimeout, Command: dir, ExitCode: -1, Err: context.DeadlineExceeded}
	case <-ctx.Done():
		_ = sc.Close()
		<-done
		return Result{Files: tree.sorted(), ExitCode: -1}, &ExecutionError{Kind: KindTimeout, Command: dir, ExitCode: -1, Err: ctx.Err()}
	case <-s.dead:
		return Result{Files: tree.sorted(), ExitCode: -1}, &ExecutionError{Kind: KindSessionLost, Command: dir, ExitCode: -1, Err: errors.New("connection closed during fetch")}
	}
}

// walkTree fails only when root itself cannot be listed. Errors below it
// are recorded against the path they hit.
func walkTree(sc *sftp.Client, root string, tree *fileTree) error {
	w := sc.Walk(root)
	for w.Step() {
		if err := w.Err(); err != nil {
			if w.Path() == root {
				return err
			}
			tree.add(RemoteFile{Path: w.Path(), Err: err})
			continue
		}
		if w.Path() == root && !w.Stat().IsDir() {
			return fmt.Errorf("%s is not a directory", root)
		}
		if !w.Stat().Mode().IsRegular() {
			continue
		}
		var buf bytes.Buffer
		f, err := sc.Open(w.Path())
		if err == nil {
			_, err = io.Copy(&buf, f)
			_ = f.Close()
		}
		tree.add(RemoteFile{Path: w.Path(), Data: buf.Bytes(), Err: err})
	}
	return nil
}
