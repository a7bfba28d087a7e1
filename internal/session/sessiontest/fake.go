// Package sessiontest provides a scripted in-memory device for tests of
// code that drives a session.Session.
package sessiontest

import (
	"context"
	"errors"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Linkavych/rOSac/internal/session"
)

// Reply scripts the device's answer to one command or fetch path.
type Reply struct {
	Stdout string
	Stderr string
	Exit   int
	// Timeout answers with a timeout after emitting Stdout.
	Timeout bool
	// ChannelClosed ends the channel without an exit status.
	ChannelClosed bool
	// LoseSession kills the connection the first LoseSession times the
	// command arrives.
	LoseSession int
	Panic       bool
}

// Device is a fake target. The zero value answers every command with a
// "bad command name" error.
type Device struct {
	Replies map[string]Reply
	// Files answer Fetch calls; missing paths fail like a missing remote file.
	Files map[string]string
	// Unreadable marks files that FetchDir reports with a read error.
	Unreadable map[string]bool
	// ConnectErrs are returned by successive Connect calls before any
	// attempt succeeds.
	ConnectErrs []error
	// Before runs ahead of every command and fetch, outside the device lock.
	Before func(cmd string)

	mu       sync.Mutex
	calls    []string
	seen     map[string]int
	connects int
	open     int
}

var _ session.Connector = (*Device)(nil)

// Connect returns a new session on the device.
func (d *Device) Connect(ctx context.Context, t session.Target) (session.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	if err := ctx.Err(); err != nil {
		return nil, &session.ConnectionError{Target: t.String(), Reason: session.ReasonNetwork, Err: err}
	}
	if len(d.ConnectErrs) > 0 {
		err := d.ConnectErrs[0]
		d.ConnectErrs = d.ConnectErrs[1:]
		return nil, err
	}
	d.open++
	return &Session{d: d}, nil
}

// Calls lists every command and fetch path received, in order.
func (d *Device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Connects counts Connect calls, successful or not.
func (d *Device) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Open counts sessions not yet closed.
func (d *Device) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Session is one connection to a Device.
type Session struct {
	d      *Device
	lost   bool
	closed bool
}

var _ session.Session = (*Session)(nil)

func (s *Session) Execute(ctx context.Context, cmd string, timeout time.Duration) (session.Result, error) {
	if s.d.Before != nil {
		s.d.Before(cmd)
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.check(cmd); err != nil {
		return session.Result{ExitCode: -1}, err
	}
	r, ok := s.d.Replies[cmd]
	if !ok {
		r = Reply{Stderr: "bad command name\n", Exit: 1}
	}
	return s.answer(cmd, r)
}

func (s *Session) Fetch(ctx context.Context, path string, timeout time.Duration) (session.Result, error) {
	if s.d.Before != nil {
		s.d.Before(path)
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.check(path); err != nil {
		return session.Result{ExitCode: -1}, err
	}
	if r, ok := s.d.Replies[path]; ok {
		return s.answer(path, r)
	}
	body, ok := s.d.Files[path]
	if !ok {
		return session.Result{ExitCode: -1}, &session.ExecutionError{Kind: session.KindCommandFailed, Command: path, ExitCode: -1, Err: os.ErrNotExist}
	}
	return session.Result{Stdout: []byte(body)}, nil
}

// FetchDir answers with every entry of Files below dir, in path order.
func (s *Session) FetchDir(ctx context.Context, dir string, timeout time.Duration) (session.Result, error) {
	if s.d.Before != nil {
		s.d.Before(dir)
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.check(dir); err != nil {
		return session.Result{ExitCode: -1}, err
	}
	if r, ok := s.d.Replies[dir]; ok {
		return s.answer(dir, r)
	}
	root := path.Join("/", dir)
	var res session.Result
	for p, body := range s.d.Files {
		full := path.Join("/", p)
		if root != "/" && !strings.HasPrefix(full, root+"/") {
			continue
		}
		f := session.RemoteFile{Path: full, Data: []byte(body)}
		if s.d.Unreadable[p] {
			f = session.RemoteFile{Path: full, Err: os.ErrPermission}
		}
		res.Files = append(res.Files, f)
	}
	if len(res.Files) == 0 {
		return session.Result{ExitCode: -1}, &session.ExecutionError{Kind: session.KindCommandFailed, Command: dir, ExitCode: -1, Err: os.ErrNotExist}
	}
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	return res, nil
}

func (s *Session) check(cmd string) error {
	s.d.calls = append(s.d.calls, cmd)
	if s.closed || s.lost {
		return &session.ExecutionError{Kind: session.KindSessionLost, Command: cmd, ExitCode: -1, Err: errors.New("connection closed")}
	}
	return nil
}

func (s *Session) answer(cmd string, r Reply) (session.Result, error) {
	if s.d.seen == nil {
		s.d.seen = map[string]int{}
	}
	s.d.seen[cmd]++
	if r.Panic {
		panic("scripted panic for " + cmd)
	}
	if s.d.seen[cmd] <= r.LoseSession {
		s.lost = true
		return session.Result{Stdout: []byte(r.Stdout), ExitCode: -1},
			&session.ExecutionError{Kind: session.KindSessionLost, Command: cmd, ExitCode: -1, Err: errors.New("connection reset")}
	}
	res := session.Result{Stdout: []byte(r.Stdout), Stderr: []byte(r.Stderr), ExitCode: r.Exit}
	switch {
	case r.Timeout:
		res.ExitCode = -1
		return res, &session.ExecutionError{Kind: session.KindTimeout, Command: cmd, ExitCode: -1, Err: context.DeadlineExceeded}
	case r.ChannelClosed:
		res.ExitCode = -1
		return res, &session.ExecutionError{Kind: session.KindChannelClosed, Command: cmd, ExitCode: -1}
	case r.Exit != 0:
		return res, &session.ExecutionError{Kind: session.KindNonZeroExit, Command: cmd, ExitCode: r.Exit}
	}
	return res, nil
}

// Close releases the session.
func (s *Session) Close() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.d.open--
	}
	return nil
}
