// Package sshserv is a scripted SSH device emulator for tests and local
// experiments. It answers exec requests, a line-oriented shell that honours
// the end-marker protocol used by persistent shells, and an SFTP subsystem
// serving an in-memory file set.
package sshserv

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Response scripts the device's answer to one command line.
type Response struct {
	Stdout string
	Stderr string
	Exit   int
	// Delay holds the answer back; a client timeout shorter than Delay sees
	// a hung command.
	Delay time.Duration
	// Hang never answers; the command only ends when the client gives up.
	Hang bool
	// DropTimes closes the whole connection the first DropTimes times the
	// command arrives, emulating a device reboot or link loss.
	DropTimes int
}

// Config describes the emulated device.
type Config struct {
	Responses map[string]Response
	// Default answers unknown commands. Nil means a RouterOS style
	// "bad command name" error.
	Default *Response
	// Password enables password authentication. Empty (and no
	// AuthorizedKeys) accepts any client without authentication.
	Password       string
	AuthorizedKeys []ssh.PublicKey
	// Files are served read-only over the sftp subsystem, keyed by path.
	Files map[string][]byte
	// Unreadable files are listed but fail with permission denied on read.
	Unreadable []string
}

// Server is a running emulator.
type Server struct {
	ln      net.Listener
	cfg     Config
	hostKey ssh.Signer

	mu       sync.Mutex
	commands []string
	drops    map[string]int
	conns    map[*ssh.ServerConn]struct{}
	wg       sync.WaitGroup
	closed   bool
}

// Start listens on listenAddr (e.g. 127.0.0.1:0) and serves cfg until Close.
func Start(listenAddr string, cfg Config) (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:      ln,
		cfg:     cfg,
		hostKey: signer,
		drops:   map[string]int{},
		conns:   map[*ssh.ServerConn]struct{}{},
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr is the host:port the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Port is the TCP port the server listens on.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// HostKey is the server's public host key.
func (s *Server) HostKey() ssh.PublicKey { return s.hostKey.PublicKey() }

// AuthorizedHostKey renders the host key as an authorized_keys line.
func (s *Server) AuthorizedHostKey() string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(s.HostKey())))
}

// Commands lists every command line received, in arrival order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Close stops accepting, drops live connections and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.ln.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) serverConfig() *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{}
	if s.cfg.Password == "" && len(s.cfg.AuthorizedKeys) == 0 {
		cfg.NoClientAuth = true
	}
	if s.cfg.Password != "" {
		want := s.cfg.Password
		cfg.PasswordCallback = func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if string(pw) == want {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		}
	}
	if len(s.cfg.AuthorizedKeys) > 0 {
		keys := s.cfg.AuthorizedKeys
		cfg.PublicKeyCallback = func(_ ssh.ConnMetadata, k ssh.PublicKey) (*ssh.Permissions, error) {
			for _, ak := range keys {
				if string(ak.Marshal()) == string(k.Marshal()) {
					return nil, nil
				}
			}
			return nil, errors.New("key not authorized")
		}
	}
	cfg.AddHostKey(s.hostKey)
	return cfg
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	cfg := s.serverConfig()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn, cfg)
		}()
	}
}

func (s *Server) handleConn(raw net.Conn, cfg *ssh.ServerConfig) {
	sc, chans, reqs, err := ssh.NewServerConn(raw, cfg)
	if err != nil {
		_ = raw.Close()
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sc.Close()
		return
	}
	s.conns[sc] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, sc)
		s.mu.Unlock()
		_ = sc.Close()
	}()

	go ssh.DiscardRequests(reqs)
	var wg sync.WaitGroup
	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "")
			continue
		}
		c, creqs, err := ch.Accept()
		if err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleSession(sc, c, creqs)
		}()
	}
	wg.Wait()
}

// respond records line and returns its scripted answer, or ok=false when the
// connection must be dropped instead.
func (s *Server) respond(line string) (Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, line)
	r, found := s.cfg.Responses[line]
	if !found {
		if s.cfg.Default != nil {
			r = *s.cfg.Default
		} else {
			r = Response{Stderr: "bad command name " + line + "\n", Exit: 1}
		}
	}
	if r.DropTimes > 0 && s.drops[line] < r.DropTimes {
		s.drops[line]++
		return r, false
	}
	return r, true
}

func (s *Server) handleSession(sc *ssh.ServerConn, ch ssh.Channel, in <-chan *ssh.Request) {
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { _ = ch.Close() }) }
	defer func() {
		close(done)
		finish()
	}()
	for req := range in {
		switch req.Type {
		case "pty-req", "env":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go func() {
				s.emulateShell(sc, ch, done)
				finish()
			}()
		case "exec":
			cmd, ok := parseString(req.Payload)
			if !ok {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			// "/bin/sh -s -" starts a persistent shell reading stdin.
			if strings.HasPrefix(cmd, "/bin/sh") {
				go func() {
					s.emulateShell(sc, ch, done)
					finish()
				}()
				continue
			}
			go func() {
				s.runExec(sc, ch, cmd, done)
				finish()
			}()
		case "subsystem":
			name, _ := parseString(req.Payload)
			if name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				s.serveSFTP(ch)
				finish()
			}()
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) runExec(sc *ssh.ServerConn, ch ssh.Channel, cmd string, done <-chan struct{}) {
	r, ok := s.respond(cmd)
	if !ok {
		_ = sc.Close()
		return
	}
	if !wait(r, done) {
		return
	}
	_, _ = ch.Write([]byte(r.Stdout))
	_, _ = ch.Stderr().Write([]byte(r.Stderr))
	status := make([]byte, 4)
	binary.BigEndian.PutUint32(status, uint32(r.Exit))
	_, _ = ch.SendRequest("exit-status", false, status)
}

// wait applies Delay/Hang and reports whether the channel is still worth
// answering.
func wait(r Response, done <-chan struct{}) bool {
	if r.Hang {
		<-done
		return false
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-done:
			return false
		}
	}
	return true
}

// emulateShell reads "<command>; echo <marker> $?" lines and answers each
// with the scripted output followed by "<marker> <exit>".
func (s *Server) emulateShell(sc *ssh.ServerConn, ch ssh.Channel, done <-chan struct{}) {
	br := bufio.NewReader(ch)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line == "exit" {
			return
		}
		cmd, marker := line, ""
		if i := strings.LastIndex(line, "; echo "); i >= 0 && strings.HasSuffix(line, " $?") {
			cmd = line[:i]
			marker = strings.Trim(strings.TrimSuffix(line[i+len("; echo "):], " $?"), `'"`)
		}
		r, ok := s.respond(cmd)
		if !ok {
			_ = sc.Close()
			return
		}
		if !wait(r, done) {
			return
		}
		_, _ = ch.Write([]byte(r.Stdout + r.Stderr))
		if marker != "" {
			_, _ = fmt.Fprintf(ch, "%s %s\n", marker, strconv.Itoa(r.Exit))
		}
	}
}

func parseString(p []byte) (string, bool) {
	if len(p) < 4 {
		return "", false
	}
	n := binary.BigEndian.Uint32(p)
	if uint32(len(p)-4) < n {
		return "", false
	}
	return string(p[4 : 4+n]), true
}
