package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultConnectTimeout bounds dial plus handshake when the target sets none.
const DefaultConnectTimeout = 15 * time.Second

func authMethods(c Credential) ([]ssh.AuthMethod, error) {
	var auths []ssh.AuthMethod
	if c.KeyPath != "" {
		signer, err := loadSigner(c.KeyPath, c.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("load key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auths = append(auths, ssh.Password(c.Password))
	}
	if c.UseAgent {
		if a := os.Getenv("SSH_AUTH_SOCK"); a != "" {
			if conn, err := net.Dial("unix", a); err == nil {
				ag := agent.NewClient(conn)
				auths = append(auths, ssh.PublicKeysCallback(ag.Signers))
			}
		}
	}
	if len(auths) == 0 {
		return nil, errors.New("no authentication method configured (key, password or agent)")
	}
	return auths, nil
}

// hostKeyCallback builds the verifier for p. The returned flag is set when
// the server key was presented and refused, which distinguishes host key
// failures from other handshake errors.
func hostKeyCallback(p HostKeyPolicy) (ssh.HostKeyCallback, *atomic.Bool, error) {
	var cb ssh.HostKeyCallback
	switch {
	case p.Pinned != "":
		pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(p.Pinned))
		if err != nil {
			return nil, nil, fmt.Errorf("pinned host key: %w", err)
		}
		cb = ssh.FixedHostKey(pk)
	case p.KnownHostsPath != "":
		if _, err := os.Stat(p.KnownHostsPath); err != nil {
			return nil, nil, fmt.Errorf("known_hosts file not found at %s and strict host key checking is enabled", p.KnownHostsPath)
		}
		khcb, err := knownhosts.New(p.KnownHostsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("known_hosts: %w", err)
		}
		cb = khcb
	case p.Insecure:
		cb = ssh.InsecureIgnoreHostKey()
	default:
		return nil, nil, errors.New("no host key policy: set a pinned key, a known_hosts file, or insecure")
	}
	rejected := &atomic.Bool{}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := cb(hostname, remote, key); err != nil {
			rejected.Store(true)
			return err
		}
		return nil
	}, rejected, nil
}

// dialSSH establishes an SSH client connection to t. Failures come back as
// *ConnectionError.
func dialSSH(ctx context.Context, t Target) (*ssh.Client, error) {
	addr := t.Address()
	fail := func(r Reason, err error) error {
		return &ConnectionError{Target: t.String(), Reason: r, Err: err}
	}
	if t.Host == "" {
		return nil, fail(ReasonConfig, errors.New("host is required"))
	}
	if t.User == "" {
		return nil, fail(ReasonConfig, errors.New("user is required"))
	}
	auths, err := authMethods(t.Credential)
	if err != nil {
		return nil, fail(ReasonConfig, err)
	}
	hkcb, rejected, err := hostKeyCallback(t.HostKey)
	if err != nil {
		return nil, fail(ReasonConfig, err)
	}

	timeout := t.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	cfg := &ssh.ClientConfig{
		User:            t.User,
		Auth:            auths,
		HostKeyCallback: hkcb,
		Timeout:         timeout,
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fail(ReasonNetwork, err)
	}
	// The handshake has no context of its own.
	_ = conn.SetDeadline(time.Now().Add(timeout))
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	stop()
	if err != nil {
		_ = conn.Close()
		switch {
		case rejected.Load():
			return nil, fail(ReasonHostKey, err)
		case strings.Contains(err.Error(), "unable to authenticate"):
			return nil, fail(ReasonAuth, err)
		case ctx.Err() != nil:
			return nil, fail(ReasonNetwork, ctx.Err())
		}
		return nil, fail(ReasonNetwork, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
