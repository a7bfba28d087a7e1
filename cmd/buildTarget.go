package cmd

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/Linkavych/rOSac/internal/session"
)

// splitTarget accepts host, host:port, [v6]:port or a bare IPv6 address.
func splitTarget(s string, defPort int) (string, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, errors.New("--target is required (host or host:port)")
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port present.
		return strings.Trim(s, "[]"), defPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q in target %q", portStr, s)
	}
	return host, port, nil
}

// checkUser rejects missing and privileged usernames.
func checkUser(u string) error {
	u = strings.TrimSpace(u)
	if u == "" {
		return errors.New("--user is required for SSH authentication")
	}
	if u == "root" {
		return errPrivilegedUser
	}
	return nil
}

// hostKeyPolicy derives the host key policy from flags: a pinned key wins,
// then strict known_hosts, else insecure.
func hostKeyPolicy(pinned string) session.HostKeyPolicy {
	switch {
	case strings.TrimSpace(pinned) != "":
		return session.HostKeyPolicy{Pinned: pinned}
	case cfgStrictHost:
		return session.HostKeyPolicy{KnownHostsPath: cfgKnownHosts}
	default:
		return session.HostKeyPolicy{Insecure: true}
	}
}

func credential() session.Credential {
	return session.Credential{
		Password:   cfgPassword,
		KeyPath:    cfgKeyPath,
		Passphrase: cfgPassphrase,
		UseAgent:   cfgUseAgent,
	}
}

// buildTarget assembles the single-device target from global configuration.
func buildTarget() (session.Target, error) {
	host, port, err := splitTarget(cfgTarget, cfgPort)
	if err != nil {
		return session.Target{}, usageError(err)
	}
	if err := checkUser(cfgUser); err != nil {
		if errors.Is(err, errPrivilegedUser) {
			return session.Target{}, err
		}
		return session.Target{}, usageError(err)
	}
	return session.Target{
		Host:           host,
		Port:           port,
		User:           strings.TrimSpace(cfgUser),
		Credential:     credential(),
		HostKey:        hostKeyPolicy(cfgHostKey),
		DeviceClass:    cfgDeviceClass,
		ConnectTimeout: cfgConnTimeout,
	}, nil
}
