package session

import (
	"net"
	"strconv"
	"time"
)

// Credential selects how to authenticate. Every non-empty method is offered.
type Credential struct {
	Password   string
	KeyPath    string
	Passphrase string
	// UseAgent offers keys from SSH_AUTH_SOCK when it is set.
	UseAgent bool
}

// HostKeyPolicy decides which server keys are trusted. Pinned wins over
// KnownHostsPath; Insecure must be chosen explicitly.
type HostKeyPolicy struct {
	// Pinned is an authorized_keys formatted public key.
	Pinned         string
	KnownHostsPath string
	Insecure       bool
}

// Target describes the device to collect from.
type Target struct {
	Host           string
	Port           int
	User           string
	Credential     Credential
	HostKey        HostKeyPolicy
	DeviceClass    string
	ConnectTimeout time.Duration
}

// DefaultPort is used when Target.Port is zero.
const DefaultPort = 22

// Address is host:port suitable for dialing.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// String identifies the target without credentials.
func (t Target) String() string {
	if t.User == "" {
		return t.Address()
	}
	return t.User + "@" + t.Address()
}
