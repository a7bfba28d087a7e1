package cmd

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Linkavych/rOSac/internal/session"
)

// Version is the CLI version string injected at build time via -ldflags.
var Version = "0.1.0"

// errPrivilegedUser signals that the superuser must not be used for
// collection, to encourage a dedicated least-privilege account.
var errPrivilegedUser = errors.New("root account cannot be used; create a dedicated read-only collection user")

var (
	// Global configuration populated by flags, environment variables and
	// the optional config file. Shared across subcommands.
	cfgConfigFile       string
	cfgTarget           string
	cfgPort             int
	cfgUser             string
	cfgPassword         string
	cfgKeyPath          string
	cfgPassphrase       string
	cfgUseAgent         bool
	cfgKnownHosts       string
	cfgStrictHost       bool
	cfgHostKey          string
	cfgConnTimeout      time.Duration
	cfgTimeout          time.Duration
	cfgSessionMode      string
	cfgCatalog          string
	cfgOutDir           string
	cfgDigest           string
	cfgRate             float64
	cfgAllowSideEffects bool
	cfgMaxRisk          string
	cfgArchive          bool
	cfgDeviceClass      string
	cfgLogLevel         string
	cfgLogFormat        string

	cfgTargetsFile string
	cfgParallel    int
)

// logger is built once flags are parsed.
var logger = slog.Default()

// Allow tests to stub the transport.
var newConnectorFunc = func(mode session.Mode, log *slog.Logger) session.Connector {
	return &session.SSHConnector{Mode: mode, Logger: log}
}
