package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Linkavych/rOSac/internal/session"
)

// envPrefix namespaces environment overrides, e.g. ROSAC_PASSWORD.
const envPrefix = "ROSAC"

// envKeyReplacer maps flag names to variable names, e.g. ROSAC_KNOWN_HOSTS.
var envKeyReplacer = strings.NewReplacer("-", "_")

// init configures the root command's persistent flags, binds them to
// environment variables via Viper, and registers all subcommands.
func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgConfigFile, "config", "", "Optional YAML config file with the same keys as the flags")
	pf.StringVarP(&cfgTarget, "target", "t", "", "Target device host or host:port")
	pf.IntVarP(&cfgPort, "port", "p", session.DefaultPort, "SSH port when --target has none")
	pf.StringVarP(&cfgUser, "user", "u", "", "SSH username")
	pf.StringVar(&cfgPassword, "password", "", "SSH password (or set ROSAC_PASSWORD)")
	pf.StringVar(&cfgKeyPath, "key", "", "Path to SSH private key (PEM, OpenSSH)")
	pf.StringVar(&cfgPassphrase, "passphrase", "", "Private key passphrase (or set ROSAC_PASSPHRASE)")
	pf.BoolVar(&cfgUseAgent, "agent", true, "Offer keys from SSH_AUTH_SOCK when available")
	pf.StringVar(&cfgKnownHosts, "known-hosts", filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"), "Path to known_hosts file")
	pf.BoolVar(&cfgStrictHost, "strict-host-key", true, "Require host key verification (disable to accept any host key)")
	pf.StringVar(&cfgHostKey, "host-key", "", "Pinned host public key in authorized_keys format; overrides --known-hosts")
	pf.DurationVar(&cfgConnTimeout, "conn-timeout", session.DefaultConnectTimeout, "Connection timeout")
	pf.DurationVar(&cfgTimeout, "cmd-timeout", 60*time.Second, "Default per-command timeout (catalog entries may override)")
	pf.StringVar(&cfgSessionMode, "session-mode", string(session.ModeExec), "How commands reach the device: exec or shell")
	pf.StringVarP(&cfgCatalog, "catalog", "c", "", "Catalog YAML file or directory of command files")
	pf.StringVarP(&cfgOutDir, "out", "o", "evidence", "Directory that receives <run_id>/ bundles")
	pf.StringVar(&cfgDigest, "digest", "sha256", "Artifact digest algorithm: sha256 or blake3")
	pf.Float64Var(&cfgRate, "rate", 0, "Maximum commands per second sent to a device (0 = unpaced)")
	pf.BoolVar(&cfgAllowSideEffects, "allow-side-effects", false, "Run catalog entries flagged side_effects (e.g. backup creation)")
	pf.StringVar(&cfgMaxRisk, "max-risk", "", "Skip entries riskier than this level: low, medium or high")
	pf.BoolVar(&cfgArchive, "archive", false, "Also write <run_id>.tar.gz next to the bundle directory")
	pf.StringVar(&cfgDeviceClass, "device-class", "routeros", "Device class recorded in the manifest")
	pf.StringVar(&cfgLogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.StringVar(&cfgLogFormat, "log-format", "text", "Log format: text or json")

	pf.VisitAll(func(f *pflag.Flag) {
		if f.Name != "config" {
			_ = viper.BindPFlag(f.Name, f)
		}
	})
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	// Pull in config file and environment overrides once flags are parsed.
	cobra.OnInitialize(loadConfig)

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fleetCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(verifyBundleCmd)
}

// configErr records a config file problem for the command to report; an
// OnInitialize hook cannot return errors itself.
var configErr error

func loadConfig() {
	configErr = nil
	if cfgConfigFile != "" {
		viper.SetConfigFile(cfgConfigFile)
		if err := viper.ReadInConfig(); err != nil {
			configErr = fmt.Errorf("read config %s: %w", cfgConfigFile, err)
			return
		}
	}
	strs := map[string]*string{
		"target":       &cfgTarget,
		"user":         &cfgUser,
		"password":     &cfgPassword,
		"key":          &cfgKeyPath,
		"passphrase":   &cfgPassphrase,
		"known-hosts":  &cfgKnownHosts,
		"host-key":     &cfgHostKey,
		"session-mode": &cfgSessionMode,
		"catalog":      &cfgCatalog,
		"out":          &cfgOutDir,
		"digest":       &cfgDigest,
		"max-risk":     &cfgMaxRisk,
		"device-class": &cfgDeviceClass,
		"log-level":    &cfgLogLevel,
		"log-format":   &cfgLogFormat,
	}
	for key, dst := range strs {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	durations := map[string]*time.Duration{
		"conn-timeout": &cfgConnTimeout,
		"cmd-timeout":  &cfgTimeout,
	}
	for key, dst := range durations {
		if v := viper.GetString(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			} else {
				configErr = fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	bools := map[string]*bool{
		"strict-host-key":    &cfgStrictHost,
		"agent":              &cfgUseAgent,
		"allow-side-effects": &cfgAllowSideEffects,
		"archive":            &cfgArchive,
	}
	for key, dst := range bools {
		if viper.IsSet(key) {
			*dst = viper.GetBool(key)
		}
	}
	if viper.IsSet("port") {
		cfgPort = viper.GetInt("port")
	}
	if viper.IsSet("rate") {
		cfgRate = viper.GetFloat64("rate")
	}
}
