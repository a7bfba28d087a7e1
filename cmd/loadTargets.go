package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Linkavych/rOSac/internal/session"
)

// targetsFile is the fleet inventory. Unset fields fall back to the global
// flags, so a list of hosts is enough when every device shares an account.
type targetsFile struct {
	Targets []targetEntry `yaml:"targets"`
}

type targetEntry struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	DeviceClass string `yaml:"device_class"`
	HostKey     string `yaml:"host_key"`
}

// loadTargets reads and validates the fleet inventory at path.
func loadTargets(path string) ([]session.Target, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	var tf targetsFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil {
		return nil, fmt.Errorf("parse targets %s: %w", path, err)
	}
	if len(tf.Targets) == 0 {
		return nil, fmt.Errorf("%s: no targets listed", path)
	}

	var errs []error
	out := make([]session.Target, 0, len(tf.Targets))
	seen := map[string]int{}
	for i, te := range tf.Targets {
		port := te.Port
		if port == 0 {
			port = cfgPort
		}
		host, port, err := splitTarget(te.Host, port)
		if err != nil {
			errs = append(errs, fmt.Errorf("targets[%d]: %w", i, err))
			continue
		}
		user := te.User
		if user == "" {
			user = cfgUser
		}
		if err := checkUser(user); err != nil {
			errs = append(errs, fmt.Errorf("targets[%d] (%s): %w", i, host, err))
			continue
		}
		class := te.DeviceClass
		if class == "" {
			class = cfgDeviceClass
		}
		pinned := te.HostKey
		if pinned == "" {
			pinned = cfgHostKey
		}
		t := session.Target{
			Host:           host,
			Port:           port,
			User:           strings.TrimSpace(user),
			Credential:     credential(),
			HostKey:        hostKeyPolicy(pinned),
			DeviceClass:    class,
			ConnectTimeout: cfgConnTimeout,
		}
		if first, dup := seen[t.String()]; dup {
			errs = append(errs, fmt.Errorf("targets[%d]: %s already listed at targets[%d]", i, t, first))
			continue
		}
		seen[t.String()] = i
		out = append(out, t)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
