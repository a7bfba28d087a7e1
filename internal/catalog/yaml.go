package catalog

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type yamlCatalog struct {
	Name        string      `yaml:"name"`
	Version     string      `yaml:"version"`
	Description string      `yaml:"description"`
	Entries     []yamlEntry `yaml:"entries"`
}

type yamlEntry struct {
	Name        string   `yaml:"name"`
	Category    string   `yaml:"category"`
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	Fetch       string   `yaml:"fetch"`
	FetchDir    string   `yaml:"fetch_dir"`
	Timeout     string   `yaml:"timeout"`
	DependsOn   string   `yaml:"depends_on"`
	Risk        Risk     `yaml:"risk"`
	SideEffects bool     `yaml:"side_effects"`
}

// UnmarshalYAML accepts "cmd" as an alias for "command".
func (e *yamlEntry) UnmarshalYAML(value *yaml.Node) error {
	type plain yamlEntry
	var aux struct {
		plain `yaml:",inline"`
		Cmd   string `yaml:"cmd"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	*e = yamlEntry(aux.plain)
	if e.Command == "" {
		e.Command = aux.Cmd
	}
	return nil
}

// parseYAML decodes a YAML catalog document. Field-level problems are added
// to cerr; a structural decode failure is returned directly.
func parseYAML(b []byte, cerr *Error) (*Catalog, error) {
	var doc yamlCatalog
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	c := &Catalog{
		Name:        doc.Name,
		Version:     doc.Version,
		Description: doc.Description,
		Entries:     make([]Entry, 0, len(doc.Entries)),
	}
	for i, ye := range doc.Entries {
		var timeout time.Duration
		if ye.Timeout != "" {
			d, err := time.ParseDuration(ye.Timeout)
			if err != nil {
				cerr.add("entries[%d]: timeout %q: %v", i, ye.Timeout, err)
			} else if d <= 0 {
				cerr.add("entries[%d]: timeout must be positive", i)
			} else {
				timeout = d
			}
		}
		c.Entries = append(c.Entries, Entry{
			Name:        ye.Name,
			Category:    ye.Category,
			Command:     ye.Command,
			Args:        ye.Args,
			Fetch:       ye.Fetch,
			FetchDir:    ye.FetchDir,
			Timeout:     timeout,
			DependsOn:   ye.DependsOn,
			Risk:        ye.Risk,
			SideEffects: ye.SideEffects,
		})
	}
	return c, nil
}
