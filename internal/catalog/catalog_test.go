package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

const baseline = `
name: routeros-baseline
version: "2024.1"
description: RouterOS incident response baseline
entries:
  - name: identity
    category: system
    command: /system identity print
  - name: resource
    category: system
    cmd: /system resource print
    timeout: 30s
    depends_on: identity
  - name: backup_save
    category: files
    command: /system backup save name=rosac-{{run_id}}
    side_effects: true
    risk: medium
  - name: backup_fetch
    category: files
    fetch: rosac-{{run_id}}.backup
    depends_on: backup_save
`

// TestParse_Baseline verifies ordering, the cmd alias, timeouts and identity
// of a well-formed YAML catalog.
func TestParse_Baseline(t *testing.T) {
	c, err := Parse([]byte(baseline))
	require.NoError(t, err)
	require.Equal(t, "routeros-baseline@2024.1", c.Identity())
	require.True(t, strings.HasPrefix(c.Digest, "sha256:"))
	require.Len(t, c.Entries, 4)

	names := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"identity", "resource", "backup_save", "backup_fetch"}, names)

	res, ok := c.Lookup("resource")
	require.True(t, ok)
	require.Equal(t, "/system resource print", res.Command)
	require.Equal(t, 30*time.Second, res.EffectiveTimeout(time.Minute))
	require.Equal(t, time.Minute, c.Entries[0].EffectiveTimeout(time.Minute))

	fetch, _ := c.Lookup("backup_fetch")
	require.True(t, fetch.IsFetch())
	save, _ := c.Lookup("backup_save")
	require.True(t, save.SideEffects)
	require.Equal(t, RiskMedium, save.Risk)

	_, ok = c.Lookup("nope")
	require.False(t, ok)
}

// TestParse_DigestTracksSource verifies that the identity digest changes with
// any byte of the source.
func TestParse_DigestTracksSource(t *testing.T) {
	a, err := Parse([]byte(baseline))
	require.NoError(t, err)
	b, err := Parse([]byte(baseline + "\n"))
	require.NoError(t, err)
	require.NotEqual(t, a.Digest, b.Digest)
}

// TestParse_AggregatesProblems verifies that every malformed entry is
// reported in one error.
func TestParse_AggregatesProblems(t *testing.T) {
	_, err := Parse([]byte(`
name: bad
entries:
  - name: a
    category: system
    command: /a
  - name: a
    category: system
    command: /b
  - name: ../x
    category: system
    command: /c
  - name: both
    category: system
    command: /d
    fetch: f
  - name: neither
    category: system
  - name: tree_args
    category: files
    fetch_dir: /flash
    args: [x]
  - name: t
    category: system
    command: /e
    timeout: soon
  - name: dep
    category: system
    command: /f
    depends_on: later
  - name: later
    category: system
    command: /g
  - name: inject
    category: system
    command: /h {{password}}
  - name: risky
    category: system
    command: /i
    risk: extreme
`))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	joined := strings.Join(cerr.Problems, "\n")
	for _, want := range []string{
		"duplicate name",
		"name must match",
		"mutually exclusive",
		"one of command, fetch or fetch_dir is required",
		"args are not allowed with fetch or fetch_dir",
		`timeout "soon"`,
		`depends_on "later" must name an earlier entry`,
		"unknown placeholder(s) password",
		`risk "extreme"`,
	} {
		require.Contains(t, joined, want)
	}
}

func TestParse_RejectsUnknownTopLevelKeysAndEmptyCatalogs(t *testing.T) {
	_, err := Parse([]byte("name: x\ncommands:\n  - command: y\n"))
	require.Error(t, err)

	_, err = Parse([]byte("name: x\nentries: []\n"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	require.Contains(t, cerr.Error(), "no entries")

	_, err = Parse([]byte("entries:\n  - {name: a, category: s, command: /a}\n"))
	require.Error(t, err)
}

func TestParse_SelfDependency(t *testing.T) {
	_, err := Parse([]byte("name: x\nentries:\n  - {name: a, category: s, command: /a, depends_on: a}\n"))
	require.ErrorContains(t, err, "refers to itself")
}

// TestLoad_FileAndMissing verifies Load on a file path and that a missing
// source is a catalog error.
func TestLoad_FileAndMissing(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "c.yaml", baseline)
	c, err := Load(p)
	require.NoError(t, err)
	require.Len(t, c.Entries, 4)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))

	bad := writeTemp(t, dir, "bad.yaml", "name: x\nentries: []\n")
	_, err = Load(bad)
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, bad, cerr.Source)
}

// TestLoadDir_CommandFiles verifies the directory layout: file stem is the
// category, comments and blanks are ignored, and repeated commands get
// distinct names.
func TestLoadDir_CommandFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "routeros")
	require.NoError(t, os.Mkdir(dir, 0o700))
	writeTemp(t, dir, "network.txt", "/ip route print\n\n# arp\n/ip arp print\n/ip route print\n")
	writeTemp(t, dir, "system", "/system resource print\r\n")
	writeTemp(t, dir, ".hidden", "/should not load\n")

	c, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "routeros", c.Identity())
	require.Len(t, c.Entries, 4)
	require.Equal(t, Entry{Name: "ip_route_print", Category: "network", Command: "/ip route print"}, c.Entries[0])
	require.Equal(t, "ip_arp_print", c.Entries[1].Name)
	require.Equal(t, "ip_route_print_2", c.Entries[2].Name)
	require.Equal(t, Entry{Name: "system_resource_print", Category: "system", Command: "/system resource print"}, c.Entries[3])

	again, err := LoadDir(dir)
	require.NoError(t, err)
	require.Equal(t, c.Digest, again.Digest)

	writeTemp(t, dir, "system", "/system clock print\n")
	changed, err := LoadDir(dir)
	require.NoError(t, err)
	require.NotEqual(t, c.Digest, changed.Digest)
}

func TestLoadDir_Empty(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	require.ErrorContains(t, err, "no entries")
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"/ip route print":                 "ip_route_print",
		"/interface print detail":         "interface_print_detail",
		"/export terse":                   "export_terse",
		"  /ip firewall filter print  ":   "ip_firewall_filter_print",
		"/system/script/print where x=\"": "system_script_print_where_x",
		"._x":                             "x",
		"///":                             "",
		"Show Version":                    "show_version",
	}
	for in, want := range cases {
		require.Equal(t, want, Slug(in), in)
	}
}

// TestRender verifies placeholder expansion, argument quoting and that
// unsafe substitution values are refused.
func TestRender(t *testing.T) {
	v := Vars{Host: "10.0.0.1", Port: 22, User: "ir", RunID: "10.0.0.1-20240101T000000Z-abcd1234"}

	e := Entry{Command: "/system backup save name=rosac-{{run_id}}"}
	got, err := e.Render(v)
	require.NoError(t, err)
	require.Equal(t, "/system backup save name=rosac-10.0.0.1-20240101T000000Z-abcd1234", got)

	e = Entry{Command: "/log print", Args: []string{"where", "topics~{{ user }}", "a b"}}
	got, err = e.Render(v)
	require.NoError(t, err)
	require.Equal(t, "/log print where 'topics~ir' 'a b'", got)

	f := Entry{Fetch: "{{host}}.backup"}
	got, err = f.Render(v)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1.backup", got)

	_, err = (&Entry{Command: "/x {{host}}"}).Render(Vars{Host: "h; reboot"})
	require.ErrorContains(t, err, "unsafe")

	_, err = (&Entry{Command: "/x {{secret}}"}).Render(v)
	require.ErrorContains(t, err, "unknown placeholder")
}

// TestRender_PlaceholdersInArgs covers run values flowing through args and
// fetch_dir paths, where quoting and the unsafe-value check both apply.
func TestRender_PlaceholdersInArgs(t *testing.T) {
	v := Vars{Host: "edge-rtr.lab", Port: 2222, User: "ir", RunID: "edge-rtr.lab-20240101T000000Z-abcd1234"}

	e := Entry{Command: "/export", Args: []string{"file=rosac-{{run_id}}", "comment=by {{user}}@{{host}}:{{port}}"}}
	got, err := e.Render(v)
	require.NoError(t, err)
	require.Equal(t, "/export file=rosac-edge-rtr.lab-20240101T000000Z-abcd1234 'comment=by ir@edge-rtr.lab:2222'", got)

	d := Entry{FetchDir: "/flash/{{host}}"}
	got, err = d.Render(v)
	require.NoError(t, err)
	require.Equal(t, "/flash/edge-rtr.lab", got)

	for _, bad := range []string{"ir'; /system reboot", "a b", "$(id)", "x\ny"} {
		_, err = (&Entry{Command: "/log print", Args: []string{"where", "user={{user}}"}}).Render(Vars{User: bad})
		require.ErrorContains(t, err, "unsafe", bad)
		_, err = (&Entry{FetchDir: "{{user}}"}).Render(Vars{User: bad})
		require.ErrorContains(t, err, "unsafe", bad)
	}
}

func TestRiskExceeds(t *testing.T) {
	require.False(t, RiskHigh.Exceeds(""))
	require.True(t, RiskHigh.Exceeds(RiskMedium))
	require.False(t, RiskMedium.Exceeds(RiskMedium))
	require.False(t, Risk("").Exceeds(RiskLow))
}

func TestShellQuote(t *testing.T) {
	require.Equal(t, "''", shellQuote(""))
	require.Equal(t, "abc-1.2/x", shellQuote("abc-1.2/x"))
	require.Equal(t, "'a b'", shellQuote("a b"))
	require.Equal(t, `'it'\''s'`, shellQuote("it's"))
	require.Equal(t, "name=rosac-1,topics=system", shellQuote("name=rosac-1,topics=system"))
	require.Equal(t, `'where topics~"error"'`, shellQuote(`where topics~"error"`))
	require.Equal(t, "'$(reboot)'", shellQuote("$(reboot)"))
	require.Equal(t, "'a\nb'", shellQuote("a\nb"))
}

// TestLoad_ShippedBaseline keeps the bundled RouterOS catalog valid.
func TestLoad_ShippedBaseline(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "catalogs", "routeros-baseline.yaml"))
	require.NoError(t, err)
	require.Equal(t, "routeros-baseline@1", c.Identity())

	fetch, ok := c.Lookup("backup_fetch")
	require.True(t, ok)
	require.True(t, fetch.IsFetch())
	require.Equal(t, "backup_save", fetch.DependsOn)

	for _, e := range c.Entries {
		if e.SideEffects {
			require.NotEqual(t, RiskHigh, e.Risk, e.Name)
		}
	}
}

func TestLoad_ShippedDeviceFiles(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "catalogs", "routeros-device-files.yaml"))
	require.NoError(t, err)
	e, ok := c.Lookup("device_files")
	require.True(t, ok)
	require.True(t, e.IsFetchDir())
	require.False(t, e.IsFetch())
	require.Equal(t, "/", e.FetchDir)
	require.False(t, e.SideEffects)
}
