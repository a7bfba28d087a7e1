package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Linkavych/rOSac/internal/catalog"
	"github.com/Linkavych/rOSac/internal/evidence"
)

// stubExit records the code Execute would exit with.
func stubExit(t *testing.T) *int {
	t.Helper()
	code := -1
	orig := exitFunc
	t.Cleanup(func() { exitFunc = orig })
	exitFunc = func(c int) { code = c }
	return &code
}

// Happy path: Execute() should not call exitFunc when rootCmd succeeds.
func TestExecute_Success_NoExit(t *testing.T) {
	resetConfig(t)
	stubConnector(t, routerDevice())
	code := stubExit(t)
	tmp := t.TempDir()
	cat := writeTemp(t, tmp, "catalog.yaml", testCatalog)

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"run", "-t", "192.0.2.10", "-u", "ir", "--strict-host-key=false", "-c", cat, "-o", filepath.Join(tmp, "out")})
	Execute()
	require.Equal(t, -1, *code)
}

// Sad path: the root user prints to stdout and exits 1.
func TestExecute_RootUser_StdoutExit1(t *testing.T) {
	resetConfig(t)
	code := stubExit(t)
	tmp := t.TempDir()
	cat := writeTemp(t, tmp, "catalog.yaml", testCatalog)
	rootCmd.SetArgs([]string{"run", "-t", "192.0.2.10", "-u", "root", "-c", cat, "-o", tmp})

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	Execute()

	_ = w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	require.Contains(t, buf.String(), "root account cannot be used")
	require.Equal(t, exitGeneral, *code)
}

func TestExecute_UsageErrorExits2(t *testing.T) {
	resetConfig(t)
	code := stubExit(t)
	rootCmd.SetArgs([]string{"run", "-u", "ir"})
	Execute()
	require.Equal(t, exitUsage, *code)
}

func TestExitCodeFor(t *testing.T) {
	require.Equal(t, exitOK, exitCodeFor(nil))
	require.Equal(t, exitGeneral, exitCodeFor(errors.New("boom")))
	require.Equal(t, exitUsage, exitCodeFor(usageError(errors.New("bad flag"))))
	require.Equal(t, exitUsage, exitCodeFor(fmt.Errorf("load: %w", &catalog.Error{Source: "c.yaml"})))
	require.Equal(t, exitPartial, exitCodeFor(fmt.Errorf("wrapped: %w", &exitError{code: exitPartial})))
	require.Empty(t, (&exitError{code: exitAborted}).Error())
}

func TestExitCodeForStatus(t *testing.T) {
	cases := map[evidence.RunStatus]int{
		evidence.RunCompleted: exitOK,
		evidence.RunPartial:   exitPartial,
		evidence.RunAborted:   exitAborted,
		evidence.RunFailed:    exitFailed,
		"bogus":               exitGeneral,
	}
	for st, want := range cases {
		require.Equal(t, want, exitCodeForStatus(st), string(st))
	}
}
