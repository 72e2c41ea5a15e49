package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeConfig writes a YAML config with every backend off and the given
// data and heatmap directories.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	body := "log:\n  level: error\n" +
		"paths:\n  data_dir: " + filepath.Join(dir, "data") + "\n" +
		"  heatmap_dir: " + filepath.Join(dir, "heatmap") + "\n" + extra
	path := filepath.Join(dir, "heatmap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "heatmap", cmd.Use)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"build", "inspect", "weights", "submit", "migrate", "serve", "worker", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	pf := cmd.PersistentFlags()

	for _, name := range []string{"config", "log-level", "output", "verbose", "no-color", "timeout"} {
		assert.NotNil(t, pf.Lookup(name), "missing flag --%s", name)
	}
	assert.Equal(t, "c", pf.Lookup("config").Shorthand)
	assert.Equal(t, "table", pf.Lookup("output").DefValue)
}

func TestVersionCmd_JSON(t *testing.T) {
	Version, GitCommit, BuildDate = "1.2.3", "abc123", "2024-01-01"
	t.Cleanup(func() { Version, GitCommit, BuildDate = "dev", "unknown", "unknown" })

	out, err := runCLI(t, "version", "-o", "json", "--config", writeConfig(t, t.TempDir(), ""))
	require.NoError(t, err)

	var v versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, versionInfo{Version: "1.2.3", Commit: "abc123", BuildDate: "2024-01-01"}, v)
}

func TestVersionCmd_Text(t *testing.T) {
	out, err := runCLI(t, "version", "-o", "text", "--config", writeConfig(t, t.TempDir(), ""))
	require.NoError(t, err)
	assert.Contains(t, out, "heatmap dev")
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	_, err := runCLI(t, "version", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestRootCommand_UnknownSubcommand(t *testing.T) {
	_, err := runCLI(t, "frobnicate")
	require.Error(t, err)
}

func TestGetCLIContext_Missing(t *testing.T) {
	_, err := GetCLIContext(newVersionCmd())
	require.Error(t, err)
}
