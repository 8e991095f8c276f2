package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadre-oss/mneme/internal/memory"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(t *testing.T) {
	t.Cleanup(func() {
		cfgFile = ""
		resetCommandFlags(rootCmd)
		rootCmd.SetArgs(nil)
	})
}

// resetCommandFlags restores every flag in the tree to its default; cobra
// keeps parsed values between Execute calls.
func resetCommandFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetCommandFlags(c)
	}
}

// writeTestConfig writes a sqlite-backed config using the heuristic
// extractor so no provider is needed.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mneme.yaml")
	content := "name: test\n" +
		"store:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "memory.db") + "\n" +
		"provider:\n  name: anthropic\n  api_key: test-key\n" +
		"extraction:\n  strategy: heuristic\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestInit_WritesTemplate(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()

	out, err := execute(t, "init", dir, "--name", "Ava")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")

	data, err := os.ReadFile(filepath.Join(dir, "mneme.yaml"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "name: Ava\n"))

	_, err = execute(t, "init", dir, "--name", "Ava")
	assert.Error(t, err, "existing file needs --force")
}

func TestMemoryCommands(t *testing.T) {
	resetFlags(t)
	cfg := writeTestConfig(t)

	out, err := execute(t, "--config", cfg, "memory", "add", "--title", "Pet", "--content", "User has a cat named Whiskers", "-i", "6")
	require.NoError(t, err)
	assert.Contains(t, out, `Added memory: "Pet"`)

	_, err = execute(t, "--config", cfg, "memory", "add", "--title", "Color", "--content", "Favorite color is blue", "-i", "3")
	require.NoError(t, err)

	out, err = execute(t, "--config", cfg, "memory", "list", "--json", "--filter", "importance > 5")
	require.NoError(t, err)
	var listed []memory.Memory
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "Pet", listed[0].Title)

	out, err = execute(t, "--config", cfg, "memory", "update", "pet", "--importance", "9", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, `Updated memory: "Pet"`)

	out, err = execute(t, "--config", cfg, "memory", "search", "whiskers")
	require.NoError(t, err)
	assert.Contains(t, out, "Strategy: ")
	assert.NotContains(t, out, "Strategy: none")
	assert.Contains(t, out, "Pet")

	out, err = execute(t, "--config", cfg, "memory", "delete", "color")
	require.NoError(t, err)
	assert.Contains(t, out, `Deleted memory: "color"`)

	out, err = execute(t, "--config", cfg, "memory", "delete", "color")
	require.NoError(t, err)
	assert.Contains(t, out, `No memory titled "color"`)

	out, err = execute(t, "--config", cfg, "memory", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1 memories")
}

func TestMemoryExtract_Heuristic(t *testing.T) {
	resetFlags(t)
	cfg := writeTestConfig(t)

	out, err := execute(t, "--config", cfg, "memory", "extract", "My", "name", "is", "Alex")
	require.NoError(t, err)
	assert.Contains(t, out, "Added")

	out, err = execute(t, "--config", cfg, "memory", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "User identity")
}

func TestMemoryList_InvalidFilter(t *testing.T) {
	resetFlags(t)
	cfg := writeTestConfig(t)

	_, err := execute(t, "--config", cfg, "memory", "list", "--filter", "importance +")
	assert.Error(t, err)
}

func TestConfigShow_RedactsKey(t *testing.T) {
	resetFlags(t)
	cfg := writeTestConfig(t)

	out, err := execute(t, "--config", cfg, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "***")
	assert.NotContains(t, out, "test-key")
	assert.Contains(t, out, "driver: sqlite")

	out, err = execute(t, "--config", cfg, "--store-driver", "memory", "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "store=memory")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", redact(""))
	assert.Equal(t, "***", redact("short"))
	assert.Equal(t, "***cdef", redact("sk-ant-abcdef"))
}
