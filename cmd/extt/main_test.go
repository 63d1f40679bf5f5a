package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "github.com/starford/extt/pkg/config"
)

func TestLineWindow(t *testing.T) {
	cases := []struct {
		name                       string
		total, head, tail, from, to int
		start, end                  int
	}{
		{"all", 10, 0, 0, 0, 0, 0, 10},
		{"head", 10, 3, 0, 0, 0, 0, 3},
		{"head beyond end", 2, 5, 0, 0, 0, 0, 2},
		{"tail", 10, 0, 4, 0, 0, 6, 10},
		{"tail beyond start", 3, 0, 9, 0, 0, 0, 3},
		{"from", 10, 0, 0, 8, 0, 7, 10},
		{"from to", 10, 0, 0, 2, 4, 1, 4},
		{"to only", 10, 0, 0, 0, 2, 0, 2},
		{"from wins over head", 10, 1, 0, 5, 6, 4, 6},
		{"inverted range", 10, 0, 0, 6, 2, 5, 5},
		{"from past end", 3, 0, 0, 7, 0, 3, 3},
		{"empty", 0, 2, 0, 0, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := lineWindow(tc.total, tc.head, tc.tail, tc.from, tc.to)
			assert.Equal(t, tc.start, start, "start")
			assert.Equal(t, tc.end, end, "end")
		})
	}
}

func TestWithExt(t *testing.T) {
	assert.Equal(t, "trip.md", withExt("trip"))
	assert.Equal(t, "trip.md", withExt("trip.md"))
	assert.Equal(t, "Trip.MD", withExt("Trip.MD"))
	assert.Equal(t, "a/b.md", withExt("a/b"))
}

func TestFormatNote(t *testing.T) {
	src := "---\ntitle: x\n---\n# Head\n\n- one\n- two\n\nSome *text*\n"

	out, err := formatNote([]byte(src), true)
	require.NoError(t, err)
	assert.Equal(t, "---\ntitle: x\n---\n# Head\n\n- one\n- two\n\nSome _text_\n", string(out))

	out, err = formatNote([]byte(src), false)
	require.NoError(t, err)
	assert.Equal(t, "---\ntitle: x\n---\n# Head\n\nSome _text_\n", string(out))

	_, err = formatNote([]byte{0xff, 0xfe}, true)
	assert.Error(t, err)
}

// runCLI runs the app against a vault in a temp dir and returns stdout.
func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(context.Background(), append([]string{"extt", "--config", configPath}, args...))
	return out.String(), err
}

func testConfig(t *testing.T) (configPath, vault string) {
	t.Helper()
	dir := t.TempDir()
	vault = filepath.Join(dir, "vault")
	configPath = filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("vault:\n  path: %s\nsqlite:\n  path: %s\n", vault, filepath.Join(dir, "extt.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, vault
}

func TestCommands_NoteLifecycle(t *testing.T) {
	cfg, vault := testConfig(t)

	out, err := runCLI(t, cfg, "new", "--body", "hello *world*", "Trip")
	require.NoError(t, err)
	assert.Equal(t, "Created note: Trip.md\n", out)

	data, err := os.ReadFile(filepath.Join(vault, "Trip.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Trip\n\nhello _world_\n", string(data))

	_, err = runCLI(t, cfg, "new", "Trip")
	assert.Error(t, err, "duplicate note")

	out, err = runCLI(t, cfg, "list")
	require.NoError(t, err)
	assert.Equal(t, "Trip.md\n", out)

	out, err = runCLI(t, cfg, "read", "--tail", "1", "Trip")
	require.NoError(t, err)
	assert.Equal(t, "hello _world_\n", out)

	out, err = runCLI(t, cfg, "search", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Trip.md: Trip\n", out)

	_, err = runCLI(t, cfg, "update", "--title", "Voyage", "--body", "bye", "Trip")
	require.NoError(t, err)
	data, _ = os.ReadFile(filepath.Join(vault, "Trip.md"))
	assert.Equal(t, "# Voyage\n\nbye\n", string(data))

	out, err = runCLI(t, cfg, "read", "--document", "Trip")
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "heading-one"`)

	out, err = runCLI(t, cfg, "mv", "Trip", "archive/Voyage")
	require.NoError(t, err)
	assert.Equal(t, "Moved Trip.md to archive/Voyage.md\n", out)

	out, err = runCLI(t, cfg, "rm", "archive/Voyage")
	require.NoError(t, err)
	assert.Equal(t, "Deleted note: archive/Voyage.md\n", out)

	out, err = runCLI(t, cfg, "list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCommands_UpdateKeepsHeading(t *testing.T) {
	cfg, vault := testConfig(t)
	_, err := runCLI(t, cfg, "new", "--body", "first", "Log")
	require.NoError(t, err)

	_, err = runCLI(t, cfg, "update", "--body", "second", "Log")
	require.NoError(t, err)
	data, _ := os.ReadFile(filepath.Join(vault, "Log.md"))
	assert.Equal(t, "# Log\n\nsecond\n", string(data))

	_, err = runCLI(t, cfg, "update", "Log")
	assert.Error(t, err)
}

func TestCommands_SyncPicksUpExternalFiles(t *testing.T) {
	cfg, vault := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(vault, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(vault, "sub", "a.md"), []byte("# A\n"), 0o644))

	out, err := runCLI(t, cfg, "sync")
	require.NoError(t, err)
	assert.Equal(t, "Index synced: 1 added, 0 updated, 0 removed, 0 unchanged.\n", out)

	out, err = runCLI(t, cfg, "list", "--sort", "title")
	require.NoError(t, err)
	assert.Equal(t, "sub/a.md\n", out)
}

func TestCommands_Fmt(t *testing.T) {
	cfg, _ := testConfig(t)
	file := filepath.Join(t.TempDir(), "n.md")
	require.NoError(t, os.WriteFile(file, []byte("Some *text*\n"), 0o644))

	_, err := runCLI(t, cfg, "fmt", "--check", file)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not formatted"))

	_, err = runCLI(t, cfg, "fmt", "-w", file)
	require.NoError(t, err)
	data, _ := os.ReadFile(file)
	assert.Equal(t, "Some _text_\n", string(data))

	_, err = runCLI(t, cfg, "fmt", "--check", file)
	assert.NoError(t, err)
}

func TestCheckConfig(t *testing.T) {
	cfg, vault := testConfig(t)
	out, err := runCLI(t, cfg, "check-config")
	require.NoError(t, err)
	assert.Contains(t, out, "Vault: "+vault)
	assert.Contains(t, out, "Autosave delay: 500ms")
}

func TestInit(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config", "config.yaml")
	out, err := runCLI(t, cfg, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+cfg)

	data, err := os.ReadFile(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "autosave_delay: 500ms")

	out, err = runCLI(t, cfg, "check-config")
	require.NoError(t, err)
	assert.Contains(t, out, "Vault: ./vault")
	assert.Contains(t, out, "Index: ./extt.db")
	assert.Contains(t, out, "HTTP: :8080")
	assert.Contains(t, out, "Autosave delay: 500ms")

	require.NoError(t, os.WriteFile(cfg, []byte("vault:\n  path: mine\n"), 0o644))
	_, err = runCLI(t, cfg, "init")
	require.ErrorIs(t, err, pkgconfig.ErrExists)
	data, err = os.ReadFile(cfg)
	require.NoError(t, err)
	assert.Equal(t, "vault:\n  path: mine\n", string(data))
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, filepath.Join(t.TempDir(), "none.yaml"), "version")
	require.NoError(t, err)
	assert.Equal(t, "extt dev\n", out)
}
