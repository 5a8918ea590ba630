package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// runCmd executes the root command and returns stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// writeWorkspace creates an item database holding ids and a config file
// pointing at it. It returns the config path.
func writeWorkspace(t *testing.T, ids ...int) string {
	t.Helper()
	dir := t.TempDir()

	dsn := filepath.Join(dir, "items.db")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE files (file_id INTEGER PRIMARY KEY, original_filename TEXT)`)
	require.NoError(t, err)
	for _, id := range ids {
		_, err := db.Exec(`INSERT INTO files (file_id, original_filename) VALUES (?, ?)`, id, fmt.Sprintf("arc_run_%04d.tdms", id))
		require.NoError(t, err)
	}

	cfg := map[string]any{
		"cacheWindow": map[string]any{"Nr": 1, "Nf": 2},
		"storage":     map[string]any{"cacheDir": filepath.Join(dir, "cache")},
		"itemStore":   map[string]any{"dsn": dsn},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(dir, "cache_config.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m), out)
	return m
}

func TestConfigGetSet(t *testing.T) {
	path := writeWorkspace(t)

	out, err := runCmd(t, "--config", path, "config", "get", "cacheWindow.Nf")
	require.NoError(t, err)
	assert.JSONEq(t, "2", out)

	out, err = runCmd(t, "--config", path, "config", "set", "cacheLimits.maxCacheAgeHours", "12")
	require.NoError(t, err)
	assert.JSONEq(t, "12", out)

	out, err = runCmd(t, "--config", path, "config", "get", "cacheLimits.maxCacheAgeHours")
	require.NoError(t, err)
	assert.JSONEq(t, "12", out, "the change is persisted")

	out, err = runCmd(t, "--config", path, "config", "get")
	require.NoError(t, err)
	assert.Contains(t, decode(t, out), "cacheTypes")
}

func TestConfigSet_UnknownPath(t *testing.T) {
	path := writeWorkspace(t)

	_, err := runCmd(t, "--config", path, "config", "set", "no.such.key", "1")
	require.Error(t, err)
}

func TestWindow(t *testing.T) {
	path := writeWorkspace(t)

	out, err := runCmd(t, "--config", path, "window")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Nr":1,"Nf":2}`, out)

	out, err = runCmd(t, "--config", path, "window", "5", "20")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Nr":5,"Nf":20}`, out)

	_, err = runCmd(t, "--config", path, "window", "51", "20")
	require.Error(t, err, "Nr above 50 is rejected")

	_, err = runCmd(t, "--config", path, "window", "5")
	require.Error(t, err)

	out, err = runCmd(t, "--config", path, "window")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Nr":5,"Nf":20}`, out)
}

func TestTargets(t *testing.T) {
	path := writeWorkspace(t, 1, 2, 3, 4, 5, 6, 7, 8)

	out, err := runCmd(t, "--config", path, "targets", "4")
	require.NoError(t, err)
	assert.JSONEq(t, `{"current":4,"Nr":1,"Nf":2,"targets":[3,4,5,6]}`, out)

	out, err = runCmd(t, "--config", path, "targets", "8", "--nr", "3", "--nf", "5")
	require.NoError(t, err)
	assert.JSONEq(t, `{"current":8,"Nr":3,"Nf":5,"targets":[5,6,7,8]}`, out)

	_, err = runCmd(t, "--config", path, "targets", "99")
	require.Error(t, err, "an item outside the sequence has no window")

	_, err = runCmd(t, "--config", path, "targets", "four")
	require.Error(t, err)
}

func TestStatus_Offline(t *testing.T) {
	path := writeWorkspace(t, 1, 2, 3)

	out, err := runCmd(t, "--config", path, "status")
	require.NoError(t, err)

	summary := decode(t, out)
	assert.Contains(t, summary, "ledger")
	assert.Contains(t, summary, "queue")
	dirs, ok := summary["cacheDirs"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, dirs, 3)
}

func TestStatus_RemoteRequiresNATS(t *testing.T) {
	path := writeWorkspace(t)

	_, err := runCmd(t, "--config", path, "status", "--remote")
	require.Error(t, err)
}

func TestCleanup_Offline(t *testing.T) {
	path := writeWorkspace(t, 1)

	out, err := runCmd(t, "--config", path, "cleanup")
	require.NoError(t, err)
	report := decode(t, out)
	assert.EqualValues(t, 0, report["deleted"])

	out, err = runCmd(t, "--config", path, "cleanup", "--oversized")
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, out)["ran"])
}

func TestCleanup_RemoteRequiresNATS(t *testing.T) {
	path := writeWorkspace(t)

	_, err := runCmd(t, "--config", path, "cleanup", "--remote")
	require.Error(t, err)
}

func TestOfflineCommands_ReleaseLock(t *testing.T) {
	path := writeWorkspace(t, 1, 2)

	// Each run releases the ledger lock, so the next one can take it
	for i := 0; i < 2; i++ {
		_, err := runCmd(t, "--config", path, "status")
		require.NoError(t, err)
		_, err = runCmd(t, "--config", path, "cleanup")
		require.NoError(t, err)
	}
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, float64(3), parseValue("3"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, []any{"a", "b"}, parseValue(`["a","b"]`))
	assert.Equal(t, "plain text", parseValue("plain text"))
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"service":"windowcache"`)
}
