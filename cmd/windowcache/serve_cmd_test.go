package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// patchConfig rewrites the workspace config with fn applied.
func patchConfig(t *testing.T, path string, fn func(cfg map[string]any)) {
	t.Helper()
	var cfg map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &cfg))
	fn(cfg)
	data, err = json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

// serveWorkspace prepares a workspace whose serve run follows a sync file and
// generates segments with a shell producer. It returns the config path and
// the sync file path.
func serveWorkspace(t *testing.T, window map[string]any, ids ...int) (string, string) {
	t.Helper()
	path := writeWorkspace(t, ids...)
	syncFile := filepath.Join(filepath.Dir(path), "current_experiment.sync")

	patchConfig(t, path, func(cfg map[string]any) {
		if window != nil {
			cfg["cacheWindow"] = window
		}
		cfg["sync"] = map[string]any{"file": syncFile, "debounce": "20ms"}
		cfg["cacheTypes"] = map[string]any{"segments": true, "plots": false, "verification": false}
		cfg["producers"] = map[string]any{
			"segmentsCommand": []string{"sh", "-c", `echo '[{"segment_type":"arc","start_index":0,"end_index":9,"segment_length":10}]'`},
		}
	})
	return path, syncFile
}

// startServe runs serve until the returned stop function is called.
func startServe(t *testing.T, path string) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", path, "serve", "--shutdown-timeout", "5s"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	stopped := false
	stop = func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("serve did not stop")
		}
	}
	t.Cleanup(stop)
	return stop
}

func waitForSegments(t *testing.T, path string, names ...string) {
	t.Helper()
	dir := filepath.Join(filepath.Dir(path), "cache", "segments")
	for _, name := range names {
		require.Eventually(t, func() bool {
			_, err := os.Stat(filepath.Join(dir, name))
			return err == nil
		}, 5*time.Second, 20*time.Millisecond, name)
	}
}

func TestServe_SyncFileDrivesWindow(t *testing.T) {
	path, syncFile := serveWorkspace(t, nil, 1, 2, 3, 4, 5)
	require.NoError(t, os.WriteFile(syncFile, []byte("/Volumes/ArcData/V3_database/experiment_0042/arc_run_0003.tdms\n"), 0o644))

	stop := startServe(t, path)
	waitForSegments(t, path, "segments_00000002.json", "segments_00000003.json", "segments_00000004.json", "segments_00000005.json")

	_, err := os.Stat(filepath.Join(filepath.Dir(path), "cache", "segments", "segments_00000001.json"))
	assert.True(t, os.IsNotExist(err), "item 1 is outside the window")
	stop()
}

func TestServe_BareIDSyncFile(t *testing.T) {
	path, syncFile := serveWorkspace(t, map[string]any{"Nr": 0, "Nf": 0}, 1, 2, 3)
	require.NoError(t, os.WriteFile(syncFile, []byte("2"), 0o644))

	startServe(t, path)
	waitForSegments(t, path, "segments_00000002.json")
}

func TestServe_HoldsLedgerLock(t *testing.T) {
	path, syncFile := serveWorkspace(t, map[string]any{"Nr": 0, "Nf": 0}, 1, 2)
	require.NoError(t, os.WriteFile(syncFile, []byte("1"), 0o644))

	stop := startServe(t, path)
	waitForSegments(t, path, "segments_00000001.json")

	_, err := runCmd(t, "--config", path, "status")
	require.Error(t, err)
	assert.ErrorContains(t, err, "running serve")

	_, err = runCmd(t, "--config", path, "cleanup")
	require.Error(t, err)

	// Config edits only touch the file and stay allowed
	_, err = runCmd(t, "--config", path, "config", "get", "cacheWindow")
	require.NoError(t, err)

	stop()
	out, err := runCmd(t, "--config", path, "status")
	require.NoError(t, err)
	doc, ok := decode(t, out)["ledger"].(map[string]any)
	require.True(t, ok)
	assert.Empty(t, doc["failed"], "nothing was reconciled as interrupted")
}

func TestServe_FollowsWindowChanges(t *testing.T) {
	path, syncFile := serveWorkspace(t, map[string]any{"Nr": 0, "Nf": 0}, 1, 2, 3, 4, 5)
	require.NoError(t, os.WriteFile(syncFile, []byte("1"), 0o644))

	stop := startServe(t, path)
	waitForSegments(t, path, "segments_00000001.json")

	out, err := runCmd(t, "--config", path, "window", "0", "2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Nr":0,"Nf":2}`, out)

	// Let serve reload the file before the next current item arrives
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, os.WriteFile(syncFile, []byte("/data/arc_run_0003.tdms"), 0o644))
	waitForSegments(t, path, "segments_00000003.json", "segments_00000004.json", "segments_00000005.json")

	stop()
	out, err = runCmd(t, "--config", path, "window")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Nr":0,"Nf":2}`, out, "serve does not revert the edit")
}
