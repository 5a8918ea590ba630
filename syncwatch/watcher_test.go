package syncwatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/c360/windowcache/types"
)

// filenameTable resolves names by substring, like the files table lookup.
type filenameTable struct {
	mu      sync.Mutex
	names   map[string]types.ItemID
	err     error
	lookups []string
}

func (f *filenameTable) LookupByFilename(_ context.Context, name string) (types.ItemID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, name)
	if f.err != nil {
		return 0, false, f.err
	}
	id, ok := f.names[name]
	return id, ok, nil
}

func (f *filenameTable) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *filenameTable) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lookups)
}

func startWatcher(t *testing.T, path string, opts ...Option) <-chan types.ItemID {
	t.Helper()

	got := make(chan types.ItemID, 16)
	w, err := New(path, 20*time.Millisecond, func(_ context.Context, id types.ItemID) error {
		got <- id
		return nil
	}, nil, opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() returned %v", err)
		}
	})
	return got
}

func expectItem(t *testing.T, got <-chan types.ItemID, want types.ItemID) {
	t.Helper()
	select {
	case id := <-got:
		if id != want {
			t.Errorf("handler got item %d, want %d", id, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for item %d", want)
	}
}

func expectNothing(t *testing.T, got <-chan types.ItemID) {
	t.Helper()
	select {
	case id := <-got:
		t.Errorf("unexpected dispatch of item %d", id)
	case <-time.After(200 * time.Millisecond):
	}
}

func writeSync(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sync file: %v", err)
	}
}

func TestWatcher_InitialReadAndChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current_item.sync")
	writeSync(t, path, "110\n")

	got := startWatcher(t, path)
	expectItem(t, got, 110)

	writeSync(t, path, "  111 \n")
	expectItem(t, got, 111)

	writeSync(t, path, "111")
	expectNothing(t, got)

	// Without a resolver, path-form content names nothing
	writeSync(t, path, "/data/arc_run_0112.tdms")
	expectNothing(t, got)

	writeSync(t, path, "112")
	expectItem(t, got, 112)
}

func TestWatcher_ResolvesPathContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current_experiment.sync")
	table := &filenameTable{names: map[string]types.ItemID{
		"arc_run_0137.tdms": 137,
		"arc_run_0138.tdms": 138,
		"arc_run_0139.tdms": 139,
	}}
	writeSync(t, path, "/Volumes/ArcData/V3_database/experiment_0042/arc_run_0137.tdms\n")

	got := startWatcher(t, path, WithResolver(table))
	expectItem(t, got, 137)

	writeSync(t, path, "/Volumes/ArcData/V3_database/experiment_0042/arc_run_0138.tdms")
	expectItem(t, got, 138)

	// Same item under another directory is not dispatched again
	writeSync(t, path, "/mnt/copy/arc_run_0138.tdms")
	expectNothing(t, got)

	writeSync(t, path, `C:\ArcData\arc_run_0139.tdms`)
	expectItem(t, got, 139)

	writeSync(t, path, "/Volumes/ArcData/unknown.tdms")
	expectNothing(t, got)

	// Bare ids bypass the resolver
	before := table.lookupCount()
	writeSync(t, path, "42")
	expectItem(t, got, 42)
	if n := table.lookupCount(); n != before {
		t.Errorf("bare id triggered %d lookups", n-before)
	}

	table.mu.Lock()
	defer table.mu.Unlock()
	for _, name := range table.lookups {
		if filepath.Base(name) != name || name == "" {
			t.Errorf("resolver got %q, want a base name", name)
		}
	}
}

func TestWatcher_RetriesAfterResolverError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current_experiment.sync")
	table := &filenameTable{
		names: map[string]types.ItemID{"arc_run_0005.tdms": 5},
		err:   errors.New("database is locked"),
	}
	writeSync(t, path, "/data/arc_run_0005.tdms")

	got := startWatcher(t, path, WithResolver(table))
	expectNothing(t, got)

	table.setErr(nil)
	writeSync(t, path, "/data/arc_run_0005.tdms")
	expectItem(t, got, 5)
}

func TestWatcher_FileCreatedLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current_item.sync")
	got := startWatcher(t, path)

	// Give Run time to register the directory watch.
	time.Sleep(50 * time.Millisecond)
	writeSync(t, path, "7")
	expectItem(t, got, 7)
}

func TestWatcher_RenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current_item.sync")
	writeSync(t, path, "1")

	got := startWatcher(t, path)
	expectItem(t, got, 1)

	tmp := filepath.Join(dir, "current_item.sync.tmp")
	writeSync(t, tmp, "2")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	expectItem(t, got, 2)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current_item.sync")
	writeSync(t, path, "5")

	got := startWatcher(t, path)
	expectItem(t, got, 5)

	writeSync(t, filepath.Join(dir, "other.sync"), "6")
	expectNothing(t, got)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", time.Second, func(context.Context, types.ItemID) error { return nil }, nil); err == nil {
		t.Error("New() with empty path should fail")
	}
	if _, err := New("x.sync", time.Second, nil, nil); err == nil {
		t.Error("New() with nil handler should fail")
	}
}

func TestParseItemID(t *testing.T) {
	tests := []struct {
		in      string
		want    types.ItemID
		wantErr bool
	}{
		{"110", 110, false},
		{"  42\n", 42, false},
		{"00000107", 107, false},
		{"current=107", 0, true},
		{"/data/experiment_0042/arc_run_0137.tdms", 0, true},
		{"", 0, true},
		{"none", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseItemID([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseItemID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseItemID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"/Volumes/ArcData/experiment_0042/arc_run_0137.tdms": "arc_run_0137.tdms",
		`C:\ArcData\arc_run_0139.tdms`:                       "arc_run_0139.tdms",
		"arc_run_0001.tdms":                                  "arc_run_0001.tdms",
		"/trailing/":                                         "",
	}
	for in, want := range tests {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}
