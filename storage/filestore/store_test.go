package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/metric"
	"github.com/c360/windowcache/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "segments/segments_00000110.json", []byte(`[1]`)))
	data, err := s.Get(ctx, "segments/segments_00000110.json")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(data))

	// Overwrite replaces the value
	require.NoError(t, s.Put(ctx, "segments/segments_00000110.json", []byte(`[2]`)))
	data, err = s.Get(ctx, "segments/segments_00000110.json")
	require.NoError(t, err)
	assert.Equal(t, `[2]`, string(data))

	_, err = os.Stat(filepath.Join(s.Root(), "segments", "segments_00000110.json"+tempSuffix))
	assert.True(t, os.IsNotExist(err), "temp file should not survive a successful put")
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "plots/plots_meta_00000001.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "segments/b.json", []byte("bb")))
	require.NoError(t, s.Put(ctx, "segments/a.json", []byte("a")))
	require.NoError(t, s.Put(ctx, "plots/c.json", []byte("ccc")))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "segments", "partial.json.tmp"), []byte("x"), 0o644))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	keys := make([]string, 0, len(all))
	for _, info := range all {
		keys = append(keys, info.Key)
	}
	assert.Equal(t, []string{"plots/c.json", "segments/a.json", "segments/b.json"}, keys)

	segs, err := s.List(ctx, "segments/")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, int64(1), segs[0].Size)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.Root(), "plots", "c.json"), old, old))
	plots, err := s.List(ctx, "plots/")
	require.NoError(t, err)
	require.Len(t, plots, 1)
	assert.Equal(t, int64(3), plots[0].Size)
	assert.WithinDuration(t, old, plots[0].ModTime, time.Second)
}

func TestStore_ListEmptyRoot(t *testing.T) {
	s := newTestStore(t)

	infos, err := s.List(context.Background(), "segments/")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStore_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "segments/x.json", []byte("x")))
	require.NoError(t, s.Delete(ctx, "segments/x.json"))
	require.NoError(t, s.Delete(ctx, "segments/x.json"))

	_, err := s.Get(ctx, "segments/x.json")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStore_RejectsEscapingKeys(t *testing.T) {
	s := newTestStore(t)

	for _, key := range []string{"", "/", "../outside.json", "segments/../../x", "/abs/path"} {
		err := s.Put(context.Background(), key, []byte("x"))
		require.Error(t, err, "key %q", key)
		assert.True(t, errors.IsInvalid(err), "key %q should be invalid", key)
	}
}

func TestStore_EnsureDir(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.EnsureDir("verification/"))
	fi, err := os.Stat(filepath.Join(s.Root(), "verification"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestStore_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s, err := New(t.TempDir(), registry)
	require.NoError(t, err)
	require.NotNil(t, s.metrics)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "segments/a.json", []byte("a")))
	_, _ = s.Get(ctx, "segments/missing.json")

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.operations.WithLabelValues("put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.operations.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.errors.WithLabelValues("get")))
}

func TestNew_EmptyDir(t *testing.T) {
	_, err := New("", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
