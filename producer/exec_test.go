package producer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/types"
)

func TestExpand(t *testing.T) {
	assert.Equal(t, []string{"seg", "--file", "42"}, expand([]string{"seg", "--file", "{item}"}, 42))
	assert.Equal(t, []string{"seg", "--file=42"}, expand([]string{"seg", "--file={item}"}, 42))
	assert.Equal(t, []string{"seg", "42"}, expand([]string{"seg"}, 42))
}

func TestExecSegmentProducer_Generate(t *testing.T) {
	t.Parallel()
	script := `echo '[{"segment_type":"L","segment_id_code":"L1","start_index":0,"end_index":7,"segment_length":8,"data_label":"item-{item}","overlap_percent":0}]'`
	p, err := NewExecSegmentProducer([]string{"sh", "-c", script}, nil)
	require.NoError(t, err)

	segments, err := p.Generate(context.Background(), 110)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, types.ItemID(110), segments[0].FileID, "missing file_id defaults to the item")
	assert.Equal(t, 8, segments[0].SegmentLength)
	assert.Equal(t, "item-110", segments[0].DataLabel)
	assert.Nil(t, segments[0].TransientPosition)
}

func TestExecSegmentProducer_StderrMessage(t *testing.T) {
	t.Parallel()
	p, err := NewExecSegmentProducer([]string{"sh", "-c", "echo 'no such file' >&2; exit 1"}, nil)
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")
	assert.True(t, errors.Is(err, errors.ErrGeneration))
}

func TestExecSegmentProducer_BadOutput(t *testing.T) {
	t.Parallel()
	p, err := NewExecSegmentProducer([]string{"sh", "-c", "echo not-json"}, nil)
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrGeneration))
}

func TestExecSegmentProducer_Timeout(t *testing.T) {
	t.Parallel()
	p, err := NewExecSegmentProducer([]string{"sleep", "10"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Generate(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrGenerationTimeout))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecPlotProducer_Generate(t *testing.T) {
	t.Parallel()
	// Echo one ref per length key found in the request.
	script := `in=$(cat); case "$in" in *'"8":'*) echo '{"8":"plots/{item}_len8.png"}';; *) echo '{}';; esac`
	p, err := NewExecPlotProducer([]string{"sh", "-c", script}, nil)
	require.NoError(t, err)

	refs, err := p.Generate(context.Background(), 7, map[int][]types.Segment{
		8: {{FileID: 7, SegmentLength: 8}},
	})
	require.NoError(t, err)
	assert.Equal(t, types.PlotRefs{8: "plots/7_len8.png"}, refs)
}

func TestNewExecProducers_EmptyCommand(t *testing.T) {
	_, err := NewExecSegmentProducer(nil, nil)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewExecPlotProducer([]string{}, nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestFuncAdapters(t *testing.T) {
	var sp SegmentProducer = SegmentFunc(func(_ context.Context, id types.ItemID) ([]types.Segment, error) {
		return []types.Segment{{FileID: id}}, nil
	})
	segments, err := sp.Generate(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, types.ItemID(3), segments[0].FileID)

	var pp PlotProducer = PlotFunc(func(_ context.Context, _ types.ItemID, byLength map[int][]types.Segment) (types.PlotRefs, error) {
		return types.PlotRefs{len(byLength): "x"}, nil
	})
	refs, err := pp.Generate(context.Background(), 3, map[int][]types.Segment{1: nil})
	require.NoError(t, err)
	assert.Equal(t, "x", refs[1])
}
