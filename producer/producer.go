// Package producer defines the external artifact producers and an exec-backed
// implementation that runs configured commands.
package producer

import (
	"context"

	"github.com/c360/windowcache/types"
)

// SegmentProducer derives the segments of an item.
type SegmentProducer interface {
	Generate(ctx context.Context, id types.ItemID) ([]types.Segment, error)
}

// PlotProducer renders one plot per segment length and returns their references.
type PlotProducer interface {
	Generate(ctx context.Context, id types.ItemID, byLength map[int][]types.Segment) (types.PlotRefs, error)
}

// SegmentFunc adapts a function to SegmentProducer.
type SegmentFunc func(ctx context.Context, id types.ItemID) ([]types.Segment, error)

// Generate calls f.
func (f SegmentFunc) Generate(ctx context.Context, id types.ItemID) ([]types.Segment, error) {
	return f(ctx, id)
}

// PlotFunc adapts a function to PlotProducer.
type PlotFunc func(ctx context.Context, id types.ItemID, byLength map[int][]types.Segment) (types.PlotRefs, error)

// Generate calls f.
func (f PlotFunc) Generate(ctx context.Context, id types.ItemID, byLength map[int][]types.Segment) (types.PlotRefs, error) {
	return f(ctx, id, byLength)
}
