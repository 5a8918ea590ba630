// Package sequence maps the current item and a window width to concrete generation targets.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/types"
)

// ItemStore supplies the ordered identifiers of every known item.
type ItemStore interface {
	ListItemIDsAscending(ctx context.Context) ([]types.ItemID, error)
}

// Oracle answers ordering questions against a fresh read of the ItemStore.
// The sequence is never cached because the store may grow at any time.
type Oracle struct {
	store  ItemStore
	logger *slog.Logger
}

// NewOracle creates an Oracle backed by store.
func NewOracle(store ItemStore, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{store: store, logger: logger.With("component", "sequence")}
}

// Sequence returns every item id in ascending order, or an error wrapping
// ErrStoreUnavailable.
func (o *Oracle) Sequence(ctx context.Context) ([]types.ItemID, error) {
	ids, err := o.store.ListItemIDsAscending(ctx)
	if err != nil {
		return nil, fmt.Errorf("Oracle.Sequence: %v: %w", err, errors.ErrStoreUnavailable)
	}
	if !slices.IsSorted(ids) {
		ids = slices.Clone(ids)
		slices.Sort(ids)
	}
	return slices.Compact(ids), nil
}

// GetSequence returns the ascending sequence. A store failure is logged and
// yields an empty sequence.
func (o *Oracle) GetSequence(ctx context.Context) []types.ItemID {
	ids, err := o.Sequence(ctx)
	if err != nil {
		o.logger.Error("Item store unavailable", "error", err)
		return []types.ItemID{}
	}
	return ids
}

// ComputeTargets returns seq[max(0, i-nr) : min(len, i+nf+1)] where i is the
// position of current. The slice includes current and is clamped at both ends.
// An absent current item yields an empty result and a warning.
func (o *Oracle) ComputeTargets(ctx context.Context, current types.ItemID, nr, nf int) []types.ItemID {
	seq := o.GetSequence(ctx)
	targets, err := Window(seq, current, nr, nf)
	if err != nil {
		o.logger.Warn("Current item not in sequence", "item_id", current, "sequence_length", len(seq), "error", err)
		return []types.ItemID{}
	}
	return targets
}

// NextOf returns the item after id, or false at the end or when id is absent.
func (o *Oracle) NextOf(ctx context.Context, id types.ItemID) (types.ItemID, bool) {
	return neighbour(o.GetSequence(ctx), id, 1)
}

// PreviousOf returns the item before id, or false at the start or when id is absent.
func (o *Oracle) PreviousOf(ctx context.Context, id types.ItemID) (types.ItemID, bool) {
	return neighbour(o.GetSequence(ctx), id, -1)
}

// Window computes the clamped target slice for current within an ascending seq.
// Negative widths are treated as zero.
func Window(seq []types.ItemID, current types.ItemID, nr, nf int) ([]types.ItemID, error) {
	i, found := slices.BinarySearch(seq, current)
	if !found {
		return nil, fmt.Errorf("item %d: %w", current, errors.ErrStaleCurrentItem)
	}

	lo := max(0, i-max(0, nr))
	hi := min(len(seq), i+max(0, nf)+1)
	return slices.Clone(seq[lo:hi]), nil
}

func neighbour(seq []types.ItemID, id types.ItemID, step int) (types.ItemID, bool) {
	i, found := slices.BinarySearch(seq, id)
	if !found {
		return 0, false
	}
	j := i + step
	if j < 0 || j >= len(seq) {
		return 0, false
	}
	return seq[j], true
}
