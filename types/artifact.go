// Package types contains shared domain types used across the cache engine
package types

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/c360/windowcache/errors"
)

// ItemID identifies one data file in the ordered item sequence.
type ItemID int64

// Padded returns the id zero-padded to eight digits, as used in cache file names.
func (id ItemID) Padded() string {
	return fmt.Sprintf("%08d", int64(id))
}

// String returns the decimal form of the id
func (id ItemID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseItemID parses a decimal item id.
func ParseItemID(s string) (ItemID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.WrapInvalid(err, "ItemID", "Parse", "parse item id")
	}
	return ItemID(n), nil
}

// ArtifactType names a kind of derived, cacheable output for an item.
type ArtifactType string

// Artifact type constants
const (
	ArtifactSegments     ArtifactType = "segments"
	ArtifactPlots        ArtifactType = "plots"
	ArtifactVerification ArtifactType = "verification"
)

// GenerationOrder is the fixed order in which a task generates artifact types.
// Plots consume segments, so segments come first.
var GenerationOrder = []ArtifactType{ArtifactSegments, ArtifactPlots, ArtifactVerification}

// Valid reports whether t is a known artifact type
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactSegments, ArtifactPlots, ArtifactVerification:
		return true
	default:
		return false
	}
}

// ParseArtifactType converts a string to a known ArtifactType.
func ParseArtifactType(s string) (ArtifactType, error) {
	t := ArtifactType(s)
	if !t.Valid() {
		return "", fmt.Errorf("ParseArtifactType: %q: %w", s, errors.ErrUnknownArtifact)
	}
	return t, nil
}

// Segment is one derived data segment of an item, as produced by the segment producer.
type Segment struct {
	FileID            ItemID  `json:"file_id"`
	SegmentType       string  `json:"segment_type"`
	SegmentIDCode     string  `json:"segment_id_code"`
	StartIndex        int64   `json:"start_index"`
	EndIndex          int64   `json:"end_index"`
	SegmentLength     int     `json:"segment_length"`
	DataLabel         string  `json:"data_label"`
	OverlapPercent    float64 `json:"overlap_percent"`
	TransientPosition *int64  `json:"transient_position,omitempty"`
}

// PlotRefs maps a segment length to the rendered plot file for that length.
type PlotRefs map[int]string

// GroupByLength buckets segments by SegmentLength, keeping producer order within a bucket.
func GroupByLength(segments []Segment) map[int][]Segment {
	groups := make(map[int][]Segment)
	for _, s := range segments {
		groups[s.SegmentLength] = append(groups[s.SegmentLength], s)
	}
	return groups
}

// SortedLengths returns the keys of a length grouping in ascending order.
func SortedLengths[V any](groups map[int]V) []int {
	lengths := make([]int, 0, len(groups))
	for l := range groups {
		lengths = append(lengths, l)
	}
	sort.Ints(lengths)
	return lengths
}
