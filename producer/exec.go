package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/types"
)

// ItemPlaceholder in a command argument is replaced by the item id. When no
// argument carries it, the id is appended as the last argument.
const ItemPlaceholder = "{item}"

// plotRequest is written to the plot command's stdin.
type plotRequest struct {
	FileID           types.ItemID            `json:"file_id"`
	SegmentsByLength map[int][]types.Segment `json:"segments_by_length"`
}

// ExecSegmentProducer runs a command that prints the item's segments as a JSON array.
type ExecSegmentProducer struct {
	command []string
	logger  *slog.Logger
}

// NewExecSegmentProducer creates a producer for command, e.g.
// []string{"segmenter", "--file", "{item}"}.
func NewExecSegmentProducer(command []string, logger *slog.Logger) (*ExecSegmentProducer, error) {
	if len(command) == 0 {
		return nil, errors.WrapInvalid(errors.New("empty command"), "ExecSegmentProducer", "New", "validate command")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSegmentProducer{command: command, logger: logger.With("component", "segment-producer")}, nil
}

// Generate runs the command and decodes its stdout.
func (p *ExecSegmentProducer) Generate(ctx context.Context, id types.ItemID) ([]types.Segment, error) {
	out, err := output(ctx, expand(p.command, id), nil)
	if err != nil {
		return nil, fmt.Errorf("ExecSegmentProducer.Generate: item %d: %w", id, err)
	}

	var segments []types.Segment
	if err := json.Unmarshal(out, &segments); err != nil {
		return nil, fmt.Errorf("ExecSegmentProducer.Generate: decode output for item %d: %v: %w", id, err, errors.ErrGeneration)
	}
	for i := range segments {
		if segments[i].FileID == 0 {
			segments[i].FileID = id
		}
	}
	p.logger.Debug("Segments produced", "item_id", id, "count", len(segments))
	return segments, nil
}

// ExecPlotProducer runs a command that reads a plotRequest on stdin and prints
// a JSON object of segment length to plot reference.
type ExecPlotProducer struct {
	command []string
	logger  *slog.Logger
}

// NewExecPlotProducer creates a producer for command.
func NewExecPlotProducer(command []string, logger *slog.Logger) (*ExecPlotProducer, error) {
	if len(command) == 0 {
		return nil, errors.WrapInvalid(errors.New("empty command"), "ExecPlotProducer", "New", "validate command")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecPlotProducer{command: command, logger: logger.With("component", "plot-producer")}, nil
}

// Generate runs the command with the grouped segments on stdin.
func (p *ExecPlotProducer) Generate(ctx context.Context, id types.ItemID, byLength map[int][]types.Segment) (types.PlotRefs, error) {
	in, err := json.Marshal(plotRequest{FileID: id, SegmentsByLength: byLength})
	if err != nil {
		return nil, errors.WrapInvalid(err, "ExecPlotProducer", "Generate", "encode request")
	}

	out, err := output(ctx, expand(p.command, id), in)
	if err != nil {
		return nil, fmt.Errorf("ExecPlotProducer.Generate: item %d: %w", id, err)
	}

	refs := types.PlotRefs{}
	if err := json.Unmarshal(out, &refs); err != nil {
		return nil, fmt.Errorf("ExecPlotProducer.Generate: decode output for item %d: %v: %w", id, err, errors.ErrGeneration)
	}
	p.logger.Debug("Plots produced", "item_id", id, "count", len(refs))
	return refs, nil
}

func expand(command []string, id types.ItemID) []string {
	args := make([]string, len(command))
	replaced := false
	for i, arg := range command {
		if strings.Contains(arg, ItemPlaceholder) {
			arg = strings.ReplaceAll(arg, ItemPlaceholder, id.String())
			replaced = true
		}
		args[i] = arg
	}
	if !replaced {
		args = append(args, id.String())
	}
	return args
}

// output runs args and returns stdout. A failing command reports its stderr.
// A context deadline is reported as ErrGenerationTimeout.
func output(ctx context.Context, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%s: %w", args[0], errors.ErrGenerationTimeout)
			}
			return nil, ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %s: %w", args[0], msg, errors.ErrGeneration)
		}
		return nil, fmt.Errorf("%s: %v: %w", args[0], err, errors.ErrGeneration)
	}
	return out, nil
}
