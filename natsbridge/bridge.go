// Package natsbridge exposes the orchestrator on NATS subjects.
//
// The current-item subject accepts a bare integer or {"itemId": N} and moves
// the window; requests carrying a reply subject receive the trigger result.
// The status subject answers every request with the status summary, and the
// cleanup subject runs a cleanup pass in the serving process and answers with
// its report.
package natsbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/natsclient"
	"github.com/c360/windowcache/orchestrator"
	"github.com/c360/windowcache/types"
)

// Orchestrator is the part of the service the bridge drives.
type Orchestrator interface {
	SetCurrentItem(ctx context.Context, id types.ItemID) (orchestrator.TriggerResult, error)
	StatusSummary(ctx context.Context) orchestrator.Summary
	Cleanup(ctx context.Context) (orchestrator.CleanupReport, error)
	CleanupIfOversized(ctx context.Context) (orchestrator.CleanupReport, bool, error)
}

// Transport registers request handlers on subjects. *natsclient.Client satisfies it.
type Transport interface {
	Reply(ctx context.Context, subject string, handler natsclient.RequestHandler) error
}

// Config names the subjects the bridge listens on.
type Config struct {
	CurrentItemSubject string
	StatusSubject      string
	CleanupSubject     string
}

// CurrentItemRequest is the JSON form of a current-item message.
type CurrentItemRequest struct {
	ItemID *types.ItemID `json:"itemId"`
}

// CurrentItemReply is sent back to current-item requests.
type CurrentItemReply struct {
	ItemID types.ItemID `json:"itemId"`
	orchestrator.TriggerResult
}

// CleanupRequest is the optional JSON body of a cleanup request. An empty body
// runs the age-based pass.
type CleanupRequest struct {
	Oversized bool `json:"oversized"`
}

// CleanupReply is sent back to cleanup requests. Ran is false when an
// oversized pass found the cache under its threshold.
type CleanupReply struct {
	Ran    bool                       `json:"ran"`
	Report orchestrator.CleanupReport `json:"report"`
}

// Bridge connects NATS subjects to an orchestrator.
type Bridge struct {
	cfg       Config
	svc       Orchestrator
	transport Transport
	logger    *slog.Logger
}

// New creates a bridge. Empty subjects disable the matching handler.
func New(cfg Config, svc Orchestrator, transport Transport, logger *slog.Logger) (*Bridge, error) {
	if svc == nil {
		return nil, errors.WrapInvalid(errors.New("orchestrator is required"), "Bridge", "New", "validate")
	}
	if transport == nil {
		return nil, errors.WrapInvalid(errors.New("transport is required"), "Bridge", "New", "validate")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:       cfg,
		svc:       svc,
		transport: transport,
		logger:    logger.With("component", "natsbridge"),
	}, nil
}

// Start registers the handlers. They stay active until the transport closes.
func (b *Bridge) Start(ctx context.Context) error {
	if b.cfg.CurrentItemSubject != "" {
		if err := b.transport.Reply(ctx, b.cfg.CurrentItemSubject, b.HandleCurrentItem); err != nil {
			return errors.Wrap(err, "Bridge", "Start", "subscribe current item")
		}
	}
	if b.cfg.StatusSubject != "" {
		if err := b.transport.Reply(ctx, b.cfg.StatusSubject, b.HandleStatus); err != nil {
			return errors.Wrap(err, "Bridge", "Start", "subscribe status")
		}
	}
	if b.cfg.CleanupSubject != "" {
		if err := b.transport.Reply(ctx, b.cfg.CleanupSubject, b.HandleCleanup); err != nil {
			return errors.Wrap(err, "Bridge", "Start", "subscribe cleanup")
		}
	}
	b.logger.Info("NATS bridge started",
		"current_item_subject", b.cfg.CurrentItemSubject,
		"status_subject", b.cfg.StatusSubject,
		"cleanup_subject", b.cfg.CleanupSubject)
	return nil
}

// HandleCurrentItem moves the current item to the id carried by data.
func (b *Bridge) HandleCurrentItem(ctx context.Context, data []byte) ([]byte, error) {
	id, err := ParseCurrentItem(data)
	if err != nil {
		return nil, err
	}

	result, err := b.svc.SetCurrentItem(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "HandleCurrentItem", "set current item")
	}
	b.logger.Debug("Current item set over NATS", "item_id", id, "queued", len(result.Queued))

	return json.Marshal(CurrentItemReply{ItemID: id, TriggerResult: result})
}

// HandleStatus answers with the status summary.
func (b *Bridge) HandleStatus(ctx context.Context, _ []byte) ([]byte, error) {
	return json.Marshal(b.svc.StatusSummary(ctx))
}

// HandleCleanup runs a cleanup pass and answers with the report.
func (b *Bridge) HandleCleanup(ctx context.Context, data []byte) ([]byte, error) {
	var req CleanupRequest
	if data = bytes.TrimSpace(data); len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, errors.WrapInvalid(err, "Bridge", "HandleCleanup", "decode request")
		}
	}

	reply := CleanupReply{Ran: true}
	var err error
	if req.Oversized {
		reply.Report, reply.Ran, err = b.svc.CleanupIfOversized(ctx)
	} else {
		reply.Report, err = b.svc.Cleanup(ctx)
	}
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "HandleCleanup", "run cleanup")
	}
	b.logger.Info("Cleanup requested over NATS", "oversized", req.Oversized, "deleted", reply.Report.Deleted)

	return json.Marshal(reply)
}

// ParseCurrentItem accepts a bare integer or {"itemId": N}.
func ParseCurrentItem(data []byte) (types.ItemID, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0, errors.WrapInvalid(errors.New("empty message"), "Bridge", "ParseCurrentItem", "parse")
	}

	if data[0] == '{' {
		var req CurrentItemRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return 0, errors.WrapInvalid(err, "Bridge", "ParseCurrentItem", "decode JSON")
		}
		if req.ItemID == nil {
			return 0, errors.WrapInvalid(errors.New("missing itemId"), "Bridge", "ParseCurrentItem", "decode JSON")
		}
		return *req.ItemID, nil
	}

	id, err := types.ParseItemID(string(data))
	if err != nil {
		return 0, errors.WrapInvalid(err, "Bridge", "ParseCurrentItem", "parse integer")
	}
	return id, nil
}
