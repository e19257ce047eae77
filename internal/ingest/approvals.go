package ingest

import (
	"context"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/store"
	"github.com/roach88/streamsync/internal/wire"
)

// decidedByRuntime marks approvals resolved by an item completing.
const decidedByRuntime = "runtime"

type approvalRequest struct {
	turnID string
	signal wire.ApprovalSignal
}

type approvalResolution struct {
	turnID     string
	resolution wire.ApprovalResolution
}

func approvalKey(turnID, itemID string) string {
	return turnID + ":" + itemID
}

// collectApprovals records approval signals. The last signal per
// (turn, item) wins.
func (b *batch) collectApprovals(ev *Event) {
	if ev.TurnID == "" {
		return
	}
	if r := ev.ApprovalRequest; r != nil {
		b.pendingApprovals[approvalKey(ev.TurnID, r.ItemID)] = approvalRequest{turnID: ev.TurnID, signal: *r}
	}
	if r := ev.ApprovalResolution; r != nil {
		b.resolvedApprovals[approvalKey(ev.TurnID, r.ItemID)] = approvalResolution{turnID: ev.TurnID, resolution: *r}
	}
}

// finalizeApprovals inserts new pending approvals, then applies
// resolutions to rows that are still pending.
func (b *batch) finalizeApprovals(ctx context.Context) error {
	for _, key := range sortedKeys(b.pendingApprovals) {
		req := b.pendingApprovals[key]
		existing, err := b.uow.approval(ctx, req.turnID, req.signal.ItemID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		a := store.Approval{
			ThreadID:  b.threadID,
			TurnID:    req.turnID,
			ItemID:    req.signal.ItemID,
			Scope:     b.scope,
			Kind:      req.signal.ItemKind,
			Status:    model.ApprovalPending,
			Reason:    req.signal.Reason,
			CreatedAt: b.now,
		}
		if err := b.tx.InsertApproval(ctx, a); err != nil {
			return err
		}
		b.uow.putApproval(a)
	}

	for _, key := range sortedKeys(b.resolvedApprovals) {
		res := b.resolvedApprovals[key]
		existing, err := b.uow.approval(ctx, res.turnID, res.resolution.ItemID)
		if err != nil {
			return err
		}
		if existing == nil || existing.Status != model.ApprovalPending {
			continue
		}
		if _, err := b.tx.ResolveApproval(ctx, b.threadID, res.turnID, res.resolution.ItemID,
			res.resolution.Status, decidedByRuntime, b.now); err != nil {
			return err
		}
		existing.Status = res.resolution.Status
		existing.DecidedBy = decidedByRuntime
		existing.DecidedAt = b.now
	}
	return nil
}
