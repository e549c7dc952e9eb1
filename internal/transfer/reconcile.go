package transfer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stocksync/internal/catalog"
	"github.com/odyssey-erp/stocksync/internal/shop"
)

// Reconcile outcomes.
const (
	ReconcileProcessed = "processed"
	ReconcileSkipped   = "skipped"
	ReconcileError     = "error"
)

// ReconcileOutcome is the webhook acknowledgement body.
type ReconcileOutcome struct {
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	TransferID  string `json:"transfer_id,omitempty"`
	TransferGID string `json:"transfer_gid,omitempty"`
	PickingID   int64  `json:"erp_picking_id,omitempty"`
	ERPState    string `json:"erp_state,omitempty"`
}

// Reconciler commits the ERP movement for platform transfers that completed
// without the forward path validating them.
type Reconciler struct {
	svc      *Service
	platform PlatformTransfers
	observer Observer
	logger   *slog.Logger
}

// NewReconciler constructs Reconciler.
func NewReconciler(svc *Service, platform PlatformTransfers, observer Observer, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{svc: svc, platform: platform, observer: observer, logger: logger}
}

// Reconcile handles a notification about platform transfer gid. The platform
// is queried for the real status; only a fully transferred transfer linked to
// a transfer that is not yet validated leads to an ERP commit.
func (r *Reconciler) Reconcile(ctx context.Context, gid string) ReconcileOutcome {
	outcome := r.reconcile(ctx, gid)
	outcome.TransferGID = gid
	if r.observer != nil {
		r.observer.ObserveReconcile(outcome.Status)
	}
	r.logger.Info("reconcile",
		slog.String("gid", gid),
		slog.String("status", outcome.Status),
		slog.String("reason", outcome.Reason),
		slog.String("transfer_id", outcome.TransferID))
	return outcome
}

func (r *Reconciler) reconcile(ctx context.Context, gid string) ReconcileOutcome {
	remote, err := r.platform.GetTransfer(ctx, gid)
	if err != nil {
		r.logger.Error("reconcile: load platform transfer", slog.String("gid", gid), slog.Any("error", err))
		return ReconcileOutcome{Status: ReconcileError, Reason: err.Error()}
	}
	if !remote.Transferred() {
		return ReconcileOutcome{Status: ReconcileSkipped, Reason: "platform status " + remote.Status}
	}
	t, err := r.find(ctx, gid, remote.ReferenceName)
	if errors.Is(err, ErrTransferNotFound) {
		return ReconcileOutcome{Status: ReconcileSkipped, Reason: "no matching transfer"}
	}
	if err != nil {
		return ReconcileOutcome{Status: ReconcileError, Reason: err.Error()}
	}
	if skip := skipReason(t.Status); skip != "" {
		return ReconcileOutcome{Status: ReconcileSkipped, Reason: skip, TransferID: t.ID}
	}

	id := t.ID
	unlock, err := r.svc.lock(ctx, id)
	if err != nil {
		return r.failed(ctx, id, err)
	}
	defer unlock()

	t, err = r.svc.store.Get(ctx, id)
	if err != nil {
		return r.failed(ctx, id, err)
	}
	if skip := skipReason(t.Status); skip != "" {
		return ReconcileOutcome{Status: ReconcileSkipped, Reason: skip, TransferID: t.ID}
	}
	accepted := remote.AcceptedBySKU()
	if len(accepted) == 0 {
		return ReconcileOutcome{Status: ReconcileSkipped, Reason: "no accepted quantities", TransferID: t.ID}
	}
	if t.ShopTransferGID == "" {
		if err := r.svc.store.SetShopTransferGID(ctx, t.ID, gid); err != nil {
			return r.failed(ctx, t.ID, err)
		}
	}
	origin, dest, err := r.svc.route(ctx, t.OriginCode, t.DestinationCode)
	if err != nil {
		return r.failed(ctx, t.ID, err)
	}
	validated, move, won, err := r.svc.commitMovement(ctx, t, origin, dest, accepted, SourceWebhook)
	if err != nil {
		return r.failed(ctx, t.ID, err)
	}
	if !won {
		return ReconcileOutcome{Status: ReconcileSkipped, Reason: "already validated", TransferID: t.ID}
	}
	r.svc.journal.write(ctx, LogEntry{
		TransferID: t.ID,
		Event:      EventReconciled,
		Message:    "validated from platform transfer " + remote.Name,
		Payload: map[string]any{
			"source":       SourceWebhook,
			"transfer_gid": gid,
			"skus":         catalog.SortedSKUs(accepted),
			"accepted":     accepted,
			"picking_id":   move.ID,
			"erp_state":    move.State,
		},
	})
	return ReconcileOutcome{Status: ReconcileProcessed, TransferID: validated.ID, PickingID: move.ID, ERPState: move.State}
}

// find looks a transfer up by its platform reference, falling back to the
// reference name the forward path sets to the transfer id.
func (r *Reconciler) find(ctx context.Context, gid, referenceName string) (Transfer, error) {
	t, err := r.svc.store.GetByShopTransferGID(ctx, gid)
	if err == nil || !errors.Is(err, ErrTransferNotFound) {
		return t, err
	}
	if _, parseErr := uuid.Parse(referenceName); parseErr != nil {
		return Transfer{}, ErrTransferNotFound
	}
	return r.svc.store.Get(ctx, referenceName)
}

func skipReason(status Status) string {
	switch status {
	case StatusValidated:
		return "already validated"
	case StatusCancelled:
		return "transfer cancelled"
	}
	return ""
}

func (r *Reconciler) failed(ctx context.Context, id string, err error) ReconcileOutcome {
	r.svc.journal.write(ctx, LogEntry{
		TransferID: id,
		Event:      EventReconcileError,
		Level:      LevelError,
		Message:    "reconciliation failed: " + err.Error(),
		Payload:    map[string]any{"source": SourceWebhook},
	})
	return ReconcileOutcome{Status: ReconcileError, Reason: err.Error(), TransferID: id}
}

var _ PlatformTransfers = (*shop.Client)(nil)
