package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stocksync/internal/platform/httpx"
	"github.com/odyssey-erp/stocksync/internal/shared"
	"github.com/odyssey-erp/stocksync/internal/shop"
)

const (
	webhookModule   = "shop_webhook"
	webhookIDHeader = "X-Shopify-Webhook-Id"
	maxWebhookBytes = 1 << 20
)

// DeliveryGuard records processed webhook deliveries.
type DeliveryGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler wires HTTP endpoints for transfers, adjustments and the platform
// webhook.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	reconciler *Reconciler
	deliveries DeliveryGuard
	validator  *validator.Validate
}

// NewHandler constructs Handler. deliveries may be nil, disabling duplicate
// delivery detection.
func NewHandler(logger *slog.Logger, service *Service, reconciler *Reconciler, deliveries DeliveryGuard) *Handler {
	return &Handler{
		logger:     logger,
		service:    service,
		reconciler: reconciler,
		deliveries: deliveries,
		validator:  validator.New(),
	}
}

// MountRoutes registers the API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transfers", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.commit)
		r.Post("/drafts", h.createDraft)
		r.Post("/pending", h.createPending)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Put("/lines", h.replaceLines)
			r.Post("/commit", h.commitDraft)
			r.Post("/receive", h.receive)
			r.Post("/cancel", h.cancel)
			r.Get("/logs", h.logs)
			r.Post("/resync", h.resync)
		})
	})
	r.Post("/adjustments", h.adjust)
}

// MountWebhooks registers the platform webhook receiver.
func (h *Handler) MountWebhooks(r chi.Router) {
	r.Post("/shop/inventory-transfers", h.transferWebhook)
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		req.Token = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	result, err := h.service.Commit(r.Context(), CommitInput{
		Token:       req.Token,
		Origin:      req.Origin,
		Destination: req.Destination,
		Lines:       req.Lines,
		Note:        req.Note,
		Actor:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "commit transfer", err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.service.CreateDraft(r.Context(), DraftInput{
		Origin:      req.Origin,
		Destination: req.Destination,
		Lines:       req.Lines,
		Note:        req.Note,
		Actor:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "create draft", err)
		return
	}
	httpx.OK(w, http.StatusCreated, t)
}

func (h *Handler) createPending(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		req.Token = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	result, err := h.service.CreatePending(r.Context(), CommitInput{
		Token:       req.Token,
		Origin:      req.Origin,
		Destination: req.Destination,
		Lines:       req.Lines,
		Note:        req.Note,
		Actor:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "create pending transfer", err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.OK(w, status, result)
}

func (h *Handler) replaceLines(w http.ResponseWriter, r *http.Request) {
	var req linesRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.service.UpdateDraftLines(r.Context(), chi.URLParam(r, "id"), req.Lines, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "replace draft lines", err)
		return
	}
	httpx.OK(w, http.StatusOK, t)
}

func (h *Handler) commitDraft(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CommitDraft(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "commit draft", err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Receive(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "receive transfer", err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	t, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, "cancel transfer", err)
		return
	}
	httpx.OK(w, http.StatusOK, t)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get transfer", err)
		return
	}
	httpx.OK(w, http.StatusOK, t)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	transfers, pagination, err := h.service.List(r.Context(), ListFilter{
		Status:      Status(q.Get("status")),
		Origin:      q.Get("origin"),
		Destination: q.Get("destination"),
		Page:        page,
		PerPage:     perPage,
	})
	if err != nil {
		h.fail(w, "list transfers", err)
		return
	}
	if transfers == nil {
		transfers = []Transfer{}
	}
	httpx.OK(w, http.StatusOK, listResponse{Transfers: transfers, Pagination: pagination})
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Logs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "transfer logs", err)
		return
	}
	if entries == nil {
		entries = []LogEntry{}
	}
	httpx.OK(w, http.StatusOK, entries)
}

func (h *Handler) resync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Resync(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "resync transfer", err)
		return
	}
	httpx.OK(w, http.StatusAccepted, map[string]string{"id": id, "status": "dispatched"})
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Adjust(r.Context(), AdjustInput{
		Key:      req.Key,
		Location: req.Location,
		Deltas:   req.Deltas,
		Negate:   req.Negate,
		Reason:   req.Reason,
		Actor:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "adjust stock", err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

// transferWebhook acknowledges every well-formed delivery with 200 and the
// reconciliation outcome. Only unreadable payloads are rejected.
func (h *Handler) transferWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "bad_request", "read body", nil)
		return
	}
	gid, err := shop.TransferGIDFromWebhook(body)
	if err != nil {
		h.logger.Warn("transfer webhook rejected", slog.Any("error", err))
		httpx.Fail(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	ctx := r.Context()
	deliveryID := strings.TrimSpace(r.Header.Get(webhookIDHeader))
	if deliveryID != "" && h.deliveries != nil {
		err := h.deliveries.CheckAndInsert(ctx, deliveryID, webhookModule)
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.JSON(w, http.StatusOK, ReconcileOutcome{Status: ReconcileSkipped, Reason: "duplicate delivery", TransferGID: gid})
			return
		}
		if err != nil {
			h.logger.Warn("record webhook delivery", slog.String("delivery_id", deliveryID), slog.Any("error", err))
			deliveryID = ""
		}
	}
	outcome := h.reconciler.Reconcile(ctx, gid)
	if outcome.Status == ReconcileError && deliveryID != "" && h.deliveries != nil {
		if err := h.deliveries.Delete(ctx, deliveryID, webhookModule); err != nil {
			h.logger.Warn("release webhook delivery", slog.String("delivery_id", deliveryID), slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, outcome)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return false
	}
	if errs := h.validate(target); errs != nil {
		httpx.Fail(w, http.StatusUnprocessableEntity, "validation", "invalid request", errs)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var shortage *InsufficientStockError
	if errors.As(err, &shortage) {
		httpx.Fail(w, http.StatusConflict, "insufficient_stock", shortage.Error(), insufficientDetails{Insufficient: shortage.Shortages})
		return
	}
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	} else {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) validate(v any) map[string]string {
	err := h.validator.Struct(v)
	if err == nil {
		return nil
	}
	fields := map[string]string{}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldErr := range verrs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
		return fields
	}
	fields["general"] = err.Error()
	return fields
}
