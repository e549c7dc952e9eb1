package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stocksync/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/boxes", h.listBoxes)
	r.Post("/boxes", h.saveBox)
	r.Delete("/boxes/{code}", h.deleteBox)
	r.Get("/locations", h.listLocations)
	r.Post("/resolve", h.resolve)
}

type boxRequest struct {
	Code      string `json:"code" validate:"required,max=64"`
	SKU       string `json:"sku" validate:"required,max=64"`
	QtyPerBox int    `json:"qty_per_box" validate:"required,gt=0"`
}

type resolveRequest struct {
	Lines []ScanInput `json:"lines" validate:"required,min=1,dive"`
}

type resolveResponse struct {
	Lines  []ResolvedLine  `json:"lines"`
	Totals map[string]int `json:"totals"`
}

func (h *Handler) listBoxes(w http.ResponseWriter, r *http.Request) {
	boxes, err := h.service.Boxes(r.Context(), r.URL.Query().Get("all") == "1")
	if err != nil {
		h.logger.Error("list boxes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, boxes)
}

func (h *Handler) saveBox(w http.ResponseWriter, r *http.Request) {
	var req boxRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	if errs := h.validate(req); errs != nil {
		httpx.Fail(w, http.StatusUnprocessableEntity, "validation", "invalid box", errs)
		return
	}
	box, err := h.service.SaveBox(r.Context(), Box{Code: req.Code, SKU: req.SKU, QtyPerBox: req.QtyPerBox})
	if err != nil {
		h.logger.Warn("save box", slog.String("code", req.Code), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, box)
}

func (h *Handler) deleteBox(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.service.DeleteBox(r.Context(), code); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]string{"code": code})
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.service.Locations(r.Context())
	if err != nil {
		h.logger.Error("list locations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, locations)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	lines, err := h.service.Resolver().Resolve(r.Context(), req.Lines)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, resolveResponse{Lines: lines, Totals: Aggregate(lines)})
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
