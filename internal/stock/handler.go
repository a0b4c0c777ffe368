package stock

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	ledger   *Ledger
	validate *validator.Validate
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, ledger *Ledger, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, ledger: ledger, validate: validate}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleApplyMovement)
	r.Get("/movements", h.handleListMovements)
	r.Get("/records", h.handleListRecords)
	r.Get("/records/{productID}/{branchID}", h.handleGetRecord)
	r.Put("/records/{productID}/{branchID}/thresholds", h.handleUpdateThresholds)
}

type movementRequest struct {
	ProductID int64   `json:"product_id" validate:"required"`
	BranchID  int64   `json:"branch_id" validate:"required"`
	Kind      string  `json:"kind" validate:"required,oneof=IN OUT ADJUSTMENT"`
	Quantity  float64 `json:"quantity"`
	Reason    *string `json:"reason,omitempty" validate:"omitempty,max=300"`
	Reference *string `json:"reference,omitempty" validate:"omitempty,max=100"`
}

type movementResponse struct {
	Record   Record   `json:"record"`
	Movement Movement `json:"movement"`
}

func (h *Handler) handleApplyMovement(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	record, movement, err := h.ledger.Apply(r.Context(), identity.TenantID, ApplyInput{
		ProductID: req.ProductID,
		BranchID:  req.BranchID,
		Kind:      MovementKind(req.Kind),
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		Reference: req.Reference,
		ActorID:   identity.ActorID,
	})
	if err != nil {
		if !shared.IsOperational(err) {
			h.logger.Error("apply movement failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Record: record, Movement: movement})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	filter := MovementFilter{}
	q := r.URL.Query()
	if v := q.Get("branch_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.BranchID = &id
		}
	}
	if v := q.Get("product_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.ProductID = &id
		}
	}
	if v := q.Get("kind"); v != "" {
		kind := MovementKind(v)
		filter.Kind = &kind
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	movements, err := h.ledger.ListMovements(r.Context(), identity.TenantID, filter)
	if err != nil {
		if !shared.IsOperational(err) {
			h.logger.Error("list movements failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	filter := RecordFilter{}
	q := r.URL.Query()
	if v := q.Get("branch_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.BranchID = &id
		}
	}
	if v := q.Get("product_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.ProductID = &id
		}
	}
	filter.LowStock = q.Get("low_stock") == "true"

	records, err := h.ledger.ListRecords(r.Context(), identity.TenantID, filter)
	if err != nil {
		h.logger.Error("list records failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	productID, branchID, err := pathKey(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product or branch id")
		return
	}
	record, err := h.ledger.GetRecord(r.Context(), identity.TenantID, productID, branchID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	productID, branchID, err := pathKey(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product or branch id")
		return
	}
	var in ThresholdsInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	record, err := h.ledger.UpdateThresholds(r.Context(), identity.TenantID, productID, branchID, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func pathKey(r *http.Request) (int64, int64, error) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	branchID, err := strconv.ParseInt(chi.URLParam(r, "branchID"), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return productID, branchID, nil
}
