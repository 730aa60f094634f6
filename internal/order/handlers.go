package order

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/vuhoang-dev/backend-preorder/internal/common"
	"github.com/vuhoang-dev/backend-preorder/internal/pricing"
)

// Handler exposes the public order endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Create handles POST /api/v1/orders.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	var input CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(input); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "customer name, phone and at least one item are required", nil)
			return
		}
	}
	created, err := h.Svc.Create(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, created)
}

// Track handles GET /api/v1/orders/track/{code}.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	found, err := h.Svc.TrackByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, found)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusBadRequest, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, pricing.ErrInvalidCart):
		common.JSONError(w, http.StatusBadRequest, "INVALID_CART", err.Error(), nil)
	case errors.Is(err, pricing.ErrInvalidConfiguration):
		common.JSONError(w, http.StatusInternalServerError, "INVALID_CONFIGURATION", "combo or product configuration is invalid", nil)
	default:
		common.WriteError(w, err)
	}
}
