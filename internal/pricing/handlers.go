package pricing

import (
	"encoding/json"
	"errors"
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/vuhoang-dev/backend-preorder/internal/common"
)

// Handler wires the pricing service to HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type quoteRequest struct {
	Items []quoteItem `json:"items" validate:"required,min=1,dive"`
}

type quoteItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// Quote handles POST /api/v1/combos/pricing. The computation is read only;
// repeated calls with the same body return the same breakdown.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing service not configured", nil)
		return
	}
	var payload quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "INVALID_CART", "items must be non-empty with positive quantities", nil)
			return
		}
	}
	lines := make([]CartLine, 0, len(payload.Items))
	for _, item := range payload.Items {
		lines = append(lines, CartLine{ProductID: item.ProductID, Qty: item.Quantity})
	}
	breakdown, err := h.Svc.Price(r.Context(), lines)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, breakdown)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCart):
		common.JSONError(w, http.StatusBadRequest, "INVALID_CART", err.Error(), nil)
	case errors.Is(err, ErrInvalidConfiguration):
		common.JSONError(w, http.StatusInternalServerError, "INVALID_CONFIGURATION", "combo or product configuration is invalid", nil)
	default:
		common.WriteError(w, err)
	}
}
