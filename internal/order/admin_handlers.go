package order

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vuhoang-dev/backend-preorder/internal/common"
)

// AdminHandler provides administrative order management endpoints.
type AdminHandler struct {
	Svc *Service
}

// List handles GET /api/v1/admin/orders with status filter and pagination.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	page, limit := common.ParsePagination(r, 20)
	orders, total, err := h.Svc.List(r.Context(), ListParams{
		Status: r.URL.Query().Get("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSONData(w, http.StatusOK, map[string]any{
		"items": orders,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

type patchStatusRequest struct {
	Status string `json:"status"`
}

// PatchStatus handles PATCH /api/v1/admin/orders/{id}/status with workflow
// validation.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	var req patchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if req.Status == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "status is required", nil)
		return
	}
	updated, err := h.Svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, updated)
}
