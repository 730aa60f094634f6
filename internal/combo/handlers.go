package combo

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/vuhoang-dev/backend-preorder/internal/common"
)

// Handler exposes the public combo listing.
type Handler struct {
	Svc *Service
}

// List handles GET /api/v1/combos.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "combo service not configured", nil)
		return
	}
	combos, err := h.Svc.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, combos)
}

// AdminHandler exposes combo management endpoints for the back office.
type AdminHandler struct {
	Svc      *Service
	Validate *validator.Validate
}

func (h *AdminHandler) decodeInput(w http.ResponseWriter, r *http.Request) (ComboInput, bool) {
	var input ComboInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return ComboInput{}, false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(input); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "name and at least one requirement are required, price must be non-negative", nil)
			return ComboInput{}, false
		}
	}
	return input, true
}

// List handles GET /api/v1/admin/combos.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	combos, err := h.Svc.ListAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, combos)
}

// Create handles POST /api/v1/admin/combos.
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	created, err := h.Svc.CreateCombo(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, created)
}

// Update handles PUT /api/v1/admin/combos/{id}.
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	updated, err := h.Svc.UpdateCombo(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/v1/admin/combos/{id}.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.DeleteCombo(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, map[string]any{"deleted": true})
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "combo not found", nil)
		return
	}
	common.WriteError(w, err)
}
