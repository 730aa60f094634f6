package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/vuhoang-dev/backend-preorder/internal/common"
)

// AdminHandler exposes product management endpoints for the back office.
type AdminHandler struct {
	Svc      *Service
	Validate *validator.Validate
}

func (h *AdminHandler) decodeInput(w http.ResponseWriter, r *http.Request) (ProductInput, bool) {
	var input ProductInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return ProductInput{}, false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(input); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "name and category are required, price must be non-negative", nil)
			return ProductInput{}, false
		}
	}
	return input, true
}

// Create handles POST /api/v1/admin/products.
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	product, err := h.Svc.CreateProduct(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, product)
}

// Update handles PUT /api/v1/admin/products/{id}.
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	product, err := h.Svc.UpdateProduct(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, product)
}

// Delete handles DELETE /api/v1/admin/products/{id}.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, map[string]any{"deleted": true})
}
