package pricing_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	validator "github.com/go-playground/validator/v10"

	"github.com/vuhoang-dev/backend-preorder/internal/pricing"
)

type stubCatalog struct {
	products map[string]pricing.Product
	err      error
}

func (s stubCatalog) ProductsByIDs(_ context.Context, ids []string) (map[string]pricing.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]pricing.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type stubRegistry struct {
	combos []pricing.Combo
	err    error
}

func (s stubRegistry) ActiveCombos(context.Context) ([]pricing.Combo, error) {
	return s.combos, s.err
}

func newTestHandler(catalog stubCatalog, registry stubRegistry) *pricing.Handler {
	return &pricing.Handler{
		Svc: &pricing.Service{
			Catalog:  catalog,
			Registry: registry,
		},
		Validate: validator.New(),
	}
}

func testProducts() map[string]pricing.Product {
	return map[string]pricing.Product{
		"banh-mi": {ID: "banh-mi", Category: "Đồ ăn", Price: 25000},
		"tra-sua": {ID: "tra-sua", Category: "Đồ uống", Price: 20000},
	}
}

func testCombos() []pricing.Combo {
	return []pricing.Combo{{
		ID: "meal", Name: "Combo no nê", Price: 60000, Priority: 1, Active: true,
		Requirements: []pricing.Requirement{
			{Category: "Đồ ăn", Qty: 2},
			{Category: "Đồ uống", Qty: 1},
		},
	}}
}

func TestQuoteSuccess(t *testing.T) {
	h := newTestHandler(stubCatalog{products: testProducts()}, stubRegistry{combos: testCombos()})
	body := `{"items":[{"productId":"banh-mi","quantity":2},{"productId":"tra-sua","quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/combos/pricing", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Quote(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool              `json:"success"`
		Data    pricing.Breakdown `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success envelope")
	}
	if resp.Data.Summary.FinalTotal != 60000 || resp.Data.Summary.TotalSavings != 10000 {
		t.Fatalf("unexpected summary: %+v", resp.Data.Summary)
	}
	if len(resp.Data.Combos) != 1 || resp.Data.Combos[0].ComboID != "meal" {
		t.Fatalf("unexpected combos: %+v", resp.Data.Combos)
	}
}

func TestQuoteRejectsEmptyItems(t *testing.T) {
	h := newTestHandler(stubCatalog{products: testProducts()}, stubRegistry{})
	for _, body := range []string{`{}`, `{"items":[]}`, `{"items":[{"productId":"banh-mi","quantity":0}]}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/combos/pricing", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.Quote(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
		var resp struct {
			Success bool   `json:"success"`
			Code    string `json:"code"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Success || resp.Code == "" {
			t.Fatalf("body %s: unexpected envelope %s", body, rec.Body.String())
		}
	}
}

func TestQuoteUnknownProduct(t *testing.T) {
	h := newTestHandler(stubCatalog{products: testProducts()}, stubRegistry{combos: testCombos()})
	body := `{"items":[{"productId":"pho-bo","quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/combos/pricing", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Quote(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "INVALID_CART") {
		t.Fatalf("expected INVALID_CART code, got %s", rec.Body.String())
	}
}

func TestQuoteConfigurationFault(t *testing.T) {
	products := testProducts()
	products["banh-mi"] = pricing.Product{ID: "banh-mi", Category: "Đồ ăn", Price: -5}
	h := newTestHandler(stubCatalog{products: products}, stubRegistry{combos: testCombos()})
	body := `{"items":[{"productId":"banh-mi","quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/combos/pricing", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Quote(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "INVALID_CONFIGURATION") {
		t.Fatalf("expected INVALID_CONFIGURATION code, got %s", rec.Body.String())
	}
}

func TestQuoteSnapshotLoadFailure(t *testing.T) {
	h := newTestHandler(stubCatalog{err: errors.New("db down")}, stubRegistry{})
	body := `{"items":[{"productId":"banh-mi","quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/combos/pricing", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Quote(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
