package catalog

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vuhoang-dev/backend-preorder/internal/common"
	"github.com/vuhoang-dev/backend-preorder/internal/pricing"
)

// storeProvider abstracts the persistence layer for tests.
type storeProvider interface {
	List(ctx context.Context, params ListParams) ([]Product, int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (Product, error)
	ByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
	Categories(ctx context.Context) ([]string, error)
	Create(ctx context.Context, p Product) (Product, error)
	Update(ctx context.Context, p Product) (Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ListParams filter and paginate the public product listing.
type ListParams struct {
	Category string
	Query    string
	Page     int
	Limit    int
}

// ListResult is a page of products with the total match count.
type ListResult struct {
	Items []Product `json:"items"`
	Total int64     `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store storeProvider
	Cache *Cache
}

// Service implements catalog reads, admin writes, and the product snapshot
// consumed by the pricing engine.
type Service struct {
	store storeProvider
	cache *Cache
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{store: cfg.Store, cache: cfg.Cache}
}

func badRequest(field, message string) *common.AppError {
	return &common.AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"field": field},
	}
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// ParseListParams extracts and validates listing filters from the query string.
func (s *Service) ParseListParams(values url.Values) (ListParams, error) {
	params := ListParams{
		Category: strings.TrimSpace(values.Get("category")),
		Query:    strings.TrimSpace(values.Get("q")),
		Page:     1,
		Limit:    defaultLimit,
	}
	if raw := values.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return ListParams{}, badRequest("page", "page must be a positive integer")
		}
		params.Page = page
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxLimit {
			return ListParams{}, badRequest("limit", "limit must be between 1 and 100")
		}
		params.Limit = limit
	}
	return params, nil
}

func (p ListParams) isDefault() bool {
	return p.Category == "" && p.Query == "" && p.Page == 1 && p.Limit == defaultLimit
}

// ListProducts returns a product page, serving the unfiltered first page from
// cache when possible.
func (s *Service) ListProducts(ctx context.Context, params ListParams) (ListResult, error) {
	if params.isDefault() {
		var cached ListResult
		if ok, err := s.cache.GetJSON(ctx, cacheKeyDefaultPage, &cached); err == nil && ok {
			return cached, nil
		}
	}
	items, total, err := s.store.List(ctx, params)
	if err != nil {
		return ListResult{}, err
	}
	result := ListResult{Items: items, Total: total, Page: params.Page, Limit: params.Limit}
	if params.isDefault() {
		_ = s.cache.SetJSON(ctx, cacheKeyDefaultPage, result)
	}
	return result, nil
}

// GetProduct fetches a single product by id.
func (s *Service) GetProduct(ctx context.Context, rawID string) (Product, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Product{}, badRequest("id", "invalid product id")
	}
	return s.store.GetByID(ctx, id)
}

// ListCategories lists distinct active categories, cached.
func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	var cached []string
	if ok, err := s.cache.GetJSON(ctx, cacheKeyCategories, &cached); err == nil && ok {
		return cached, nil
	}
	categories, err := s.store.Categories(ctx)
	if err != nil {
		return nil, err
	}
	_ = s.cache.SetJSON(ctx, cacheKeyCategories, categories)
	return categories, nil
}

// ProductsByIDs loads the pricing snapshot for the given product ids. Ids
// that do not parse or do not exist are absent from the map; the engine
// reports them as invalid cart lines.
func (s *Service) ProductsByIDs(ctx context.Context, rawIDs []string) (map[string]pricing.Product, error) {
	ids := make([]uuid.UUID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	products, err := s.store.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]pricing.Product, len(products))
	for _, p := range products {
		snapshot[p.ID.String()] = pricing.Product{
			ID:       p.ID.String(),
			Category: p.Category,
			Price:    p.Price,
		}
	}
	return snapshot, nil
}

// ProductsDetailed loads full product rows keyed by id string, for order
// line snapshots.
func (s *Service) ProductsDetailed(ctx context.Context, rawIDs []string) (map[string]Product, error) {
	ids := make([]uuid.UUID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	products, err := s.store.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Product, len(products))
	for _, p := range products {
		out[p.ID.String()] = p
	}
	return out, nil
}

// ProductInput carries admin create/update payloads.
type ProductInput struct {
	Name     string `json:"name" validate:"required"`
	Category string `json:"category" validate:"required"`
	Price    int64  `json:"price" validate:"gte=0"`
	Active   *bool  `json:"active"`
}

func (in ProductInput) product(id uuid.UUID) Product {
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	return Product{
		ID:       id,
		Name:     strings.TrimSpace(in.Name),
		Category: strings.TrimSpace(in.Category),
		Price:    in.Price,
		Active:   active,
	}
}

// CreateProduct inserts a product and invalidates the read caches.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	created, err := s.store.Create(ctx, input.product(uuid.Nil))
	if err != nil {
		return Product{}, err
	}
	_ = s.cache.Invalidate(ctx, cacheKeyDefaultPage, cacheKeyCategories)
	return created, nil
}

// UpdateProduct rewrites a product and invalidates the read caches.
func (s *Service) UpdateProduct(ctx context.Context, rawID string, input ProductInput) (Product, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Product{}, badRequest("id", "invalid product id")
	}
	updated, err := s.store.Update(ctx, input.product(id))
	if err != nil {
		return Product{}, err
	}
	_ = s.cache.Invalidate(ctx, cacheKeyDefaultPage, cacheKeyCategories)
	return updated, nil
}

// DeleteProduct removes a product and invalidates the read caches.
func (s *Service) DeleteProduct(ctx context.Context, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return badRequest("id", "invalid product id")
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, cacheKeyDefaultPage, cacheKeyCategories)
}
