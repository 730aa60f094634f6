package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/vuhoang-dev/backend-preorder/internal/catalog"
	"github.com/vuhoang-dev/backend-preorder/internal/common"
	"github.com/vuhoang-dev/backend-preorder/internal/events"
	"github.com/vuhoang-dev/backend-preorder/internal/obs"
	"github.com/vuhoang-dev/backend-preorder/internal/pricing"
)

// Order status workflow. Orders start pending; staff confirm, mark ready for
// pickup, then complete. Cancellation is allowed before the order is ready.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusReady     = "READY"
	StatusCompleted = "COMPLETED"
	StatusCanceled  = "CANCELED"
)

// ErrInvalidTransition is returned for a status change the workflow forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCanceled},
	StatusConfirmed: {StatusReady, StatusCanceled},
	StatusReady:     {StatusCompleted},
}

// CanTransition reports whether the workflow allows moving from one status
// to another.
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Statuses lists the known order statuses.
func Statuses() []string {
	return []string{StatusPending, StatusConfirmed, StatusReady, StatusCompleted, StatusCanceled}
}

type storeProvider interface {
	Create(ctx context.Context, o Order) (Order, error)
	GetByCode(ctx context.Context, code string) (Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (Order, error)
	List(ctx context.Context, params ListParams) ([]Order, int64, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (Order, error)
}

// Pricer computes the authoritative breakdown for a cart. Client-submitted
// totals are never trusted.
type Pricer interface {
	Price(ctx context.Context, lines []pricing.CartLine) (pricing.Breakdown, error)
}

// ProductSource loads full product rows for order line snapshots.
type ProductSource interface {
	ProductsDetailed(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store    storeProvider
	Pricer   Pricer
	Products ProductSource
	Bus      *events.Bus
	Log      zerolog.Logger
}

// Service creates preorders from carts and drives the status workflow.
type Service struct {
	store    storeProvider
	pricer   Pricer
	products ProductSource
	bus      *events.Bus
	log      zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:    cfg.Store,
		pricer:   cfg.Pricer,
		products: cfg.Products,
		bus:      cfg.Bus,
		log:      cfg.Log,
	}
}

// ItemInput is one cart line in an order request.
type ItemInput struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// CreateInput carries the order creation payload.
type CreateInput struct {
	CustomerName  string      `json:"customerName" validate:"required"`
	CustomerPhone string      `json:"customerPhone" validate:"required"`
	Note          string      `json:"note"`
	Items         []ItemInput `json:"items" validate:"required,min=1,dive"`
}

const createCodeAttempts = 3

// Create re-prices the cart server side, freezes the breakdown into an order
// with a fresh tracking code, and emits order.created.
func (s *Service) Create(ctx context.Context, input CreateInput) (Order, error) {
	lines := make([]pricing.CartLine, 0, len(input.Items))
	ids := make([]string, 0, len(input.Items))
	for _, item := range input.Items {
		lines = append(lines, pricing.CartLine{ProductID: item.ProductID, Qty: item.Quantity})
		ids = append(ids, item.ProductID)
	}

	breakdown, err := s.pricer.Price(ctx, lines)
	if err != nil {
		return Order{}, err
	}
	products, err := s.products.ProductsDetailed(ctx, ids)
	if err != nil {
		return Order{}, fmt.Errorf("load product snapshots: %w", err)
	}

	items := make([]Item, 0, len(input.Items))
	for _, item := range input.Items {
		p, ok := products[item.ProductID]
		if !ok {
			return Order{}, fmt.Errorf("product %s not found: %w", item.ProductID, pricing.ErrInvalidCart)
		}
		items = append(items, Item{
			ProductID: p.ID,
			Name:      p.Name,
			Category:  p.Category,
			Qty:       item.Quantity,
			UnitPrice: p.Price,
			Subtotal:  int64(item.Quantity) * p.Price,
		})
	}
	uses := make([]ComboUse, 0, len(breakdown.Combos))
	for _, applied := range breakdown.Combos {
		comboID, err := uuid.Parse(applied.ComboID)
		if err != nil {
			return Order{}, fmt.Errorf("combo %s has a malformed id: %w", applied.ComboID, pricing.ErrInvalidConfiguration)
		}
		uses = append(uses, ComboUse{
			ComboID:      comboID,
			Name:         applied.Name,
			Applications: applied.Applications,
			TotalPrice:   applied.TotalPrice,
			Savings:      applied.Savings,
		})
	}

	var created Order
	for attempt := 0; attempt < createCodeAttempts; attempt++ {
		code, err := NewTrackingCode()
		if err != nil {
			return Order{}, err
		}
		created, err = s.store.Create(ctx, Order{
			ID:            uuid.New(),
			Code:          code,
			CustomerName:  strings.TrimSpace(input.CustomerName),
			CustomerPhone: strings.TrimSpace(input.CustomerPhone),
			Note:          strings.TrimSpace(input.Note),
			Status:        StatusPending,
			OriginalTotal: breakdown.Summary.OriginalTotal,
			FinalTotal:    breakdown.Summary.FinalTotal,
			TotalSavings:  breakdown.Summary.TotalSavings,
			Approximate:   breakdown.Approximate,
			Items:         items,
			Combos:        uses,
		})
		if err == nil {
			break
		}
		if isUniqueViolation(err) && attempt < createCodeAttempts-1 {
			continue
		}
		return Order{}, err
	}

	if obs.OrdersCreatedTotal != nil {
		obs.OrdersCreatedTotal.Inc()
	}
	if s.bus != nil {
		if _, err := s.bus.Emit(ctx, events.TopicOrderCreated, created.ID, map[string]any{
			"orderId":      created.ID.String(),
			"code":         created.Code,
			"customerName": created.CustomerName,
			"finalTotal":   created.FinalTotal,
			"totalSavings": created.TotalSavings,
		}); err != nil {
			s.log.Error().Err(err).Str("order_id", created.ID.String()).Msg("emit order.created")
		}
	}
	return created, nil
}

// TrackByCode returns the order behind a public tracking code.
func (s *Service) TrackByCode(ctx context.Context, code string) (Order, error) {
	if strings.TrimSpace(code) == "" {
		return Order{}, &common.AppError{
			Code: "BAD_REQUEST", Message: "tracking code is required", HTTPStatus: http.StatusBadRequest,
		}
	}
	return s.store.GetByCode(ctx, code)
}

// List returns an admin order page.
func (s *Service) List(ctx context.Context, params ListParams) ([]Order, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 || params.Limit > 100 {
		params.Limit = 20
	}
	return s.store.List(ctx, params)
}

// UpdateStatus applies a workflow transition and emits order.status_changed.
func (s *Service) UpdateStatus(ctx context.Context, rawID, status string) (Order, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Order{}, &common.AppError{
			Code: "BAD_REQUEST", Message: "invalid order id", HTTPStatus: http.StatusBadRequest,
		}
	}
	status = strings.ToUpper(strings.TrimSpace(status))
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(current.Status, status) {
		return Order{}, fmt.Errorf("%s to %s: %w", current.Status, status, ErrInvalidTransition)
	}
	updated, err := s.store.UpdateStatus(ctx, id, status)
	if err != nil {
		return Order{}, err
	}
	if obs.OrderStatusTransitions != nil {
		obs.OrderStatusTransitions.WithLabelValues(status).Inc()
	}
	if s.bus != nil {
		if _, err := s.bus.Emit(ctx, events.TopicOrderStatusChanged, updated.ID, map[string]any{
			"orderId": updated.ID.String(),
			"code":    updated.Code,
			"from":    current.Status,
			"to":      updated.Status,
		}); err != nil {
			s.log.Error().Err(err).Str("order_id", updated.ID.String()).Msg("emit order.status_changed")
		}
	}
	return updated, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
