package combo

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vuhoang-dev/backend-preorder/internal/common"
	"github.com/vuhoang-dev/backend-preorder/internal/events"
	"github.com/vuhoang-dev/backend-preorder/internal/pricing"
)

const cacheKeyActive = "combos:active"

// storeProvider abstracts the persistence layer for tests.
type storeProvider interface {
	ListActive(ctx context.Context) ([]Combo, error)
	ListAll(ctx context.Context) ([]Combo, error)
	GetByID(ctx context.Context, id uuid.UUID) (Combo, error)
	Create(ctx context.Context, c Combo) (Combo, error)
	Update(ctx context.Context, c Combo) (Combo, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store    storeProvider
	Redis    *redis.Client
	CacheTTL time.Duration
	Bus      *events.Bus
	Log      zerolog.Logger
}

// Service manages the combo registry: cached reads for pricing, admin
// writes, and change detection feeding the combos.updated event.
type Service struct {
	store    storeProvider
	redis    *redis.Client
	cacheTTL time.Duration
	bus      *events.Bus
	log      zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:    cfg.Store,
		redis:    cfg.Redis,
		cacheTTL: cfg.CacheTTL,
		bus:      cfg.Bus,
		log:      cfg.Log,
	}
}

// ListActive returns active combos in registry order, cached.
func (s *Service) ListActive(ctx context.Context) ([]Combo, error) {
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, cacheKeyActive).Bytes(); err == nil {
			var cached []Combo
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}
	combos, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if s.redis != nil {
		if data, err := json.Marshal(combos); err == nil {
			_ = s.redis.Set(ctx, cacheKeyActive, data, s.cacheTTL).Err()
		}
	}
	return combos, nil
}

// ActiveCombos supplies the active registry snapshot to the pricing engine.
func (s *Service) ActiveCombos(ctx context.Context) ([]pricing.Combo, error) {
	combos, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]pricing.Combo, 0, len(combos))
	for _, c := range combos {
		out = append(out, pricing.Combo{
			ID:           c.ID.String(),
			Name:         c.Name,
			Price:        c.Price,
			Priority:     c.Priority,
			Requirements: c.Requirements,
			Active:       c.Active,
		})
	}
	return out, nil
}

// ListAll returns every combo for the back office.
func (s *Service) ListAll(ctx context.Context) ([]Combo, error) {
	return s.store.ListAll(ctx)
}

// ComboInput carries admin create/update payloads.
type ComboInput struct {
	Name         string                `json:"name" validate:"required"`
	Price        int64                 `json:"price" validate:"gte=0"`
	Priority     int                   `json:"priority"`
	Requirements []pricing.Requirement `json:"requirements" validate:"required,min=1,dive"`
	Active       *bool                 `json:"active"`
}

func (in ComboInput) validateRequirements() error {
	for _, req := range in.Requirements {
		if strings.TrimSpace(req.Category) == "" {
			return badRequest("requirements", "every requirement needs a category")
		}
		if req.Qty < 1 {
			return badRequest("requirements", "requirement quantities must be at least 1")
		}
	}
	return nil
}

func (in ComboInput) combo(id uuid.UUID) Combo {
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	return Combo{
		ID:           id,
		Name:         strings.TrimSpace(in.Name),
		Price:        in.Price,
		Priority:     in.Priority,
		Requirements: in.Requirements,
		Active:       active,
	}
}

func badRequest(field, message string) *common.AppError {
	return &common.AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"field": field},
	}
}

// CreateCombo inserts a combo and emits combos.updated if the active
// registry content changed.
func (s *Service) CreateCombo(ctx context.Context, input ComboInput) (Combo, error) {
	if err := input.validateRequirements(); err != nil {
		return Combo{}, err
	}
	previous, err := s.store.ListActive(ctx)
	if err != nil {
		return Combo{}, err
	}
	created, err := s.store.Create(ctx, input.combo(uuid.Nil))
	if err != nil {
		return Combo{}, err
	}
	s.afterWrite(ctx, created.ID, previous)
	return created, nil
}

// UpdateCombo rewrites a combo and emits combos.updated if the active
// registry content changed.
func (s *Service) UpdateCombo(ctx context.Context, rawID string, input ComboInput) (Combo, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Combo{}, badRequest("id", "invalid combo id")
	}
	if err := input.validateRequirements(); err != nil {
		return Combo{}, err
	}
	previous, err := s.store.ListActive(ctx)
	if err != nil {
		return Combo{}, err
	}
	updated, err := s.store.Update(ctx, input.combo(id))
	if err != nil {
		return Combo{}, err
	}
	s.afterWrite(ctx, updated.ID, previous)
	return updated, nil
}

// DeleteCombo removes a combo and emits combos.updated if the active
// registry content changed.
func (s *Service) DeleteCombo(ctx context.Context, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return badRequest("id", "invalid combo id")
	}
	previous, err := s.store.ListActive(ctx)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.afterWrite(ctx, id, previous)
	return nil
}

// afterWrite invalidates the cache and emits combos.updated when the active
// snapshot actually changed. Event emission is best effort; the write itself
// already succeeded.
func (s *Service) afterWrite(ctx context.Context, aggregateID uuid.UUID, previous []Combo) {
	if s.redis != nil {
		_ = s.redis.Del(ctx, cacheKeyActive).Err()
	}
	current, err := s.store.ListActive(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reload combo registry after write")
		return
	}
	if !Changed(current, previous) {
		return
	}
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Emit(ctx, events.TopicCombosUpdated, aggregateID, map[string]any{
		"activeCombos": len(current),
	}); err != nil {
		s.log.Error().Err(err).Msg("emit combos.updated")
	}
}
