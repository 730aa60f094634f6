package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vuhoang-dev/backend-preorder/internal/obs"
)

// Catalog resolves cart product ids to pricing attributes. Missing products
// are simply absent from the returned map.
type Catalog interface {
	ProductsByIDs(ctx context.Context, ids []string) (map[string]Product, error)
}

// Registry supplies the active combos in their registry order.
type Registry interface {
	ActiveCombos(ctx context.Context) ([]Combo, error)
}

// Service loads a catalog and combo snapshot per request and runs the engine
// over it. It owns no state of its own; concurrent use is safe.
type Service struct {
	Catalog  Catalog
	Registry Registry
	Engine   Engine
	Log      zerolog.Logger
}

// Price computes the breakdown for the given cart lines.
func (s *Service) Price(ctx context.Context, lines []CartLine) (Breakdown, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	catalog, err := s.Catalog.ProductsByIDs(ctx, ids)
	if err != nil {
		return Breakdown{}, fmt.Errorf("load catalog snapshot: %w", err)
	}
	combos, err := s.Registry.ActiveCombos(ctx)
	if err != nil {
		return Breakdown{}, fmt.Errorf("load combo registry: %w", err)
	}

	breakdown, err := s.Engine.Compute(lines, catalog, combos)
	switch {
	case errors.Is(err, ErrInvalidCart):
		countRequest("invalid_cart")
		return Breakdown{}, err
	case errors.Is(err, ErrInvalidConfiguration):
		countRequest("invalid_config")
		s.Log.Error().Err(err).Msg("combo pricing hit a configuration fault")
		return Breakdown{}, err
	case err != nil:
		countRequest("error")
		return Breakdown{}, err
	}

	countRequest("ok")
	if breakdown.Approximate {
		if obs.PricingFallbackTotal != nil {
			obs.PricingFallbackTotal.Inc()
		}
		s.Log.Warn().
			Int("cart_lines", len(lines)).
			Int("active_combos", len(combos)).
			Msg("combo search space over budget, served greedy approximation")
	}
	return breakdown, nil
}

func countRequest(result string) {
	if obs.PricingRequestsTotal != nil {
		obs.PricingRequestsTotal.WithLabelValues(result).Inc()
	}
}
