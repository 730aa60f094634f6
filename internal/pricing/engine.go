package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// ErrInvalidCart indicates the cart payload cannot be priced (unknown product,
// non-positive quantity, duplicate lines).
var ErrInvalidCart = errors.New("invalid cart")

// ErrInvalidConfiguration indicates catalog or combo data violates its own
// invariants. This is a data fault on our side, not a caller error.
var ErrInvalidConfiguration = errors.New("invalid combo configuration")

// CartLine is a single cart entry to be priced.
type CartLine struct {
	ProductID string
	Qty       int
}

// Product carries the catalog attributes the engine needs.
type Product struct {
	ID       string
	Category string
	Price    Money
}

// Requirement demands a quantity of units from one category.
type Requirement struct {
	Category string `json:"category"`
	Qty      int    `json:"qty"`
}

// Combo is a bundle discount: a fixed price for a set of category quantities.
type Combo struct {
	ID           string
	Name         string
	Price        Money
	Priority     int
	Requirements []Requirement
	Active       bool
}

// AppliedCombo reports how often a combo was used and what it saved.
type AppliedCombo struct {
	ComboID      string `json:"comboId"`
	Name         string `json:"name"`
	Applications int    `json:"applications"`
	TotalPrice   Money  `json:"totalPrice"`
	Savings      Money  `json:"savings"`
}

// IndividualItem lists cart units priced outside any combo.
type IndividualItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Subtotal  Money  `json:"subtotal"`
}

// Summary aggregates the totals of a pricing computation.
type Summary struct {
	OriginalTotal     Money   `json:"originalTotal"`
	FinalTotal        Money   `json:"finalTotal"`
	TotalSavings      Money   `json:"totalSavings"`
	SavingsPercentage float64 `json:"savingsPercentage"`
}

// Breakdown is the full result of a pricing computation. Approximate is set
// when the search space exceeded the tuple budget and the greedy fallback
// produced the result instead of the exhaustive search.
type Breakdown struct {
	Combos          []AppliedCombo   `json:"combos"`
	IndividualItems []IndividualItem `json:"individualItems"`
	Summary         Summary          `json:"summary"`
	Approximate     bool             `json:"approximate,omitempty"`
}

// DefaultMaxTuples bounds how many application-count assignments the
// exhaustive search may evaluate before handing off to the greedy pass.
const DefaultMaxTuples = 200_000

// Engine computes the cheapest valid split of a cart between combo bundles
// and individual pricing. The zero value uses DefaultMaxTuples.
type Engine struct {
	MaxTuples int
}

func (e Engine) maxTuples() int {
	if e.MaxTuples <= 0 {
		return DefaultMaxTuples
	}
	return e.MaxTuples
}

// resolvedLine is a cart line joined with its catalog data. remaining tracks
// units not yet consumed by a combo during allocation.
type resolvedLine struct {
	id        string
	category  string
	unit      Money
	qty       int
	remaining int
}

// candidate is an applicable combo with its feasibility bound for this cart.
type candidate struct {
	combo   Combo
	regIdx  int
	needs   map[string]int
	maxApps int
}

// Compute prices the cart against the catalog and combo registry. Every cart
// unit ends up either inside exactly one combo application or in the
// individual items; identical input always yields an identical breakdown.
func (e Engine) Compute(lines []CartLine, catalog map[string]Product, combos []Combo) (Breakdown, error) {
	if len(lines) == 0 {
		return Breakdown{Combos: []AppliedCombo{}, IndividualItems: []IndividualItem{}}, nil
	}

	resolved, pool, originalTotal, err := resolveLines(lines, catalog)
	if err != nil {
		return Breakdown{}, err
	}

	cands, err := buildCandidates(combos, pool)
	if err != nil {
		return Breakdown{}, err
	}

	if len(cands) == 0 {
		return buildBreakdown(resolved, nil, nil, originalTotal, false), nil
	}

	counts, approximate := e.search(resolved, pool, cands, originalTotal)
	return buildBreakdown(resolved, cands, counts, originalTotal, approximate), nil
}

func resolveLines(lines []CartLine, catalog map[string]Product) ([]resolvedLine, map[string]int, Money, error) {
	resolved := make([]resolvedLine, 0, len(lines))
	pool := make(map[string]int)
	seen := make(map[string]struct{}, len(lines))
	var originalTotal Money
	for _, line := range lines {
		if line.Qty < 1 {
			return nil, nil, 0, fmt.Errorf("product %s: quantity must be at least 1: %w", line.ProductID, ErrInvalidCart)
		}
		if _, dup := seen[line.ProductID]; dup {
			return nil, nil, 0, fmt.Errorf("product %s appears more than once: %w", line.ProductID, ErrInvalidCart)
		}
		seen[line.ProductID] = struct{}{}
		product, ok := catalog[line.ProductID]
		if !ok {
			return nil, nil, 0, fmt.Errorf("product %s not found: %w", line.ProductID, ErrInvalidCart)
		}
		if product.Price < 0 {
			return nil, nil, 0, fmt.Errorf("product %s has a negative price: %w", line.ProductID, ErrInvalidConfiguration)
		}
		resolved = append(resolved, resolvedLine{
			id:        line.ProductID,
			category:  product.Category,
			unit:      product.Price,
			qty:       line.Qty,
			remaining: line.Qty,
		})
		pool[product.Category] += line.Qty
		originalTotal += Money(line.Qty) * product.Price
	}
	return resolved, pool, originalTotal, nil
}

func buildCandidates(combos []Combo, pool map[string]int) ([]candidate, error) {
	cands := make([]candidate, 0, len(combos))
	for i, combo := range combos {
		if !combo.Active {
			continue
		}
		if combo.Price < 0 {
			return nil, fmt.Errorf("combo %s has a negative price: %w", combo.ID, ErrInvalidConfiguration)
		}
		if len(combo.Requirements) == 0 {
			return nil, fmt.Errorf("combo %s has no requirements: %w", combo.ID, ErrInvalidConfiguration)
		}
		needs := make(map[string]int, len(combo.Requirements))
		for _, req := range combo.Requirements {
			if req.Category == "" {
				return nil, fmt.Errorf("combo %s has a requirement without a category: %w", combo.ID, ErrInvalidConfiguration)
			}
			if req.Qty < 1 {
				return nil, fmt.Errorf("combo %s requires a non-positive quantity of %q: %w", combo.ID, req.Category, ErrInvalidConfiguration)
			}
			needs[req.Category] += req.Qty
		}
		maxApps := math.MaxInt
		for category, qty := range needs {
			if apps := pool[category] / qty; apps < maxApps {
				maxApps = apps
			}
		}
		if maxApps <= 0 {
			continue
		}
		cands = append(cands, candidate{combo: combo, regIdx: i, needs: needs, maxApps: maxApps})
	}
	return cands, nil
}

// search selects per-candidate application counts minimizing the final total.
// It enumerates every feasible assignment unless their number exceeds the
// tuple budget, in which case the greedy pass runs instead.
func (e Engine) search(resolved []resolvedLine, pool map[string]int, cands []candidate, originalTotal Money) (counts []int, approximate bool) {
	budget := e.maxTuples()
	space := 1
	for _, cand := range cands {
		if space > budget/(cand.maxApps+1) {
			return greedy(resolved, pool, cands), true
		}
		space *= cand.maxApps + 1
	}
	return exhaustive(resolved, pool, cands, originalTotal), false
}

// exhaustive walks every feasible application-count assignment depth first,
// pruning on category pool capacity, and keeps the best assignment under the
// deterministic tie-break order.
func exhaustive(resolved []resolvedLine, pool map[string]int, cands []candidate, originalTotal Money) []int {
	remaining := make(map[string]int, len(pool))
	for category, qty := range pool {
		remaining[category] = qty
	}
	tieOrder := tieBreakOrder(cands)

	current := make([]int, len(cands))
	var best []int
	var bestTotal Money

	var visit func(i int)
	visit = func(i int) {
		if i == len(cands) {
			total := assignmentTotal(resolved, pool, cands, current, originalTotal)
			if best == nil || better(total, current, bestTotal, best, tieOrder) {
				best = append(best[:0], current...)
				bestTotal = total
			}
			return
		}
		limit := cands[i].maxApps
		for category, qty := range cands[i].needs {
			if apps := remaining[category] / qty; apps < limit {
				limit = apps
			}
		}
		for apps := limit; apps >= 0; apps-- {
			current[i] = apps
			for category, qty := range cands[i].needs {
				remaining[category] -= qty * apps
			}
			visit(i + 1)
			for category, qty := range cands[i].needs {
				remaining[category] += qty * apps
			}
		}
		current[i] = 0
	}
	visit(0)
	return best
}

// assignmentTotal prices one assignment: combo bundle prices plus the
// individual value of whatever units the combos leave behind. Units are
// consumed from cart lines in input order, so the total is well defined.
func assignmentTotal(resolved []resolvedLine, pool map[string]int, cands []candidate, counts []int, originalTotal Money) Money {
	var total Money
	consumed := make(map[string]int, len(pool))
	for i, cand := range cands {
		if counts[i] == 0 {
			continue
		}
		total += cand.combo.Price * Money(counts[i])
		for category, qty := range cand.needs {
			consumed[category] += qty * counts[i]
		}
	}
	var consumedValue Money
	for category, units := range consumed {
		consumedValue += categoryFrontValue(resolved, category, units)
	}
	return total + originalTotal - consumedValue
}

// categoryFrontValue returns the individual value of the first units of a
// category taken from cart lines in input order.
func categoryFrontValue(resolved []resolvedLine, category string, units int) Money {
	var value Money
	for _, line := range resolved {
		if units == 0 {
			break
		}
		if line.category != category {
			continue
		}
		take := line.qty
		if take > units {
			take = units
		}
		value += Money(take) * line.unit
		units -= take
	}
	return value
}

// tieBreakOrder returns candidate indices sorted by priority descending then
// registry order, the order in which application counts are compared when
// final totals tie.
func tieBreakOrder(cands []candidate) []int {
	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := cands[order[a]], cands[order[b]]
		if ca.combo.Priority != cb.combo.Priority {
			return ca.combo.Priority > cb.combo.Priority
		}
		return ca.regIdx < cb.regIdx
	})
	return order
}

// better reports whether the challenger assignment beats the incumbent:
// lower total, then more combo applications overall, then more applications
// of higher-priority combos.
func better(total Money, counts []int, bestTotal Money, best []int, tieOrder []int) bool {
	if total != bestTotal {
		return total < bestTotal
	}
	sum, bestSum := 0, 0
	for i := range counts {
		sum += counts[i]
		bestSum += best[i]
	}
	if sum != bestSum {
		return sum > bestSum
	}
	for _, i := range tieOrder {
		if counts[i] != best[i] {
			return counts[i] > best[i]
		}
	}
	return false
}

// greedy applies combos by descending priority, then by descending savings
// per unit consumed, each maximally before the next. A combo application that
// costs more than the units it replaces is never taken. Overlapping category
// requirements can make this diverge from the optimum; callers see that
// through the approximate flag.
func greedy(resolved []resolvedLine, pool map[string]int, cands []candidate) []int {
	remaining := make(map[string]int, len(pool))
	for category, qty := range pool {
		remaining[category] = qty
	}
	lines := make([]resolvedLine, len(resolved))
	copy(lines, resolved)

	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	rates := make([]float64, len(cands))
	for i, cand := range cands {
		equiv, units := applicationEquivalent(lines, cand.needs)
		if units > 0 {
			rates[i] = float64(equiv-cand.combo.Price) / float64(units)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := cands[order[a]], cands[order[b]]
		if ca.combo.Priority != cb.combo.Priority {
			return ca.combo.Priority > cb.combo.Priority
		}
		if rates[order[a]] != rates[order[b]] {
			return rates[order[a]] > rates[order[b]]
		}
		return ca.regIdx < cb.regIdx
	})

	counts := make([]int, len(cands))
	for _, i := range order {
		cand := cands[i]
		for counts[i] < cand.maxApps {
			if !feasible(remaining, cand.needs) {
				break
			}
			equiv, _ := applicationEquivalent(lines, cand.needs)
			if equiv < cand.combo.Price {
				break
			}
			consumeApplication(lines, remaining, cand.needs)
			counts[i]++
		}
	}
	return counts
}

func feasible(remaining map[string]int, needs map[string]int) bool {
	for category, qty := range needs {
		if remaining[category] < qty {
			return false
		}
	}
	return true
}

// applicationEquivalent values one application of a combo against the current
// line state, consuming notionally in input order. units is the number of
// cart units one application would consume.
func applicationEquivalent(lines []resolvedLine, needs map[string]int) (Money, int) {
	var equiv Money
	units := 0
	for category, qty := range needs {
		units += qty
		need := qty
		for _, line := range lines {
			if need == 0 {
				break
			}
			if line.category != category || line.remaining == 0 {
				continue
			}
			take := line.remaining
			if take > need {
				take = need
			}
			equiv += Money(take) * line.unit
			need -= take
		}
	}
	return equiv, units
}

func consumeApplication(lines []resolvedLine, remaining map[string]int, needs map[string]int) {
	for category, qty := range needs {
		remaining[category] -= qty
		need := qty
		for j := range lines {
			if need == 0 {
				break
			}
			if lines[j].category != category || lines[j].remaining == 0 {
				continue
			}
			take := lines[j].remaining
			if take > need {
				take = need
			}
			lines[j].remaining -= take
			need -= take
		}
	}
}
