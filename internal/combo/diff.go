package combo

import (
	"sort"

	"github.com/google/uuid"

	"github.com/vuhoang-dev/backend-preorder/internal/pricing"
)

// Changed reports whether the combo registry content differs between two
// snapshots. Timestamps are ignored; requirement order within a combo does
// not matter, and neither does snapshot order.
func Changed(current, previous []Combo) bool {
	if len(current) != len(previous) {
		return true
	}
	prev := make(map[uuid.UUID]Combo, len(previous))
	for _, c := range previous {
		prev[c.ID] = c
	}
	for _, c := range current {
		p, ok := prev[c.ID]
		if !ok {
			return true
		}
		if c.Name != p.Name || c.Price != p.Price || c.Priority != p.Priority || c.Active != p.Active {
			return true
		}
		if !sameRequirements(c.Requirements, p.Requirements) {
			return true
		}
	}
	return false
}

func sameRequirements(a, b []pricing.Requirement) bool {
	na, nb := normalize(a), normalize(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// normalize merges duplicate categories and sorts, so logically equal
// requirement lists compare equal.
func normalize(reqs []pricing.Requirement) []pricing.Requirement {
	merged := make(map[string]int, len(reqs))
	for _, r := range reqs {
		merged[r.Category] += r.Qty
	}
	out := make([]pricing.Requirement, 0, len(merged))
	for category, qty := range merged {
		out = append(out, pricing.Requirement{Category: category, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
