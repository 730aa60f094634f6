package combo

import (
	"testing"

	"github.com/google/uuid"

	"github.com/vuhoang-dev/backend-preorder/internal/pricing"
)

func reg(category string, qty int) pricing.Requirement {
	return pricing.Requirement{Category: category, Qty: qty}
}

func TestChanged(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	base := []Combo{
		{ID: id1, Name: "Combo no nê", Price: 60000, Priority: 2, Active: true,
			Requirements: []pricing.Requirement{reg("Đồ ăn", 2), reg("Đồ uống", 1)}},
		{ID: id2, Name: "Cặp đồ uống", Price: 35000, Priority: 1, Active: true,
			Requirements: []pricing.Requirement{reg("Đồ uống", 2)}},
	}

	clone := func() []Combo {
		out := make([]Combo, len(base))
		copy(out, base)
		return out
	}

	if Changed(clone(), base) {
		t.Fatal("identical snapshots reported as changed")
	}

	reordered := []Combo{base[1], base[0]}
	if Changed(reordered, base) {
		t.Fatal("snapshot order should not matter")
	}

	split := clone()
	split[1].Requirements = []pricing.Requirement{reg("Đồ uống", 1), reg("Đồ uống", 1)}
	if Changed(split, base) {
		t.Fatal("split requirements are logically equal")
	}

	priced := clone()
	priced[0].Price = 55000
	if !Changed(priced, base) {
		t.Fatal("price change not detected")
	}

	deactivated := clone()
	deactivated[1].Active = false
	if !Changed(deactivated, base) {
		t.Fatal("active flag change not detected")
	}

	requirement := clone()
	requirement[0].Requirements = []pricing.Requirement{reg("Đồ ăn", 3), reg("Đồ uống", 1)}
	if !Changed(requirement, base) {
		t.Fatal("requirement change not detected")
	}

	if !Changed(base[:1], base) {
		t.Fatal("removed combo not detected")
	}

	replaced := clone()
	replaced[1].ID = uuid.New()
	if !Changed(replaced, base) {
		t.Fatal("replaced combo not detected")
	}
}
