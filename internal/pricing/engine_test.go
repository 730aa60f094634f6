package pricing

import (
	"errors"
	"reflect"
	"testing"
)

const (
	catFood  = "Đồ ăn"
	catDrink = "Đồ uống"
)

func testCatalog() map[string]Product {
	return map[string]Product{
		"banh-mi":     {ID: "banh-mi", Category: catFood, Price: 25000},
		"xoi-ga":      {ID: "xoi-ga", Category: catFood, Price: 25000},
		"tra-sua":     {ID: "tra-sua", Category: catDrink, Price: 20000},
		"nuoc-cam":    {ID: "nuoc-cam", Category: catDrink, Price: 20000},
		"trang-mieng": {ID: "trang-mieng", Category: "Tráng miệng", Price: 15000},
	}
}

func mealCombo(id string, price Money, priority int) Combo {
	return Combo{
		ID:       id,
		Name:     "Combo no nê",
		Price:    price,
		Priority: priority,
		Active:   true,
		Requirements: []Requirement{
			{Category: catFood, Qty: 2},
			{Category: catDrink, Qty: 1},
		},
	}
}

func TestComputeEmptyCart(t *testing.T) {
	var e Engine
	b, err := e.Compute(nil, testCatalog(), []Combo{mealCombo("c1", 60000, 1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Combos) != 0 || len(b.IndividualItems) != 0 {
		t.Fatalf("expected empty breakdown, got %+v", b)
	}
	if b.Summary.FinalTotal != 0 || b.Summary.TotalSavings != 0 {
		t.Fatalf("expected zero totals, got %+v", b.Summary)
	}
}

func TestComputeNoCombos(t *testing.T) {
	var e Engine
	lines := []CartLine{{ProductID: "banh-mi", Qty: 2}, {ProductID: "tra-sua", Qty: 1}}
	b, err := e.Compute(lines, testCatalog(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Combos) != 0 {
		t.Fatalf("expected no applied combos, got %+v", b.Combos)
	}
	if b.Summary.OriginalTotal != 70000 || b.Summary.FinalTotal != 70000 || b.Summary.TotalSavings != 0 {
		t.Fatalf("unexpected summary: %+v", b.Summary)
	}
	if len(b.IndividualItems) != 2 {
		t.Fatalf("expected 2 individual items, got %d", len(b.IndividualItems))
	}
}

func TestComputeComboApplied(t *testing.T) {
	var e Engine
	lines := []CartLine{{ProductID: "banh-mi", Qty: 2}, {ProductID: "tra-sua", Qty: 1}}
	b, err := e.Compute(lines, testCatalog(), []Combo{mealCombo("c1", 60000, 1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Combos) != 1 {
		t.Fatalf("expected 1 applied combo, got %+v", b.Combos)
	}
	got := b.Combos[0]
	if got.ComboID != "c1" || got.Applications != 1 || got.TotalPrice != 60000 || got.Savings != 10000 {
		t.Fatalf("unexpected applied combo: %+v", got)
	}
	if len(b.IndividualItems) != 0 {
		t.Fatalf("expected no individual items, got %+v", b.IndividualItems)
	}
	if b.Summary.OriginalTotal != 70000 || b.Summary.FinalTotal != 60000 || b.Summary.TotalSavings != 10000 {
		t.Fatalf("unexpected summary: %+v", b.Summary)
	}
	if b.Summary.SavingsPercentage != 14.29 {
		t.Fatalf("unexpected savings percentage: %v", b.Summary.SavingsPercentage)
	}
	if b.Approximate {
		t.Fatal("exact result flagged approximate")
	}
}

func TestComputeLeftoverUnits(t *testing.T) {
	var e Engine
	lines := []CartLine{{ProductID: "banh-mi", Qty: 3}, {ProductID: "tra-sua", Qty: 2}}
	b, err := e.Compute(lines, testCatalog(), []Combo{mealCombo("c1", 60000, 1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Combos) != 1 || b.Combos[0].Applications != 1 {
		t.Fatalf("expected a single application, got %+v", b.Combos)
	}
	want := []IndividualItem{
		{ProductID: "banh-mi", Quantity: 1, Subtotal: 25000},
		{ProductID: "tra-sua", Quantity: 1, Subtotal: 20000},
	}
	if !reflect.DeepEqual(b.IndividualItems, want) {
		t.Fatalf("unexpected individual items: %+v", b.IndividualItems)
	}
	if b.Summary.OriginalTotal != 115000 || b.Summary.FinalTotal != 105000 || b.Summary.TotalSavings != 10000 {
		t.Fatalf("unexpected summary: %+v", b.Summary)
	}
}

func TestComputeMultipleApplications(t *testing.T) {
	var e Engine
	lines := []CartLine{{ProductID: "banh-mi", Qty: 4}, {ProductID: "tra-sua", Qty: 2}}
	b, err := e.Compute(lines, testCatalog(), []Combo{mealCombo("c1", 60000, 1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Combos) != 1 || b.Combos[0].Applications != 2 {
		t.Fatalf("expected 2 applications, got %+v", b.Combos)
	}
	if b.Summary.FinalTotal != 120000 || b.Summary.TotalSavings != 20000 {
		t.Fatalf("unexpected summary: %+v", b.Summary)
	}
}

func TestComputeComboNotWorthIt(t *testing.T) {
	var e Engine
	lines := []CartLine{{ProductID: "banh-mi", Qty: 2}, {ProductID: "tra-sua", Qty: 1}}
	b, err := e.Compute(lines, testCatalog(), []Combo{mealCombo("c1", 80000, 1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Combos) != 0 {
		t.Fatalf("overpriced combo was applied: %+v", b.Combos)
	}
	if b.Summary.FinalTotal != 70000 || b.Summary.TotalSavings != 0 {
		t.Fatalf("unexpected summary: %+v", b.Summary)
	}
}

func TestComputeComboTiesIndividualPrice(t *testing.T) {
	var e Engine
	lines := []CartLine{{ProductID: "banh-mi", Qty: 2}, {ProductID: "tra-sua", Qty: 1}}
	b, err := e.Compute(lines, testCatalog(), []Combo{mealCombo("c1", 70000, 1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Combos) != 1 || b.Combos[0].Applications != 1 {
		t.Fatalf("break-even combo should still be applied, got %+v", b.Combos)
	}
	if b.Summary.TotalSavings != 0 {
		t.Fatalf("unexpected savings: %+v", b.Summary)
	}
}

func TestComputeInactiveComboIgnored(t *testing.T) {
	var e Engine
	combo := mealCombo("c1", 60000, 1)
	combo.Active = false
	lines := []CartLine{{ProductID: "banh-mi", Qty: 2}, {ProductID: "tra-sua", Qty: 1}}
	b, err := e.Compute(lines, testCatalog(), []Combo{combo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Combos) != 0 || b.Summary.FinalTotal != 70000 {
		t.Fatalf("inactive combo was applied: %+v", b)
	}
}

func TestComputePicksCheapestCombination(t *testing.T) {
	var e Engine
	cheap := Combo{
		ID: "food-pair", Name: "Cặp đồ ăn", Price: 38000, Priority: 1, Active: true,
		Requirements: []Requirement{{Category: catFood, Qty: 2}},
	}
	lines := []CartLine{{ProductID: "banh-mi", Qty: 2}, {ProductID: "tra-sua", Qty: 1}}
	b, err := e.Compute(lines, testCatalog(), []Combo{mealCombo("meal", 60000, 5), cheap})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// food-pair leaves the drink individual: 38000 + 20000 beats the 60000 meal.
	if len(b.Combos) != 1 || b.Combos[0].ComboID != "food-pair" {
		t.Fatalf("expected food-pair to win, got %+v", b.Combos)
	}
	if b.Summary.FinalTotal != 58000 {
		t.Fatalf("unexpected final total: %+v", b.Summary)
	}
}

func TestComputeTieBreakPrefersPriority(t *testing.T) {
	var e Engine
	low := mealCombo("low", 60000, 1)
	high := mealCombo("high", 60000, 9)
	lines := []CartLine{{ProductID: "banh-mi", Qty: 2}, {ProductID: "tra-sua", Qty: 1}}
	b, err := e.Compute(lines, testCatalog(), []Combo{low, high})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Combos) != 1 || b.Combos[0].ComboID != "high" {
		t.Fatalf("expected higher priority combo to win the tie, got %+v", b.Combos)
	}
}

func TestComputeTieBreakRegistryOrder(t *testing.T) {
	var e Engine
	first := mealCombo("first", 60000, 3)
	second := mealCombo("second", 60000, 3)
	lines := []CartLine{{ProductID: "banh-mi", Qty: 2}, {ProductID: "tra-sua", Qty: 1}}
	b, err := e.Compute(lines, testCatalog(), []Combo{first, second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Combos) != 1 || b.Combos[0].ComboID != "first" {
		t.Fatalf("expected registry order to break the tie, got %+v", b.Combos)
	}
}

func TestComputeDeterministic(t *testing.T) {
	var e Engine
	lines := []CartLine{
		{ProductID: "banh-mi", Qty: 3},
		{ProductID: "xoi-ga", Qty: 2},
		{ProductID: "tra-sua", Qty: 2},
		{ProductID: "nuoc-cam", Qty: 1},
	}
	combos := []Combo{mealCombo("c1", 60000, 2), {
		ID: "drink-pair", Name: "Cặp đồ uống", Price: 35000, Priority: 1, Active: true,
		Requirements: []Requirement{{Category: catDrink, Qty: 2}},
	}}
	first, err := e.Compute(lines, testCatalog(), combos)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := e.Compute(lines, testCatalog(), combos)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("non-deterministic result:\nfirst:  %+v\nsecond: %+v", first, again)
		}
	}
}

func TestComputeInvariants(t *testing.T) {
	var e Engine
	lines := []CartLine{
		{ProductID: "banh-mi", Qty: 5},
		{ProductID: "xoi-ga", Qty: 3},
		{ProductID: "tra-sua", Qty: 4},
		{ProductID: "trang-mieng", Qty: 2},
	}
	combos := []Combo{
		mealCombo("meal", 60000, 2),
		{
			ID: "full-set", Name: "Combo đầy đủ", Price: 72000, Priority: 3, Active: true,
			Requirements: []Requirement{
				{Category: catFood, Qty: 2},
				{Category: catDrink, Qty: 1},
				{Category: "Tráng miệng", Qty: 1},
			},
		},
	}
	b, err := e.Compute(lines, testCatalog(), combos)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, b, lines, combos)
}

func assertInvariants(t *testing.T, b Breakdown, lines []CartLine, combos []Combo) {
	t.Helper()
	if b.Summary.FinalTotal != b.Summary.OriginalTotal-b.Summary.TotalSavings {
		t.Fatalf("final total mismatch: %+v", b.Summary)
	}
	if b.Summary.TotalSavings < 0 {
		t.Fatalf("negative savings: %+v", b.Summary)
	}
	var comboSavings Money
	unitsInCombos := 0
	byID := make(map[string]Combo, len(combos))
	for _, combo := range combos {
		byID[combo.ID] = combo
	}
	for _, applied := range b.Combos {
		comboSavings += applied.Savings
		perApp := 0
		for _, req := range byID[applied.ComboID].Requirements {
			perApp += req.Qty
		}
		unitsInCombos += perApp * applied.Applications
	}
	if comboSavings != b.Summary.TotalSavings {
		t.Fatalf("per-combo savings %d != total savings %d", comboSavings, b.Summary.TotalSavings)
	}
	unitsIndividual := 0
	for _, item := range b.IndividualItems {
		unitsIndividual += item.Quantity
	}
	unitsInCart := 0
	for _, line := range lines {
		unitsInCart += line.Qty
	}
	if unitsInCombos+unitsIndividual != unitsInCart {
		t.Fatalf("unit accounting broken: %d in combos + %d individual != %d in cart",
			unitsInCombos, unitsIndividual, unitsInCart)
	}
}

func TestComputeGreedyFallback(t *testing.T) {
	e := Engine{MaxTuples: 1}
	lines := []CartLine{
		{ProductID: "banh-mi", Qty: 4},
		{ProductID: "tra-sua", Qty: 2},
	}
	combos := []Combo{mealCombo("meal", 60000, 2), {
		ID: "food-pair", Name: "Cặp đồ ăn", Price: 45000, Priority: 1, Active: true,
		Requirements: []Requirement{{Category: catFood, Qty: 2}},
	}}
	b, err := e.Compute(lines, testCatalog(), combos)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Approximate {
		t.Fatal("fallback result not flagged approximate")
	}
	assertInvariants(t, b, lines, combos)
	// Priority order still lands on the optimum here: two meal applications.
	if len(b.Combos) != 1 || b.Combos[0].ComboID != "meal" || b.Combos[0].Applications != 2 {
		t.Fatalf("unexpected greedy outcome: %+v", b.Combos)
	}
}

func TestComputeInvalidCart(t *testing.T) {
	var e Engine
	cases := []struct {
		name  string
		lines []CartLine
	}{
		{"unknown product", []CartLine{{ProductID: "pho-bo", Qty: 1}}},
		{"zero quantity", []CartLine{{ProductID: "banh-mi", Qty: 0}}},
		{"negative quantity", []CartLine{{ProductID: "banh-mi", Qty: -2}}},
		{"duplicate line", []CartLine{{ProductID: "banh-mi", Qty: 1}, {ProductID: "banh-mi", Qty: 2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Compute(tc.lines, testCatalog(), []Combo{mealCombo("c1", 60000, 1)})
			if !errors.Is(err, ErrInvalidCart) {
				t.Fatalf("expected ErrInvalidCart, got %v", err)
			}
		})
	}
}

func TestComputeInvalidConfiguration(t *testing.T) {
	var e Engine
	badProduct := testCatalog()
	badProduct["banh-mi"] = Product{ID: "banh-mi", Category: catFood, Price: -100}

	negativeCombo := mealCombo("c1", -1, 1)
	zeroQtyCombo := mealCombo("c2", 60000, 1)
	zeroQtyCombo.Requirements = []Requirement{{Category: catFood, Qty: 0}}
	emptyCombo := mealCombo("c3", 60000, 1)
	emptyCombo.Requirements = nil

	lines := []CartLine{{ProductID: "banh-mi", Qty: 2}, {ProductID: "tra-sua", Qty: 1}}

	if _, err := e.Compute(lines, badProduct, nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("negative product price: expected ErrInvalidConfiguration, got %v", err)
	}
	for _, combo := range []Combo{negativeCombo, zeroQtyCombo, emptyCombo} {
		if _, err := e.Compute(lines, testCatalog(), []Combo{combo}); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("combo %s: expected ErrInvalidConfiguration, got %v", combo.ID, err)
		}
	}
}
