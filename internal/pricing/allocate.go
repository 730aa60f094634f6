package pricing

import "math"

// buildBreakdown turns a chosen assignment into the externally visible
// breakdown. Applied combos consume cart units in registry order, each
// category drawn from cart lines in input order. The same consumption rule is
// used when assignments are evaluated during the search, so the totals here
// match the total the search optimized.
func buildBreakdown(resolved []resolvedLine, cands []candidate, counts []int, originalTotal Money, approximate bool) Breakdown {
	applied := make([]AppliedCombo, 0, len(cands))
	for i, cand := range cands {
		if counts == nil || counts[i] == 0 {
			continue
		}
		apps := counts[i]
		var equiv Money
		for category, qty := range cand.needs {
			need := qty * apps
			for j := range resolved {
				if need == 0 {
					break
				}
				if resolved[j].category != category || resolved[j].remaining == 0 {
					continue
				}
				take := resolved[j].remaining
				if take > need {
					take = need
				}
				equiv += Money(take) * resolved[j].unit
				resolved[j].remaining -= take
				need -= take
			}
		}
		bundleTotal := cand.combo.Price * Money(apps)
		applied = append(applied, AppliedCombo{
			ComboID:      cand.combo.ID,
			Name:         cand.combo.Name,
			Applications: apps,
			TotalPrice:   bundleTotal,
			Savings:      equiv - bundleTotal,
		})
	}

	individual := make([]IndividualItem, 0, len(resolved))
	var individualTotal Money
	for _, line := range resolved {
		if line.remaining == 0 {
			continue
		}
		subtotal := Money(line.remaining) * line.unit
		individual = append(individual, IndividualItem{
			ProductID: line.id,
			Quantity:  line.remaining,
			Subtotal:  subtotal,
		})
		individualTotal += subtotal
	}

	finalTotal := individualTotal
	for _, combo := range applied {
		finalTotal += combo.TotalPrice
	}

	summary := Summary{
		OriginalTotal: originalTotal,
		FinalTotal:    finalTotal,
		TotalSavings:  originalTotal - finalTotal,
	}
	if originalTotal > 0 {
		pct := float64(summary.TotalSavings) / float64(originalTotal) * 100
		summary.SavingsPercentage = math.Round(pct*100) / 100
	}

	return Breakdown{
		Combos:          applied,
		IndividualItems: individual,
		Summary:         summary,
		Approximate:     approximate,
	}
}
