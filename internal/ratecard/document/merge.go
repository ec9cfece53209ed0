package document

import (
	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/logibill/internal/billingcycle/domain"
)

// Overlay applies adjustment documents on top of base in order. Each service
// present in an adjustment replaces the base definition wholesale; minimums
// override per cycle and a non-empty surcharge list replaces the base list.
func Overlay(base Document, adjustments ...Document) Document {
	out := base.Clone()
	if out.Services == nil {
		out.Services = map[string]ServiceRate{}
	}
	for _, adj := range adjustments {
		adj = adj.Clone()
		for code, svc := range adj.Services {
			out.Services[code] = svc
		}
		for cycle, amount := range adj.Minimums {
			if out.Minimums == nil {
				out.Minimums = map[billingcycledomain.BillingCycle]decimal.Decimal{}
			}
			out.Minimums[cycle] = amount
		}
		if len(adj.Surcharges) > 0 {
			out.Surcharges = adj.Surcharges
		}
	}
	return out
}
