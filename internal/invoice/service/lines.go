package service

import (
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
)

// lineDraft is an unsaved invoice line and the activities it bills.
type lineDraft struct {
	line       invoicedomain.InvoiceLine
	activities []snowflake.ID
}

type groupKey struct {
	category    string
	description string
	unit        string
	rate        string
}

// buildLines groups rated activities by category, description, unit and rate.
// A group whose summed amounts differ from pricing the summed quantity once
// is split into one line per activity, so every line total always equals its
// quantity priced at its unit rate.
func buildLines(activities []billingactivitydomain.BillingActivity) []lineDraft {
	groups := map[groupKey][]billingactivitydomain.BillingActivity{}
	rates := map[groupKey]decimal.Decimal{}
	var lumpSums []lineDraft

	for _, activity := range activities {
		rate, ok := unitRate(activity)
		if !ok {
			lumpSums = append(lumpSums, lumpSumLine(activity))
			continue
		}
		key := groupKey{
			category:    categoryOf(activity),
			description: descriptionOf(activity),
			unit:        activity.Unit,
			rate:        rate.String(),
		}
		groups[key] = append(groups[key], activity)
		rates[key] = rate
	}

	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.category != b.category {
			return a.category < b.category
		}
		if a.description != b.description {
			return a.description < b.description
		}
		if a.unit != b.unit {
			return a.unit < b.unit
		}
		return rates[a].LessThan(rates[b])
	})

	drafts := make([]lineDraft, 0, len(keys)+len(lumpSums))
	for _, key := range keys {
		members := groups[key]
		rate := rates[key]
		if len(members) == 1 {
			drafts = append(drafts, activityLine(members[0], rate))
			continue
		}

		quantity := decimal.Zero
		amount := decimal.Zero
		ids := make([]snowflake.ID, 0, len(members))
		for _, member := range members {
			quantity = quantity.Add(member.Quantity)
			amount = amount.Add(member.Amount.Decimal)
			ids = append(ids, member.ID)
		}

		if !document.Price(key.unit, quantity, rate).Equal(amount) {
			for _, member := range members {
				drafts = append(drafts, activityLine(member, rate))
			}
			continue
		}

		drafts = append(drafts, lineDraft{
			line: invoicedomain.InvoiceLine{
				Description:   key.description,
				Category:      key.category,
				Unit:          key.unit,
				Quantity:      quantity,
				UnitRate:      rate,
				LineTotal:     amount,
				ActivityCount: len(members),
			},
			activities: ids,
		})
	}
	return append(drafts, lumpSums...)
}

// unitRate returns the rate a line can be priced with. Manual overrides whose
// amount does not follow from quantity and rate have none.
func unitRate(activity billingactivitydomain.BillingActivity) (decimal.Decimal, bool) {
	if !activity.RateApplied.Valid {
		return decimal.Zero, false
	}
	rate := activity.RateApplied.Decimal
	if !document.Price(activity.Unit, activity.Quantity, rate).Equal(activity.Amount.Decimal) {
		return decimal.Zero, false
	}
	return rate, true
}

func activityLine(activity billingactivitydomain.BillingActivity, rate decimal.Decimal) lineDraft {
	id := activity.ID
	return lineDraft{
		line: invoicedomain.InvoiceLine{
			ActivityID:    &id,
			Description:   descriptionOf(activity),
			Category:      categoryOf(activity),
			Unit:          activity.Unit,
			Quantity:      activity.Quantity,
			UnitRate:      rate,
			LineTotal:     activity.Amount.Decimal,
			ActivityCount: 1,
		},
		activities: []snowflake.ID{activity.ID},
	}
}

// lumpSumLine bills an overridden amount as a single unit.
func lumpSumLine(activity billingactivitydomain.BillingActivity) lineDraft {
	id := activity.ID
	return lineDraft{
		line: invoicedomain.InvoiceLine{
			ActivityID:    &id,
			Description:   descriptionOf(activity),
			Category:      categoryOf(activity),
			Unit:          activity.Unit,
			Quantity:      decimal.NewFromInt(1),
			UnitRate:      activity.Amount.Decimal,
			LineTotal:     activity.Amount.Decimal,
			ActivityCount: 1,
		},
		activities: []snowflake.ID{activity.ID},
	}
}

func minimumLine(description string, amount decimal.Decimal) lineDraft {
	description = strings.TrimSpace(description)
	if description == "" {
		description = "Minimum charge"
	}
	return lineDraft{
		line: invoicedomain.InvoiceLine{
			Description:     description,
			Category:        "minimum",
			Quantity:        decimal.NewFromInt(1),
			UnitRate:        amount,
			LineTotal:       amount,
			IsMinimumCharge: true,
		},
	}
}

func categoryOf(activity billingactivitydomain.BillingActivity) string {
	if category := strings.TrimSpace(activity.Category); category != "" {
		return category
	}
	return activity.Type
}

func descriptionOf(activity billingactivitydomain.BillingActivity) string {
	if description := strings.TrimSpace(activity.Description); description != "" {
		return description
	}
	return activity.Type
}

func sumLines(drafts []lineDraft) decimal.Decimal {
	total := decimal.Zero
	for _, draft := range drafts {
		total = total.Add(draft.line.LineTotal)
	}
	return total
}
