package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rated(id int64, category, unit, quantity, rate, amount string) billingactivitydomain.BillingActivity {
	return billingactivitydomain.BillingActivity{
		ID:           snowflake.ID(id),
		ActivityDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Type:         category,
		Category:     category,
		Unit:         unit,
		Quantity:     decimal.RequireFromString(quantity),
		RatingStatus: billingactivitydomain.RatingStatusRated,
		RateApplied:  decimal.NewNullDecimal(decimal.RequireFromString(rate)),
		Amount:       decimal.NewNullDecimal(decimal.RequireFromString(amount)),
	}
}

func TestBuildLinesGroupsByRate(t *testing.T) {
	drafts := buildLines([]billingactivitydomain.BillingActivity{
		rated(1, "pick", "line", "150", "3", "450"),
		rated(2, "pick", "line", "20", "5", "100"),
		rated(3, "pick", "line", "120", "3", "360"),
		rated(4, "base_order", "order", "1", "2", "2"),
	})
	require.Len(t, drafts, 3)

	assert.Equal(t, "base_order", drafts[0].line.Category)
	assert.NotNil(t, drafts[0].line.ActivityID)

	grouped := drafts[1].line
	assert.True(t, grouped.UnitRate.Equal(decimal.NewFromInt(3)))
	assert.True(t, grouped.Quantity.Equal(decimal.NewFromInt(270)))
	assert.True(t, grouped.LineTotal.Equal(decimal.NewFromInt(810)))
	assert.Nil(t, grouped.ActivityID)
	assert.Equal(t, 2, grouped.ActivityCount)
	assert.ElementsMatch(t, []snowflake.ID{1, 3}, drafts[1].activities)

	assert.True(t, drafts[2].line.UnitRate.Equal(decimal.NewFromInt(5)))
	assert.True(t, sumLines(drafts).Equal(decimal.NewFromInt(912)))
}

func TestBuildLinesSplitsGroupsThatDoNotReprice(t *testing.T) {
	// 3 x round(0.333) = 0.99 while round(3 x 0.333) = 1.00.
	drafts := buildLines([]billingactivitydomain.BillingActivity{
		rated(1, "label", "label", "1", "0.333", "0.33"),
		rated(2, "label", "label", "1", "0.333", "0.33"),
		rated(3, "label", "label", "1", "0.333", "0.33"),
	})
	require.Len(t, drafts, 3)
	for _, draft := range drafts {
		require.NotNil(t, draft.line.ActivityID)
		assert.True(t, draft.line.LineTotal.Equal(decimal.RequireFromString("0.33")))
	}
	assert.True(t, sumLines(drafts).Equal(decimal.RequireFromString("0.99")))
}

func TestBuildLinesPercentUnits(t *testing.T) {
	drafts := buildLines([]billingactivitydomain.BillingActivity{
		rated(1, "insurance", "percent", "1000", "1.5", "15"),
		rated(2, "insurance", "percent", "200", "1.5", "3"),
	})
	require.Len(t, drafts, 1)
	assert.True(t, drafts[0].line.Quantity.Equal(decimal.NewFromInt(1200)))
	assert.True(t, drafts[0].line.LineTotal.Equal(decimal.NewFromInt(18)))
}

func TestBuildLinesManualOverrideIsLumpSum(t *testing.T) {
	override := rated(7, "base_order", "order", "4", "2", "5.55")
	override.IsManualOverride = true

	drafts := buildLines([]billingactivitydomain.BillingActivity{override})
	require.Len(t, drafts, 1)
	line := drafts[0].line
	assert.True(t, line.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, line.UnitRate.Equal(decimal.RequireFromString("5.55")))
	assert.True(t, line.LineTotal.Equal(decimal.RequireFromString("5.55")))
}

func TestMinimumLineDefaultsDescription(t *testing.T) {
	draft := minimumLine("  ", decimal.NewFromInt(80))
	assert.Equal(t, "Minimum charge", draft.line.Description)
	assert.True(t, draft.line.IsMinimumCharge)
	assert.Nil(t, draft.line.ActivityID)
	assert.Empty(t, draft.activities)
}
