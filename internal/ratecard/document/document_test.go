package document

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/logibill/internal/billingcycle/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func dp(value string) *decimal.Decimal {
	v := d(value)
	return &v
}

const wireDocument = `{
  "services": {
    "base_order": {"type": "flat", "rate": "2.00", "unit": "order", "category": "fulfillment", "description": "Base order"},
    "pick_line": {"type": "tiered", "unit": "line", "tiers": [
      {"min": "0", "max": "100", "rate": "5"},
      {"min": "100", "rate": "3"}
    ]},
    "parcel": {"type": "zoned", "unit": "parcel", "zones": {
      "A": [{"min": "0", "rate": "4.10"}],
      "B": [{"min": "0", "max": "10", "rate": "6.00"}, {"min": "10", "rate": "5.50"}]
    }},
    "insurance": {"type": "flat", "rate": "1.5", "unit": "percent"}
  },
  "minimums": {"monthly": "500"},
  "surcharges": [{"code": "fuel", "percent": "4.5"}]
}`

func TestParseWireDocument(t *testing.T) {
	doc, err := Parse([]byte(wireDocument))
	require.NoError(t, err)

	assert.Equal(t, []string{"base_order", "insurance", "parcel", "pick_line"}, doc.ServiceCodes())
	assert.Equal(t, KindFlat, doc.Services["base_order"].Rate.Kind())
	assert.Equal(t, KindTiered, doc.Services["pick_line"].Rate.Kind())
	assert.Equal(t, KindZoned, doc.Services["parcel"].Rate.Kind())
	assert.Equal(t, "Base order", doc.Services["base_order"].Description)

	minimum, ok := doc.Minimum(billingcycledomain.BillingCycleMonthly)
	assert.True(t, ok)
	assert.True(t, minimum.Equal(d("500")))
	assert.Len(t, doc.Surcharges, 1)
}

func TestMarshalKeepsTaggedShape(t *testing.T) {
	doc, err := Parse([]byte(wireDocument))
	require.NoError(t, err)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var generic struct {
		Services map[string]map[string]any `json:"services"`
		Minimums map[string]string         `json:"minimums"`
	}
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "flat", generic.Services["base_order"]["type"])
	assert.Equal(t, "2", generic.Services["base_order"]["rate"])
	assert.Equal(t, "zoned", generic.Services["parcel"]["type"])
	assert.Equal(t, "500", generic.Minimums["monthly"])

	again, err := Parse(raw)
	require.NoError(t, err)
	rate, err := again.RateFor("parcel", d("12"), "B")
	require.NoError(t, err)
	assert.True(t, rate.Equal(d("5.5")))
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse([]byte(`{"services":{"x":{"type":"magic","rate":"1"}}}`))
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = Parse([]byte(`{"services":{"x":{"type":"flat"}}}`))
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestValidateTiers(t *testing.T) {
	cases := []struct {
		name  string
		tiers []Tier
		ok    bool
	}{
		{name: "contiguous", tiers: []Tier{{Min: d("0"), Max: dp("100"), Rate: d("5")}, {Min: d("100"), Rate: d("3")}}, ok: true},
		{name: "gap", tiers: []Tier{{Min: d("0"), Max: dp("100"), Rate: d("5")}, {Min: d("150"), Rate: d("3")}}},
		{name: "overlap", tiers: []Tier{{Min: d("0"), Max: dp("100"), Rate: d("5")}, {Min: d("50"), Rate: d("3")}}},
		{name: "unbounded not last", tiers: []Tier{{Min: d("0"), Rate: d("5")}, {Min: d("100"), Rate: d("3")}}},
		{name: "empty"},
		{name: "negative rate", tiers: []Tier{{Min: d("0"), Rate: d("-1")}}},
		{name: "inverted", tiers: []Tier{{Min: d("10"), Max: dp("5"), Rate: d("1")}}},
		{name: "rate at storage scale", tiers: []Tier{{Min: d("0"), Rate: d("0.123456")}}, ok: true},
		{name: "rate beyond storage scale", tiers: []Tier{{Min: d("0"), Rate: d("0.1234567")}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := Document{Services: map[string]ServiceRate{"svc": {Rate: TieredRate{Tiers: tc.tiers}}}}
			err := doc.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestValidateRejectsNegativeFlatAndBadMinimum(t *testing.T) {
	doc := Document{Services: map[string]ServiceRate{"svc": {Rate: FlatRate{Amount: d("-2")}}}}
	assert.ErrorIs(t, doc.Validate(), ErrInvalidDocument)

	doc = Document{Minimums: map[billingcycledomain.BillingCycle]decimal.Decimal{"yearly": d("10")}}
	assert.ErrorIs(t, doc.Validate(), ErrInvalidDocument)

	doc = Document{Services: map[string]ServiceRate{"svc": {}}}
	assert.ErrorIs(t, doc.Validate(), ErrInvalidDocument)
}

func TestRateForTieredPicksMatchingTier(t *testing.T) {
	doc := Document{Services: map[string]ServiceRate{
		"storage": {Rate: TieredRate{Tiers: []Tier{
			{Min: d("0"), Max: dp("100"), Rate: d("5")},
			{Min: d("100"), Rate: d("3")},
		}}},
	}}

	rate, err := doc.RateFor("storage", d("150"), "")
	require.NoError(t, err)
	assert.True(t, rate.Equal(d("3")))

	rate, err = doc.RateFor("storage", d("99.99"), "")
	require.NoError(t, err)
	assert.True(t, rate.Equal(d("5")))

	rate, err = doc.RateFor("storage", d("100"), "")
	require.NoError(t, err)
	assert.True(t, rate.Equal(d("3")))
}

func TestRateForErrors(t *testing.T) {
	doc := Document{Services: map[string]ServiceRate{
		"gappy": {Rate: TieredRate{Tiers: []Tier{{Min: d("10"), Max: dp("20"), Rate: d("1")}}}},
		"parcel": {Rate: ZonedRate{Zones: map[string][]Tier{
			"A": {{Min: d("0"), Rate: d("4")}},
		}}},
	}}

	_, err := doc.RateFor("gappy", d("5"), "")
	assert.ErrorIs(t, err, ErrTierGap)
	_, err = doc.RateFor("gappy", d("20"), "")
	assert.ErrorIs(t, err, ErrTierGap)

	_, err = doc.RateFor("parcel", d("1"), "Z")
	assert.ErrorIs(t, err, ErrUnknownZone)

	rate, err := doc.RateFor("parcel", d("1"), " A ")
	require.NoError(t, err)
	assert.True(t, rate.Equal(d("4")))

	_, err = doc.RateFor("missing", d("1"), "")
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestPrice(t *testing.T) {
	assert.Equal(t, "2", Price("order", d("1"), d("2.00")).String())
	assert.Equal(t, "0.01", Price("order", d("1"), d("0.005")).String())
	assert.Equal(t, "-0.01", Price("order", d("-1"), d("0.005")).String())
	assert.Equal(t, "15", Price(UnitPercent, d("1000"), d("1.5")).String())
	assert.Equal(t, "3.7", Price("kg", d("1.234"), d("3")).String())
}

func TestOverlayReplacesWholeServices(t *testing.T) {
	base := Document{
		Services: map[string]ServiceRate{
			"base_order": {Unit: "order", Rate: FlatRate{Amount: d("2.00")}},
			"storage": {Rate: TieredRate{Tiers: []Tier{
				{Min: d("0"), Max: dp("100"), Rate: d("5")},
				{Min: d("100"), Rate: d("3")},
			}}},
		},
		Minimums:   map[billingcycledomain.BillingCycle]decimal.Decimal{billingcycledomain.BillingCycleMonthly: d("500")},
		Surcharges: []Surcharge{{Code: "fuel", Percent: d("4.5")}},
	}
	first := Document{Services: map[string]ServiceRate{
		"storage": {Rate: TieredRate{Tiers: []Tier{{Min: d("0"), Rate: d("4")}}}},
	}}
	second := Document{
		Services: map[string]ServiceRate{"base_order": {Unit: "order", Rate: FlatRate{Amount: d("1.50")}}},
		Minimums: map[billingcycledomain.BillingCycle]decimal.Decimal{billingcycledomain.BillingCycleMonthly: d("300")},
	}

	merged := Overlay(base, first, second)

	rate, err := merged.RateFor("base_order", d("1"), "")
	require.NoError(t, err)
	assert.True(t, rate.Equal(d("1.5")))

	// The adjustment's single tier replaces the whole tier list.
	rate, err = merged.RateFor("storage", d("150"), "")
	require.NoError(t, err)
	assert.True(t, rate.Equal(d("4")))

	minimum, _ := merged.Minimum(billingcycledomain.BillingCycleMonthly)
	assert.True(t, minimum.Equal(d("300")))
	assert.Len(t, merged.Surcharges, 1)

	// Base document is untouched.
	rate, err = base.RateFor("base_order", d("1"), "")
	require.NoError(t, err)
	assert.True(t, rate.Equal(d("2")))
}

func TestCloneIsDeep(t *testing.T) {
	base := Document{Services: map[string]ServiceRate{
		"storage": {Rate: TieredRate{Tiers: []Tier{{Min: d("0"), Max: dp("10"), Rate: d("5")}, {Min: d("10"), Rate: d("3")}}}},
	}}
	clone := base.Clone()
	*clone.Services["storage"].Rate.(TieredRate).Tiers[0].Max = d("99")

	assert.True(t, base.Services["storage"].Rate.(TieredRate).Tiers[0].Max.Equal(d("10")))
}

func TestValidateBoundsRateScale(t *testing.T) {
	doc := Document{Services: map[string]ServiceRate{"svc": {Rate: FlatRate{Amount: d("0.0000015")}}}}
	assert.ErrorIs(t, doc.Validate(), ErrInvalidDocument)

	doc = Document{Services: map[string]ServiceRate{"svc": {Rate: FlatRate{Amount: d("1.25000000")}}}}
	assert.NoError(t, doc.Validate())

	_, err := Parse([]byte(`{"services":{"pick":{"type":"flat","rate":"0.1234567","unit":"line"}}}`))
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestFitsScale(t *testing.T) {
	assert.True(t, FitsScale(d("12.3456"), QuantityScale))
	assert.True(t, FitsScale(d("12.34560000"), QuantityScale))
	assert.False(t, FitsScale(d("12.34561"), QuantityScale))
	assert.True(t, FitsScale(d("7"), RateScale))
}
