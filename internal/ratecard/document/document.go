// Package document models the pricing document carried by a rate card: a map of
// services, each priced by exactly one of a flat rate, a volume tier list or a
// set of zone-scoped tier lists.
package document

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/logibill/internal/billingcycle/domain"
)

var (
	ErrInvalidDocument = errors.New("invalid_rate_document")
	ErrUnknownService  = errors.New("unknown_service")
	ErrTierGap         = errors.New("tier_gap")
	ErrUnknownZone     = errors.New("unknown_zone")
)

// Stored precision of billing_activities.rate_applied and .quantity.
// Values with more decimal places would be rounded by the database after
// the amount was computed from the unrounded value.
const (
	RateScale     int32 = 6
	QuantityScale int32 = 4
)

// FitsScale reports whether d has no significant digits beyond places.
func FitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

// UnitPercent marks services whose rate is a percentage of a caller supplied base amount.
const UnitPercent = "percent"

type Kind string

const (
	KindFlat   Kind = "flat"
	KindTiered Kind = "tiered"
	KindZoned  Kind = "zoned"
)

// Rate is implemented by FlatRate, TieredRate and ZonedRate only.
type Rate interface {
	Kind() Kind
	sealed()
}

type FlatRate struct {
	Amount decimal.Decimal
}

// Tier covers volumes in [Min, Max). A nil Max is unbounded.
type Tier struct {
	Min  decimal.Decimal  `json:"min"`
	Max  *decimal.Decimal `json:"max,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

type TieredRate struct {
	Tiers []Tier
}

type ZonedRate struct {
	Zones map[string][]Tier
}

func (FlatRate) Kind() Kind   { return KindFlat }
func (TieredRate) Kind() Kind { return KindTiered }
func (ZonedRate) Kind() Kind  { return KindZoned }

func (FlatRate) sealed()   {}
func (TieredRate) sealed() {}
func (ZonedRate) sealed()  {}

// ServiceRate prices one service identifier.
type ServiceRate struct {
	Unit        string
	Category    string
	Description string
	Rate        Rate
}

type Surcharge struct {
	Code        string          `json:"code"`
	Description string          `json:"description,omitempty"`
	Percent     decimal.Decimal `json:"percent"`
	Services    []string        `json:"services,omitempty"`
}

// Document is the full or partial (adjustment) pricing document of a rate card.
type Document struct {
	Services   map[string]ServiceRate                              `json:"services"`
	Minimums   map[billingcycledomain.BillingCycle]decimal.Decimal `json:"minimums,omitempty"`
	Surcharges []Surcharge                                         `json:"surcharges,omitempty"`
}

// Service returns the rate definition for a service identifier.
func (d Document) Service(code string) (ServiceRate, bool) {
	svc, ok := d.Services[code]
	return svc, ok
}

// ServiceCodes lists service identifiers in sorted order.
func (d Document) ServiceCodes() []string {
	codes := make([]string, 0, len(d.Services))
	for code := range d.Services {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Minimum returns the minimum period charge declared for a cycle.
func (d Document) Minimum(cycle billingcycledomain.BillingCycle) (decimal.Decimal, bool) {
	amount, ok := d.Minimums[cycle]
	return amount, ok
}

// Clone deep-copies the document so callers can freeze it in snapshots.
func (d Document) Clone() Document {
	out := Document{}
	if d.Services != nil {
		out.Services = make(map[string]ServiceRate, len(d.Services))
		for code, svc := range d.Services {
			out.Services[code] = svc.clone()
		}
	}
	if d.Minimums != nil {
		out.Minimums = make(map[billingcycledomain.BillingCycle]decimal.Decimal, len(d.Minimums))
		for cycle, amount := range d.Minimums {
			out.Minimums[cycle] = amount
		}
	}
	if d.Surcharges != nil {
		out.Surcharges = make([]Surcharge, len(d.Surcharges))
		for i, s := range d.Surcharges {
			s.Services = append([]string(nil), s.Services...)
			out.Surcharges[i] = s
		}
	}
	return out
}

func (s ServiceRate) clone() ServiceRate {
	switch rate := s.Rate.(type) {
	case TieredRate:
		s.Rate = TieredRate{Tiers: cloneTiers(rate.Tiers)}
	case ZonedRate:
		zones := make(map[string][]Tier, len(rate.Zones))
		for zone, tiers := range rate.Zones {
			zones[zone] = cloneTiers(tiers)
		}
		s.Rate = ZonedRate{Zones: zones}
	}
	return s
}

func cloneTiers(tiers []Tier) []Tier {
	out := make([]Tier, len(tiers))
	for i, tier := range tiers {
		if tier.Max != nil {
			max := *tier.Max
			tier.Max = &max
		}
		out[i] = tier
	}
	return out
}
