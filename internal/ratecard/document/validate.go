package document

import (
	"fmt"
	"sort"
	"strings"
)

// Validate rejects documents the lookup could not price deterministically.
func (d Document) Validate() error {
	for _, code := range d.ServiceCodes() {
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("%w: empty service identifier", ErrInvalidDocument)
		}
		if err := d.Services[code].validate(); err != nil {
			return fmt.Errorf("service %q: %w", code, err)
		}
	}
	for cycle, amount := range d.Minimums {
		if !cycle.Valid() {
			return fmt.Errorf("%w: unknown minimum cycle %q", ErrInvalidDocument, cycle)
		}
		if amount.IsNegative() {
			return fmt.Errorf("%w: negative minimum for %s", ErrInvalidDocument, cycle)
		}
	}
	for _, surcharge := range d.Surcharges {
		if strings.TrimSpace(surcharge.Code) == "" {
			return fmt.Errorf("%w: surcharge code is required", ErrInvalidDocument)
		}
		if surcharge.Percent.IsNegative() {
			return fmt.Errorf("%w: negative surcharge %q", ErrInvalidDocument, surcharge.Code)
		}
	}
	return nil
}

func (s ServiceRate) validate() error {
	switch rate := s.Rate.(type) {
	case FlatRate:
		if rate.Amount.IsNegative() {
			return fmt.Errorf("%w: negative rate", ErrInvalidDocument)
		}
		if !FitsScale(rate.Amount, RateScale) {
			return fmt.Errorf("%w: rate %s has more than %d decimal places", ErrInvalidDocument, rate.Amount, RateScale)
		}
		return nil
	case TieredRate:
		return validateTiers(rate.Tiers)
	case ZonedRate:
		if len(rate.Zones) == 0 {
			return fmt.Errorf("%w: zoned service has no zones", ErrInvalidDocument)
		}
		zones := make([]string, 0, len(rate.Zones))
		for zone := range rate.Zones {
			zones = append(zones, zone)
		}
		sort.Strings(zones)
		for _, zone := range zones {
			if strings.TrimSpace(zone) == "" {
				return fmt.Errorf("%w: empty zone identifier", ErrInvalidDocument)
			}
			if err := validateTiers(rate.Zones[zone]); err != nil {
				return fmt.Errorf("zone %q: %w", zone, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: service has no rate", ErrInvalidDocument)
	}
}

// validateTiers requires tiers ordered by Min, each starting where the previous
// one ended, with only the last one unbounded.
func validateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: tier list is empty", ErrInvalidDocument)
	}
	for i, tier := range tiers {
		if tier.Min.IsNegative() {
			return fmt.Errorf("%w: tier %d has negative minimum", ErrInvalidDocument, i)
		}
		if tier.Rate.IsNegative() {
			return fmt.Errorf("%w: tier %d has negative rate", ErrInvalidDocument, i)
		}
		if !FitsScale(tier.Rate, RateScale) {
			return fmt.Errorf("%w: tier %d rate has more than %d decimal places", ErrInvalidDocument, i, RateScale)
		}
		if tier.Max == nil {
			if i != len(tiers)-1 {
				return fmt.Errorf("%w: unbounded tier %d must be last", ErrInvalidDocument, i)
			}
			continue
		}
		if !tier.Max.GreaterThan(tier.Min) {
			return fmt.Errorf("%w: tier %d max must exceed min", ErrInvalidDocument, i)
		}
		if i+1 < len(tiers) && !tiers[i+1].Min.Equal(*tier.Max) {
			return fmt.Errorf("%w: tiers %d and %d are not contiguous", ErrInvalidDocument, i, i+1)
		}
	}
	return nil
}
