package document

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RateFor resolves the rate for a service at the given volume. zone is only
// consulted for zoned services.
func (d Document) RateFor(service string, volume decimal.Decimal, zone string) (decimal.Decimal, error) {
	svc, ok := d.Services[service]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	switch rate := svc.Rate.(type) {
	case FlatRate:
		return rate.Amount, nil
	case TieredRate:
		return tierRate(rate.Tiers, service, volume)
	case ZonedRate:
		tiers, ok := rate.Zones[strings.TrimSpace(zone)]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: service %q zone %q", ErrUnknownZone, service, zone)
		}
		return tierRate(tiers, service, volume)
	default:
		return decimal.Zero, fmt.Errorf("%w: service %q has no rate", ErrInvalidDocument, service)
	}
}

func tierRate(tiers []Tier, service string, volume decimal.Decimal) (decimal.Decimal, error) {
	for _, tier := range tiers {
		if volume.LessThan(tier.Min) {
			continue
		}
		if tier.Max == nil || volume.LessThan(*tier.Max) {
			return tier.Rate, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: service %q volume %s", ErrTierGap, service, volume.String())
}

// Price computes the charge for quantity at rate, rounded half away from zero
// to cents. Percent services treat quantity as the base amount.
func Price(unit string, quantity, rate decimal.Decimal) decimal.Decimal {
	amount := quantity.Mul(rate)
	if strings.EqualFold(strings.TrimSpace(unit), UnitPercent) {
		amount = amount.Div(hundred)
	}
	return RoundMoney(amount)
}

func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}
