package document

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type serviceRateWire struct {
	Type        Kind              `json:"type"`
	Unit        string            `json:"unit,omitempty"`
	Category    string            `json:"category,omitempty"`
	Description string            `json:"description,omitempty"`
	Rate        *decimal.Decimal  `json:"rate,omitempty"`
	Tiers       []Tier            `json:"tiers,omitempty"`
	Zones       map[string][]Tier `json:"zones,omitempty"`
}

func (s ServiceRate) MarshalJSON() ([]byte, error) {
	wire := serviceRateWire{
		Unit:        s.Unit,
		Category:    s.Category,
		Description: s.Description,
	}
	switch rate := s.Rate.(type) {
	case FlatRate:
		amount := rate.Amount
		wire.Type = KindFlat
		wire.Rate = &amount
	case TieredRate:
		wire.Type = KindTiered
		wire.Tiers = rate.Tiers
	case ZonedRate:
		wire.Type = KindZoned
		wire.Zones = rate.Zones
	default:
		return nil, fmt.Errorf("%w: service has no rate", ErrInvalidDocument)
	}
	return json.Marshal(wire)
}

func (s *ServiceRate) UnmarshalJSON(data []byte) error {
	var wire serviceRateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	out := ServiceRate{
		Unit:        wire.Unit,
		Category:    wire.Category,
		Description: wire.Description,
	}
	switch wire.Type {
	case KindFlat:
		if wire.Rate == nil {
			return fmt.Errorf("%w: flat service requires rate", ErrInvalidDocument)
		}
		out.Rate = FlatRate{Amount: *wire.Rate}
	case KindTiered:
		out.Rate = TieredRate{Tiers: wire.Tiers}
	case KindZoned:
		out.Rate = ZonedRate{Zones: wire.Zones}
	default:
		return fmt.Errorf("%w: unknown service type %q", ErrInvalidDocument, wire.Type)
	}
	*s = out
	return nil
}

// Parse decodes and validates a wire document.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}
