package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
	ratecarddomain "github.com/smallbiznis/logibill/internal/ratecard/domain"
	"github.com/smallbiznis/logibill/internal/rateresolver"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// buildSnapshot copies everything an issued invoice was priced from: its
// lines, the activities behind them, the standard cards those activities were
// rated against and every adjustment that overlapped the billed dates.
func (s *Service) buildSnapshot(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) (*invoicedomain.Snapshot, error) {
	lines, err := s.repo.ListLines(ctx, tx, invoice.ID)
	if err != nil {
		return nil, err
	}
	activities, err := s.activityRepo.List(ctx, tx, billingactivitydomain.ListFilter{InvoiceID: &invoice.ID})
	if err != nil {
		return nil, err
	}
	sort.Slice(activities, func(i, j int) bool {
		a, b := activities[i], activities[j]
		if !a.ActivityDate.Equal(b.ActivityDate) {
			return a.ActivityDate.Before(b.ActivityDate)
		}
		return a.ID < b.ID
	})

	cards := map[snowflake.ID]ratecarddomain.RateCard{}
	windowEnd := invoice.PeriodEnd
	snapshotActivities := make([]invoicedomain.SnapshotActivity, 0, len(activities))
	for _, activity := range activities {
		if activity.RateCardID != nil {
			if _, ok := cards[*activity.RateCardID]; !ok {
				card, err := s.rateCardRepo.FindByID(ctx, tx, *activity.RateCardID)
				if err != nil {
					return nil, err
				}
				if card != nil {
					cards[card.ID] = *card
				}
			}
		}
		if end := activity.ActivityDate.AddDate(0, 0, 1); end.After(windowEnd) {
			windowEnd = end
		}
		snapshotActivities = append(snapshotActivities, snapshotActivity(*activity))
	}

	// The minimum comes from the card in effect at the period start, which
	// may not have rated any activity.
	resolution, err := s.resolver.ResolveTx(ctx, tx, invoice.CustomerID, invoice.PeriodStart)
	if err != nil && !errors.Is(err, rateresolver.ErrNoRateCard) {
		return nil, err
	}
	if resolution != nil {
		cards[resolution.StandardCard.ID] = resolution.StandardCard
	}

	parentIDs := make([]snowflake.ID, 0, len(cards))
	for id := range cards {
		parentIDs = append(parentIDs, id)
	}
	adjustments, err := s.rateCardRepo.ListAdjustmentsOverlapping(ctx, tx, parentIDs, invoice.PeriodStart, windowEnd)
	if err != nil {
		return nil, err
	}
	for _, adjustment := range adjustments {
		cards[adjustment.ID] = adjustment
	}

	snapshotCards := make([]invoicedomain.SnapshotRateCard, 0, len(cards))
	for _, card := range cards {
		frozen, err := snapshotRateCard(card)
		if err != nil {
			return nil, err
		}
		snapshotCards = append(snapshotCards, frozen)
	}
	sort.Slice(snapshotCards, func(i, j int) bool {
		a, b := snapshotCards[i], snapshotCards[j]
		if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
			return a.EffectiveFrom.Before(b.EffectiveFrom)
		}
		return a.ID < b.ID
	})

	return &invoicedomain.Snapshot{
		FrozenAt:   now,
		RateCards:  snapshotCards,
		Lines:      lines,
		Activities: snapshotActivities,
	}, nil
}

func snapshotRateCard(card ratecarddomain.RateCard) (invoicedomain.SnapshotRateCard, error) {
	raw, err := json.Marshal(card.Document())
	if err != nil {
		return invoicedomain.SnapshotRateCard{}, err
	}
	return invoicedomain.SnapshotRateCard{
		ID:            card.ID,
		Name:          card.Name,
		Type:          string(card.RateCardType),
		Version:       card.Version,
		ParentID:      card.ParentID,
		EffectiveFrom: card.EffectiveFrom,
		ExpiresAt:     card.ExpiresAt,
		RateDocument:  datatypes.JSON(raw),
		Minimum:       card.MinimumPeriodCharge,
	}, nil
}

func snapshotActivity(activity billingactivitydomain.BillingActivity) invoicedomain.SnapshotActivity {
	return invoicedomain.SnapshotActivity{
		ID:               activity.ID,
		ActivityDate:     activity.ActivityDate,
		Type:             activity.Type,
		Category:         activity.Category,
		Description:      activity.Description,
		Quantity:         activity.Quantity,
		Unit:             activity.Unit,
		Zone:             activity.Zone,
		ReferenceID:      activity.ReferenceID,
		RateCardID:       activity.RateCardID,
		RateApplied:      activity.RateApplied,
		Amount:           activity.Amount,
		IsManualOverride: activity.IsManualOverride,
		InvoiceLineID:    activity.InvoiceLineID,
	}
}

func snapshotColumn(snapshot *invoicedomain.Snapshot) datatypes.JSONType[*invoicedomain.Snapshot] {
	return datatypes.NewJSONType(snapshot)
}
