// Package rateresolver produces the effective rate document for a customer at
// a point in time by layering adjustment cards over the standard card whose
// window covers that instant.
package rateresolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
	ratecarddomain "github.com/smallbiznis/logibill/internal/ratecard/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNoRateCard = errors.New("no_rate_card")

// Resolution is the merged document plus the cards it came from.
type Resolution struct {
	StandardCard ratecarddomain.RateCard
	Adjustments  []ratecarddomain.RateCard
	Document     document.Document
}

// AdjustmentIDs lists the applied adjustments in merge order.
func (r Resolution) AdjustmentIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(r.Adjustments))
	for _, card := range r.Adjustments {
		ids = append(ids, card.ID)
	}
	return ids
}

type Resolver interface {
	Resolve(ctx context.Context, customerID snowflake.ID, at time.Time) (*Resolution, error)
	// ResolveTx reads through the given handle so callers inside a
	// transaction see their own writes.
	ResolveTx(ctx context.Context, db *gorm.DB, customerID snowflake.ID, at time.Time) (*Resolution, error)
}

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo ratecarddomain.Repository
}

type resolver struct {
	db   *gorm.DB
	log  *zap.Logger
	repo ratecarddomain.Repository
}

func New(p Params) Resolver {
	return &resolver{
		db:   p.DB,
		log:  p.Log.Named("rateresolver"),
		repo: p.Repo,
	}
}

func (r *resolver) Resolve(ctx context.Context, customerID snowflake.ID, at time.Time) (*Resolution, error) {
	return r.ResolveTx(ctx, r.db, customerID, at)
}

func (r *resolver) ResolveTx(ctx context.Context, db *gorm.DB, customerID snowflake.ID, at time.Time) (*Resolution, error) {
	at = at.UTC()
	standard, err := r.repo.FindStandardEffectiveAt(ctx, db, customerID, at)
	if err != nil {
		return nil, err
	}
	if standard == nil {
		return nil, fmt.Errorf("%w: customer %s at %s", ErrNoRateCard, customerID, at.Format(time.RFC3339))
	}

	adjustments, err := r.repo.ListAdjustmentsEffectiveAt(ctx, db, standard.ID, at)
	if err != nil {
		return nil, err
	}

	overlays := make([]document.Document, 0, len(adjustments))
	for _, adj := range adjustments {
		overlays = append(overlays, adj.Document())
	}

	r.log.Debug("resolved rate document",
		zap.String("customer_id", customerID.String()),
		zap.String("rate_card_id", standard.ID.String()),
		zap.Int("adjustments", len(adjustments)),
	)

	return &Resolution{
		StandardCard: *standard,
		Adjustments:  adjustments,
		Document:     document.Overlay(standard.Document(), overlays...),
	}, nil
}

var Module = fx.Module("rateresolver",
	fx.Provide(New),
)
