package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, card *RateCard) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RateCard, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RateCard, error)
	FindActiveStandardForUpdate(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*RateCard, error)
	// Supersede closes the active card's window. It reports false when the card
	// was no longer active.
	Supersede(ctx context.Context, db *gorm.DB, id snowflake.ID, expiresAt, now time.Time) (bool, error)
	Archive(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]RateCard, error)
	ListSuccessors(ctx context.Context, db *gorm.DB, id snowflake.ID) ([]RateCard, error)
	FindStandardEffectiveAt(ctx context.Context, db *gorm.DB, customerID snowflake.ID, at time.Time) (*RateCard, error)
	ListAdjustmentsEffectiveAt(ctx context.Context, db *gorm.DB, parentID snowflake.ID, at time.Time) ([]RateCard, error)
	ListAdjustmentsOverlapping(ctx context.Context, db *gorm.DB, parentIDs []snowflake.ID, start, end time.Time) ([]RateCard, error)
	CountOutstandingActivities(ctx context.Context, db *gorm.DB, card *RateCard) (int64, error)

	InsertContract(ctx context.Context, db *gorm.DB, contract *Contract) error
	FindContractByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Contract, error)
	LinkContract(ctx context.Context, db *gorm.DB, link *RateCardContract) error
	ListContracts(ctx context.Context, db *gorm.DB, cardID snowflake.ID) ([]LinkedContract, error)
}

type ListFilter struct {
	CustomerID      snowflake.ID
	RateCardType    RateCardType
	IncludeArchived bool
}
