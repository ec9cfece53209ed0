package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/logibill/internal/ratecard/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, card *domain.RateCard) error {
	return db.WithContext(ctx).Create(card).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.RateCard, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.RateCard, error) {
	return first(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) FindActiveStandardForUpdate(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*domain.RateCard, error) {
	return first(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ? AND rate_card_type = ? AND is_active = ?", customerID, domain.RateCardTypeStandard, true))
}

func (r *repo) Supersede(ctx context.Context, db *gorm.DB, id snowflake.ID, expiresAt, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE rate_cards
		 SET is_active = ?, expires_at = ?, updated_at = ?
		 WHERE id = ? AND is_active = ?`,
		false,
		expiresAt,
		now,
		id,
		true,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Archive(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error {
	var archiveReason *string
	if reason != "" {
		archiveReason = &reason
	}
	return db.WithContext(ctx).Exec(
		`UPDATE rate_cards
		 SET is_active = ?, archived_at = ?, archive_reason = ?, updated_at = ?
		 WHERE id = ?`,
		false,
		at,
		archiveReason,
		at,
		id,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.RateCard, error) {
	stmt := db.WithContext(ctx).Model(&domain.RateCard{}).Where("customer_id = ?", filter.CustomerID)
	if filter.RateCardType != "" {
		stmt = stmt.Where("rate_card_type = ?", filter.RateCardType)
	}
	if !filter.IncludeArchived {
		stmt = stmt.Where("archived_at IS NULL")
	}

	var cards []domain.RateCard
	if err := stmt.Order("effective_from asc, version asc, id asc").Find(&cards).Error; err != nil {
		return nil, err
	}
	return cards, nil
}

func (r *repo) ListSuccessors(ctx context.Context, db *gorm.DB, id snowflake.ID) ([]domain.RateCard, error) {
	var cards []domain.RateCard
	err := db.WithContext(ctx).
		Where("supersedes_id = ? AND rate_card_type = ?", id, domain.RateCardTypeStandard).
		Order("version desc, effective_from desc, id desc").
		Find(&cards).Error
	if err != nil {
		return nil, err
	}
	return cards, nil
}

func (r *repo) FindStandardEffectiveAt(ctx context.Context, db *gorm.DB, customerID snowflake.ID, at time.Time) (*domain.RateCard, error) {
	return first(db.WithContext(ctx).
		Where("customer_id = ? AND rate_card_type = ?", customerID, domain.RateCardTypeStandard).
		Where("archived_at IS NULL").
		Where("effective_from <= ?", at).
		Where("expires_at IS NULL OR expires_at > ?", at).
		Order("effective_from desc, version desc, id desc"))
}

func (r *repo) ListAdjustmentsEffectiveAt(ctx context.Context, db *gorm.DB, parentID snowflake.ID, at time.Time) ([]domain.RateCard, error) {
	var cards []domain.RateCard
	err := db.WithContext(ctx).
		Where("parent_id = ? AND rate_card_type = ?", parentID, domain.RateCardTypeAdjustment).
		Where("is_active = ? AND archived_at IS NULL", true).
		Where("effective_from <= ?", at).
		Where("expires_at IS NULL OR expires_at > ?", at).
		Order("effective_from asc, id asc").
		Find(&cards).Error
	if err != nil {
		return nil, err
	}
	return cards, nil
}

func (r *repo) ListAdjustmentsOverlapping(ctx context.Context, db *gorm.DB, parentIDs []snowflake.ID, start, end time.Time) ([]domain.RateCard, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var cards []domain.RateCard
	err := db.WithContext(ctx).
		Where("parent_id IN ? AND rate_card_type = ?", parentIDs, domain.RateCardTypeAdjustment).
		Where("archived_at IS NULL").
		Where("effective_from < ?", end).
		Where("expires_at IS NULL OR expires_at > ?", start).
		Order("effective_from asc, id asc").
		Find(&cards).Error
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// CountOutstandingActivities counts activities that still depend on a
// standard card: uninvoiced rows rated against it, and pending or errored
// rows of the same customer dated inside its effective window.
func (r *repo) CountOutstandingActivities(ctx context.Context, db *gorm.DB, card *domain.RateCard) (int64, error) {
	if card == nil {
		return 0, nil
	}
	unrated := db.Where("customer_id = ? AND rating_status IN ? AND activity_date >= ?",
		card.CustomerID,
		[]string{"pending", "error"},
		card.EffectiveFrom,
	)
	if card.ExpiresAt != nil {
		unrated = unrated.Where("activity_date < ?", *card.ExpiresAt)
	}

	var count int64
	err := db.WithContext(ctx).
		Table("billing_activities").
		Where("invoice_id IS NULL").
		Where(db.Where("rate_card_id = ?", card.ID).Or(unrated)).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) InsertContract(ctx context.Context, db *gorm.DB, contract *domain.Contract) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO contracts (id, customer_id, code, reference, title, signed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		contract.ID,
		contract.CustomerID,
		contract.Code,
		contract.Reference,
		contract.Title,
		contract.SignedAt,
		contract.CreatedAt,
	).Error
}

func (r *repo) FindContractByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Contract, error) {
	var contract domain.Contract
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, code, reference, title, signed_at, created_at
		 FROM contracts
		 WHERE id = ?`,
		id,
	).Scan(&contract).Error
	if err != nil {
		return nil, err
	}
	if contract.ID == 0 {
		return nil, nil
	}
	return &contract, nil
}

func (r *repo) LinkContract(ctx context.Context, db *gorm.DB, link *domain.RateCardContract) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rate_card_id"}, {Name: "contract_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(link).Error
}

func (r *repo) ListContracts(ctx context.Context, db *gorm.DB, cardID snowflake.ID) ([]domain.LinkedContract, error) {
	var rows []domain.LinkedContract
	err := db.WithContext(ctx).Raw(
		`SELECT c.id, c.customer_id, c.code, c.reference, c.title, c.signed_at, c.created_at, l.role
		 FROM rate_card_contracts l
		 JOIN contracts c ON c.id = l.contract_id
		 WHERE l.rate_card_id = ?
		 ORDER BY l.created_at ASC, c.id ASC`,
		cardID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func first(stmt *gorm.DB) (*domain.RateCard, error) {
	var cards []domain.RateCard
	if err := stmt.Limit(1).Find(&cards).Error; err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, nil
	}
	return &cards[0], nil
}
