package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/logibill/internal/billingactivity/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, a *domain.BillingActivity) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO billing_activities (
			id, customer_id, activity_date, type, category, description, quantity, unit, zone,
			reference_id, billing_cycle, billing_period_start, rating_status, rating_error,
			rate_card_id, rate_applied, amount, is_manual_override, rated_at, invoiced,
			invoice_id, invoice_line_id, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		a.ID,
		a.CustomerID,
		a.ActivityDate,
		a.Type,
		a.Category,
		a.Description,
		a.Quantity,
		a.Unit,
		a.Zone,
		a.ReferenceID,
		a.BillingCycle,
		a.BillingPeriodStart,
		a.RatingStatus,
		a.RatingError,
		a.RateCardID,
		a.RateApplied,
		a.Amount,
		a.IsManualOverride,
		a.RatedAt,
		a.Invoiced,
		a.InvoiceID,
		a.InvoiceLineID,
		a.Metadata,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BillingActivity, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByNaturalKey(ctx context.Context, db *gorm.DB, customerID snowflake.ID, referenceID string, activityDate time.Time, activityType string) (*domain.BillingActivity, error) {
	return first(db.WithContext(ctx).
		Where("customer_id = ? AND reference_id = ? AND activity_date = ? AND type = ?",
			customerID, referenceID, activityDate, activityType))
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.BillingActivity, error) {
	stmt := db.WithContext(ctx).Model(&domain.BillingActivity{})
	if filter.CustomerID != nil {
		stmt = stmt.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.RatingStatus != "" {
		stmt = stmt.Where("rating_status = ?", filter.RatingStatus)
	}
	if filter.InvoiceID != nil {
		stmt = stmt.Where("invoice_id = ?", *filter.InvoiceID)
	}
	if filter.From != nil {
		stmt = stmt.Where("activity_date >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("activity_date < ?", filter.To.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(activity_date < ?) OR (activity_date = ? AND id < ?)",
			filter.Cursor.ActivityDate,
			filter.Cursor.ActivityDate,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("activity_date desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var items []*domain.BillingActivity
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListPendingCustomers(ctx context.Context, db *gorm.DB, customerID *snowflake.ID, limit int) ([]snowflake.ID, error) {
	stmt := db.WithContext(ctx).Model(&domain.BillingActivity{}).
		Distinct("customer_id").
		Where("rating_status = ?", domain.RatingStatusPending)
	if customerID != nil {
		stmt = stmt.Where("customer_id = ?", *customerID)
	}
	stmt = stmt.Order("customer_id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var ids []snowflake.ID
	if err := stmt.Pluck("customer_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListPendingForCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID, limit int) ([]domain.BillingActivity, error) {
	stmt := db.WithContext(ctx).
		Where("customer_id = ? AND rating_status = ?", customerID, domain.RatingStatusPending).
		Order("activity_date asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var items []domain.BillingActivity
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkRated(ctx context.Context, db *gorm.DB, u domain.RatingUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_activities
		 SET rating_status = ?, rate_card_id = ?, rate_applied = ?, amount = ?,
		     rating_error = NULL, rated_at = ?, updated_at = ?
		 WHERE id = ? AND rating_status = ? AND rate_card_id IS NULL AND is_manual_override = ?`,
		domain.RatingStatusRated,
		u.RateCardID,
		u.RateApplied,
		u.Amount,
		u.RatedAt,
		u.RatedAt,
		u.ID,
		domain.RatingStatusPending,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkError(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_activities
		 SET rating_status = ?, rating_error = ?, updated_at = ?
		 WHERE id = ? AND rating_status = ?`,
		domain.RatingStatusError,
		reason,
		at,
		id,
		domain.RatingStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkManualOverride(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_activities
		 SET rating_status = ?, rating_error = NULL, rated_at = ?, updated_at = ?
		 WHERE id = ? AND rating_status = ? AND is_manual_override = ? AND amount IS NOT NULL`,
		domain.RatingStatusRated,
		at,
		at,
		id,
		domain.RatingStatusPending,
		true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_activities
		 SET rating_status = ?, rating_error = NULL, updated_at = ?
		 WHERE id = ? AND rating_status = ? AND invoiced = ?`,
		domain.RatingStatusPending,
		at,
		id,
		domain.RatingStatusError,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListForPeriod(ctx context.Context, db *gorm.DB, filter domain.PeriodFilter) ([]domain.BillingActivity, error) {
	var items []domain.BillingActivity
	err := db.WithContext(ctx).
		Where("customer_id = ? AND billing_cycle = ?", filter.CustomerID, filter.BillingCycle).
		Where("billing_period_start >= ? AND billing_period_start < ?", filter.PeriodStart, filter.PeriodEnd).
		Where("invoiced = ?", false).
		Order("activity_date asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) AttachToInvoice(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID, lineID snowflake.ID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_activities
		 SET invoiced = ?, invoice_id = ?, invoice_line_id = ?, updated_at = ?
		 WHERE id IN ? AND invoiced = ?`,
		true,
		invoiceID,
		lineID,
		at,
		ids,
		false,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ReleaseFromInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_activities
		 SET invoiced = ?, invoice_id = NULL, invoice_line_id = NULL, updated_at = ?
		 WHERE invoice_id = ?`,
		false,
		at,
		invoiceID,
	).Error
}

func first(stmt *gorm.DB) (*domain.BillingActivity, error) {
	var items []domain.BillingActivity
	if err := stmt.Limit(1).Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}
