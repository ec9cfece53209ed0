package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/logibill/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) InsertLines(ctx context.Context, db *gorm.DB, lines []domain.InvoiceLine) error {
	if len(lines) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&lines).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return first(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Invoice, error) {
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.CustomerID != nil {
		stmt = stmt.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var items []*domain.Invoice
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoiceLine, error) {
	var lines []domain.InvoiceLine
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("position asc, id asc").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// ListPayments reads the payment ledger directly; the payment package depends
// on invoices, not the other way around.
func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoicePayment, error) {
	var payments []domain.InvoicePayment
	err := db.WithContext(ctx).Raw(
		`SELECT id, amount, method, status, payment_date
		 FROM payments
		 WHERE invoice_id = ?
		 ORDER BY payment_date asc, id asc`,
		invoiceID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.InvoiceStatus, fields map[string]any) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListOverdueCandidates(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]domain.Invoice, error) {
	stmt := db.WithContext(ctx).
		Where("status IN ?", []domain.InvoiceStatus{domain.InvoiceStatusIssued, domain.InvoiceStatusSent}).
		Where("due_date IS NOT NULL AND due_date < ?", asOf).
		Order("due_date asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var items []domain.Invoice
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumBilledForPeriod(ctx context.Context, db *gorm.DB, period domain.PeriodKey) (decimal.Decimal, error) {
	var rows []struct {
		LineTotal decimal.Decimal
	}
	err := db.WithContext(ctx).Raw(
		`SELECT l.line_total
		 FROM invoice_lines l
		 JOIN invoices i ON i.id = l.invoice_id
		 WHERE i.customer_id = ? AND i.billing_cycle = ?
		   AND i.period_start = ? AND i.period_end = ?
		   AND i.status NOT IN ?`,
		period.CustomerID,
		period.BillingCycle,
		period.PeriodStart,
		period.PeriodEnd,
		[]domain.InvoiceStatus{domain.InvoiceStatusVoid, domain.InvoiceStatusCredited},
	).Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.LineTotal)
	}
	return sum, nil
}

func first(stmt *gorm.DB) (*domain.Invoice, error) {
	var items []domain.Invoice
	if err := stmt.Limit(1).Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}
