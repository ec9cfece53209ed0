package migration

import (
	auditdomain "github.com/smallbiznis/logibill/internal/audit/domain"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/logibill/internal/payment/domain"
	ratecarddomain "github.com/smallbiznis/logibill/internal/ratecard/domain"
	"gorm.io/gorm"
)

// PartialIndexes mirror the partial unique indexes of the sql migrations.
// gorm tags cannot express them.
var PartialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_rate_cards_active_standard
	 ON rate_cards (customer_id)
	 WHERE is_active = TRUE AND rate_card_type = 'standard'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_invoices_draft_period
	 ON invoices (customer_id, billing_cycle, period_start, period_end)
	 WHERE status = 'draft'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_billing_activities_natural_key
	 ON billing_activities (customer_id, reference_id, activity_date, type)
	 WHERE reference_id IS NOT NULL`,
}

// AutoMigrate builds the schema from the gorm models. Used for sqlite and
// tests.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&ratecarddomain.RateCard{},
		&ratecarddomain.Contract{},
		&ratecarddomain.RateCardContract{},
		&billingactivitydomain.BillingActivity{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&paymentdomain.Payment{},
		&auditdomain.AuditLog{},
	); err != nil {
		return err
	}
	for _, stmt := range PartialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
