// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/logibill/internal/billingcycle/domain"
	"gorm.io/datatypes"
)

// Invoice groups the rated activities of one customer, cycle and period.
type Invoice struct {
	ID            snowflake.ID                    `gorm:"primaryKey" json:"id"`
	InvoiceNumber string                          `gorm:"type:text;not null;uniqueIndex" json:"invoice_number"`
	CustomerID    snowflake.ID                    `gorm:"not null;index" json:"customer_id"`
	BillingCycle  billingcycledomain.BillingCycle `gorm:"type:text;not null" json:"billing_cycle"`
	PeriodStart   time.Time                       `gorm:"not null" json:"period_start"`
	PeriodEnd     time.Time                       `gorm:"not null" json:"period_end"`
	Status        InvoiceStatus                   `gorm:"type:text;not null;default:'draft'" json:"status"`
	Subtotal      decimal.Decimal                 `gorm:"type:numeric(18,2);not null" json:"subtotal"`
	Tax           decimal.Decimal                 `gorm:"type:numeric(18,2);not null" json:"tax"`
	Total         decimal.Decimal                 `gorm:"type:numeric(18,2);not null" json:"total"`
	BalanceDue    decimal.Decimal                 `gorm:"type:numeric(18,2);not null" json:"balance_due"`
	DataSnapshot  datatypes.JSONType[*Snapshot]   `json:"data_snapshot,omitempty"`
	IssuedAt      *time.Time                      `json:"issued_at,omitempty"`
	DueDate       *time.Time                      `json:"due_date,omitempty"`
	SentAt        *time.Time                      `json:"sent_at,omitempty"`
	PaidAt        *time.Time                      `json:"paid_at,omitempty"`
	VoidedAt      *time.Time                      `json:"voided_at,omitempty"`
	CreditedAt    *time.Time                      `json:"credited_at,omitempty"`
	StatusReason  *string                         `gorm:"type:text" json:"status_reason,omitempty"`
	CreatedAt     time.Time                       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time                       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Snapshot returns the frozen snapshot, or nil while the invoice is a draft.
func (i Invoice) Snapshot() *Snapshot {
	return i.DataSnapshot.Data()
}

func (i Invoice) IsPastDue(at time.Time) bool {
	return i.DueDate != nil && at.After(*i.DueDate)
}

// InvoiceLine is one priced line. ActivityID is set when the line covers a
// single activity and nil for grouped and minimum charge lines.
type InvoiceLine struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID       snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	ActivityID      *snowflake.ID   `json:"activity_id,omitempty"`
	Description     string          `gorm:"type:text;not null" json:"description"`
	Category        string          `gorm:"type:text;not null" json:"category"`
	Unit            string          `gorm:"type:text" json:"unit,omitempty"`
	Quantity        decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"quantity"`
	UnitRate        decimal.Decimal `gorm:"type:numeric(18,6);not null" json:"unit_rate"`
	LineTotal       decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"line_total"`
	ActivityCount   int             `gorm:"not null;default:0" json:"activity_count"`
	IsMinimumCharge bool            `gorm:"not null;default:false" json:"is_minimum_charge"`
	Position        int             `gorm:"not null;default:0" json:"position"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// Snapshot is frozen at issue time so later rate card edits never change an
// issued invoice.
type Snapshot struct {
	FrozenAt   time.Time          `json:"frozen_at"`
	RateCards  []SnapshotRateCard `json:"rate_cards"`
	Lines      []InvoiceLine      `json:"lines"`
	Activities []SnapshotActivity `json:"activities"`
}

type SnapshotRateCard struct {
	ID            snowflake.ID        `json:"id"`
	Name          string              `json:"name"`
	Type          string              `json:"rate_card_type"`
	Version       int                 `json:"version"`
	ParentID      *snowflake.ID       `json:"parent_id,omitempty"`
	EffectiveFrom time.Time           `json:"effective_from"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
	RateDocument  datatypes.JSON      `json:"rate_document"`
	Minimum       decimal.NullDecimal `json:"minimum_period_charge"`
}

type SnapshotActivity struct {
	ID               snowflake.ID        `json:"id"`
	ActivityDate     time.Time           `json:"activity_date"`
	Type             string              `json:"type"`
	Category         string              `json:"category"`
	Description      string              `json:"description,omitempty"`
	Quantity         decimal.Decimal     `json:"quantity"`
	Unit             string              `json:"unit"`
	Zone             *string             `json:"zone,omitempty"`
	ReferenceID      *string             `json:"reference_id,omitempty"`
	RateCardID       *snowflake.ID       `json:"rate_card_id,omitempty"`
	RateApplied      decimal.NullDecimal `json:"rate_applied"`
	Amount           decimal.NullDecimal `json:"amount"`
	IsManualOverride bool                `json:"is_manual_override"`
	InvoiceLineID    *snowflake.ID       `json:"invoice_line_id,omitempty"`
}
