package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/logibill/internal/billingcycle/domain"
	"gorm.io/datatypes"
)

type RatingStatus string

const (
	RatingStatusPending RatingStatus = "pending"
	RatingStatusRated   RatingStatus = "rated"
	RatingStatusError   RatingStatus = "error"
)

// BillingActivity is one billable event. It is written once at ingestion,
// once by rating and once by invoicing, and never deleted.
type BillingActivity struct {
	ID                 snowflake.ID                    `gorm:"primaryKey" json:"id"`
	CustomerID         snowflake.ID                    `gorm:"not null;index" json:"customer_id"`
	ActivityDate       time.Time                       `gorm:"not null" json:"activity_date"`
	Type               string                          `gorm:"type:text;not null" json:"type"`
	Category           string                          `gorm:"type:text;not null" json:"category"`
	Description        string                          `gorm:"type:text" json:"description,omitempty"`
	Quantity           decimal.Decimal                 `gorm:"type:numeric(18,4);not null" json:"quantity"`
	Unit               string                          `gorm:"type:text;not null" json:"unit"`
	Zone               *string                         `gorm:"type:text" json:"zone,omitempty"`
	ReferenceID        *string                         `gorm:"type:text" json:"reference_id,omitempty"`
	BillingCycle       billingcycledomain.BillingCycle `gorm:"type:text;not null" json:"billing_cycle"`
	BillingPeriodStart time.Time                       `gorm:"not null;index" json:"billing_period_start"`
	RatingStatus       RatingStatus                    `gorm:"type:text;not null;index" json:"rating_status"`
	RatingError        *string                         `gorm:"type:text" json:"rating_error,omitempty"`
	RateCardID         *snowflake.ID                   `gorm:"index" json:"rate_card_id,omitempty"`
	RateApplied        decimal.NullDecimal             `gorm:"type:numeric(18,6)" json:"rate_applied"`
	Amount             decimal.NullDecimal             `gorm:"type:numeric(18,2)" json:"amount"`
	IsManualOverride   bool                            `gorm:"not null;default:false" json:"is_manual_override"`
	RatedAt            *time.Time                      `json:"rated_at,omitempty"`
	Invoiced           bool                            `gorm:"not null;default:false" json:"invoiced"`
	InvoiceID          *snowflake.ID                   `gorm:"index" json:"invoice_id,omitempty"`
	InvoiceLineID      *snowflake.ID                   `json:"invoice_line_id,omitempty"`
	Metadata           datatypes.JSONMap               `json:"metadata,omitempty"`
	CreatedAt          time.Time                       `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time                       `gorm:"not null" json:"updated_at"`
}

func (BillingActivity) TableName() string { return "billing_activities" }

func (a BillingActivity) IsRated() bool {
	return a.RatingStatus == RatingStatusRated && a.Amount.Valid
}

func (a BillingActivity) ZoneValue() string {
	if a.Zone == nil {
		return ""
	}
	return *a.Zone
}

type IngestOutcome string

const (
	IngestOutcomeCreated   IngestOutcome = "created"
	IngestOutcomeDuplicate IngestOutcome = "duplicate"
)
