package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/logibill/internal/billingcycle/domain"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
	"gorm.io/datatypes"
)

type RateCardType string

const (
	RateCardTypeStandard   RateCardType = "standard"
	RateCardTypeAdjustment RateCardType = "adjustment"
)

// CycleOverrides maps a service category to the billing cycle its activities use.
type CycleOverrides map[string]billingcycledomain.BillingCycle

// RateCard is one version of a customer's pricing agreement. Standard cards
// form lineages through SupersedesID; adjustments hang off a standard card
// through ParentID and carry only the services they override.
type RateCard struct {
	ID                    snowflake.ID                          `gorm:"primaryKey" json:"id"`
	CustomerID            snowflake.ID                          `gorm:"not null;index" json:"customer_id"`
	Name                  string                                `gorm:"type:text;not null" json:"name"`
	RateCardType          RateCardType                          `gorm:"type:text;not null" json:"rate_card_type"`
	Version               int                                   `gorm:"not null" json:"version"`
	SupersedesID          *snowflake.ID                         `gorm:"index" json:"supersedes_id,omitempty"`
	ParentID              *snowflake.ID                         `gorm:"index" json:"parent_id,omitempty"`
	EffectiveFrom         time.Time                             `gorm:"not null" json:"effective_from"`
	ExpiresAt             *time.Time                            `json:"expires_at,omitempty"`
	RateDocument          datatypes.JSONType[document.Document] `gorm:"not null" json:"rate_document"`
	BillingCycleOverrides datatypes.JSONType[CycleOverrides]    `json:"billing_cycle_overrides"`
	MinimumPeriodCharge   decimal.NullDecimal                   `gorm:"type:numeric(18,2)" json:"minimum_period_charge"`
	IsActive              bool                                  `gorm:"not null;default:false" json:"is_active"`
	ArchivedAt            *time.Time                            `json:"archived_at,omitempty"`
	ArchiveReason         *string                               `gorm:"type:text" json:"archive_reason,omitempty"`
	CreatedAt             time.Time                             `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time                             `gorm:"not null" json:"updated_at"`
}

func (RateCard) TableName() string { return "rate_cards" }

func (c RateCard) IsStandard() bool { return c.RateCardType == RateCardTypeStandard }

func (c RateCard) IsArchived() bool { return c.ArchivedAt != nil }

// Covers reports whether at falls inside [EffectiveFrom, ExpiresAt).
func (c RateCard) Covers(at time.Time) bool {
	if at.Before(c.EffectiveFrom) {
		return false
	}
	return c.ExpiresAt == nil || at.Before(*c.ExpiresAt)
}

// Document returns the decoded rate document.
func (c RateCard) Document() document.Document {
	return c.RateDocument.Data()
}

// CycleFor returns the billing cycle override for a category, if any.
func (c RateCard) CycleFor(category string) (billingcycledomain.BillingCycle, bool) {
	overrides := c.BillingCycleOverrides.Data()
	cycle, ok := overrides[category]
	return cycle, ok && cycle.Valid()
}

type ContractRole string

const (
	ContractRolePrimary   ContractRole = "primary"
	ContractRoleAddendum  ContractRole = "addendum"
	ContractRoleAmendment ContractRole = "amendment"
)

func (r ContractRole) Valid() bool {
	switch r {
	case ContractRolePrimary, ContractRoleAddendum, ContractRoleAmendment:
		return true
	default:
		return false
	}
}

// Contract is the legal agreement a rate card is based on.
type Contract struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID snowflake.ID `gorm:"not null;uniqueIndex:ux_contracts_customer_code,priority:1" json:"customer_id"`
	Code       string       `gorm:"type:text;not null;uniqueIndex:ux_contracts_customer_code,priority:2" json:"code"`
	Reference  string       `gorm:"type:text;not null" json:"reference"`
	Title      string       `gorm:"type:text" json:"title,omitempty"`
	SignedAt   *time.Time   `json:"signed_at,omitempty"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

func (Contract) TableName() string { return "contracts" }

// RateCardContract links a rate card to a contract with a role.
type RateCardContract struct {
	RateCardID snowflake.ID `gorm:"primaryKey" json:"rate_card_id"`
	ContractID snowflake.ID `gorm:"primaryKey" json:"contract_id"`
	Role       ContractRole `gorm:"type:text;not null" json:"role"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

func (RateCardContract) TableName() string { return "rate_card_contracts" }

// LinkedContract is a contract together with its role on a given card.
type LinkedContract struct {
	Contract
	Role ContractRole `json:"role"`
}
