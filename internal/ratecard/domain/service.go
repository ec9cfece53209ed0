package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
)

type Service interface {
	CreateStandard(ctx context.Context, req CreateStandardRequest) (*RateCard, error)
	CreateAdjustment(ctx context.Context, req CreateAdjustmentRequest) (*RateCard, error)
	Get(ctx context.Context, id string) (*RateCard, error)
	List(ctx context.Context, req ListRequest) ([]RateCard, error)
	Current(ctx context.Context, customerID string) (*RateCard, error)
	CurrentInLineage(ctx context.Context, id string) (*RateCard, error)
	ResolveLineage(ctx context.Context, id string) ([]RateCard, error)
	Archive(ctx context.Context, id string, reason string) (*RateCard, error)

	CreateContract(ctx context.Context, req CreateContractRequest) (*Contract, error)
	LinkContract(ctx context.Context, req LinkContractRequest) error
	ListContracts(ctx context.Context, cardID string) ([]LinkedContract, error)
}

type CreateStandardRequest struct {
	CustomerID            string              `json:"customer_id"`
	Name                  string              `json:"name"`
	RateDocument          document.Document   `json:"rate_document"`
	EffectiveFrom         time.Time           `json:"effective_from"`
	MinimumPeriodCharge   decimal.NullDecimal `json:"minimum_period_charge"`
	BillingCycleOverrides CycleOverrides      `json:"billing_cycle_overrides"`
}

type CreateAdjustmentRequest struct {
	CustomerID    string            `json:"customer_id"`
	ParentID      string            `json:"parent_id"`
	Name          string            `json:"name"`
	RateDocument  document.Document `json:"rate_document"`
	EffectiveFrom time.Time         `json:"effective_from"`
	ExpiresAt     *time.Time        `json:"expires_at"`
}

type ListRequest struct {
	CustomerID      string
	RateCardType    string
	IncludeArchived bool
}

type CreateContractRequest struct {
	CustomerID string     `json:"customer_id"`
	Reference  string     `json:"reference"`
	Title      string     `json:"title"`
	SignedAt   *time.Time `json:"signed_at"`
}

type LinkContractRequest struct {
	RateCardID string       `json:"rate_card_id"`
	ContractID string       `json:"contract_id"`
	Role       ContractRole `json:"role"`
}

// MaxLineageHops bounds back-pointer walks so corrupted chains cannot loop.
const MaxLineageHops = 1000

var (
	ErrInvalidID             = errors.New("invalid_id")
	ErrInvalidCustomer       = errors.New("invalid_customer")
	ErrInvalidEffectiveFrom  = errors.New("invalid_effective_from")
	ErrInvalidWindow         = errors.New("invalid_effective_window")
	ErrInvalidMinimum        = errors.New("invalid_minimum_period_charge")
	ErrInvalidCycleOverride  = errors.New("invalid_billing_cycle_override")
	ErrInvalidType           = errors.New("invalid_rate_card_type")
	ErrNotFound              = errors.New("rate_card_not_found")
	ErrNoActiveCard          = errors.New("no_active_rate_card")
	ErrConflict              = errors.New("rate_card_conflict")
	ErrDuplicateActiveCard   = errors.New("duplicate_active_card")
	ErrInvalidParent         = errors.New("invalid_parent")
	ErrLineageCycle          = errors.New("lineage_cycle")
	ErrOutstandingActivities = errors.New("outstanding_activities")
	ErrInvalidReference      = errors.New("invalid_contract_reference")
	ErrContractNotFound      = errors.New("contract_not_found")
	ErrDuplicateContract     = errors.New("duplicate_contract")
	ErrInvalidContractRole   = errors.New("invalid_contract_role")
	ErrContractCustomer      = errors.New("contract_customer_mismatch")
)
