package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/credeo/lendmarket-backend/pkg/db/types"
	"github.com/credeo/lendmarket-backend/pkg/enums"
)

// LoanOffer is a lender's funding intent. Principal accounting invariant:
// reserved + disbursed <= offered at all times; the available amount is
// always derived, never stored.
type LoanOffer struct {
	ID                       uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	LenderUserID             uuid.UUID             `gorm:"column:lender_user_id;type:uuid;not null;index:idx_loan_offers_lender"`
	PrincipalCurrencyID      uuid.UUID             `gorm:"column:principal_currency_id;type:uuid;not null"`
	Status                   enums.LoanOfferStatus `gorm:"column:status;type:loan_offer_status_enum;not null;default:'funding';index:idx_loan_offers_status"`
	OfferedPrincipalAmount   decimal.Decimal       `gorm:"column:offered_principal_amount;type:numeric(36,0);not null"`
	ReservedPrincipalAmount  decimal.Decimal       `gorm:"column:reserved_principal_amount;type:numeric(36,0);not null;default:0"`
	DisbursedPrincipalAmount decimal.Decimal       `gorm:"column:disbursed_principal_amount;type:numeric(36,0);not null;default:0"`
	InterestRate             decimal.Decimal       `gorm:"column:interest_rate;type:numeric(12,8);not null"`
	TermMonthsOptions        dbtypes.IntArray      `gorm:"column:term_months_options;type:integer[];not null"`
	MinLoanAmount            decimal.Decimal       `gorm:"column:min_loan_amount;type:numeric(36,0);not null"`
	MaxLoanAmount            decimal.Decimal       `gorm:"column:max_loan_amount;type:numeric(36,0);not null"`
	FundingInvoiceID         uuid.UUID             `gorm:"column:funding_invoice_id;type:uuid;not null"`
	PublishedAt              *time.Time            `gorm:"column:published_at"`
	ExpiresAt                *time.Time            `gorm:"column:expires_at"`
	CreatedAt                time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// AvailablePrincipalAmount is offered minus reserved minus disbursed. This is
// the single canonical computation; SQL conditional updates embed the same
// expression so the check and the write happen in one statement.
func (o LoanOffer) AvailablePrincipalAmount() decimal.Decimal {
	return o.OfferedPrincipalAmount.
		Sub(o.ReservedPrincipalAmount).
		Sub(o.DisbursedPrincipalAmount)
}
