package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credeo/lendmarket-backend/pkg/enums"
)

// Loan is the originated contract linking one offer and one application.
// An offer may back many loans over its lifetime; a loan always references
// exactly one of each.
type Loan struct {
	ID                uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	LoanOfferID       uuid.UUID        `gorm:"column:loan_offer_id;type:uuid;not null;index:idx_loans_offer"`
	LoanApplicationID uuid.UUID        `gorm:"column:loan_application_id;type:uuid;not null;uniqueIndex:ux_loans_application_id"`
	LenderUserID      uuid.UUID        `gorm:"column:lender_user_id;type:uuid;not null"`
	BorrowerUserID    uuid.UUID        `gorm:"column:borrower_user_id;type:uuid;not null"`
	Status            enums.LoanStatus `gorm:"column:status;type:loan_status_enum;not null;default:'originated';index:idx_loans_status"`

	PrincipalCurrencyID  uuid.UUID       `gorm:"column:principal_currency_id;type:uuid;not null"`
	PrincipalAmount      decimal.Decimal `gorm:"column:principal_amount;type:numeric(36,0);not null"`
	InterestAmount       decimal.Decimal `gorm:"column:interest_amount;type:numeric(36,0);not null"`
	RepaymentAmount      decimal.Decimal `gorm:"column:repayment_amount;type:numeric(36,0);not null"`
	OriginationFeeAmount decimal.Decimal `gorm:"column:origination_fee_amount;type:numeric(36,0);not null;default:0"`
	CollateralCurrencyID uuid.UUID       `gorm:"column:collateral_currency_id;type:uuid;not null"`
	CollateralAmount     decimal.Decimal `gorm:"column:collateral_amount;type:numeric(36,0);not null"`

	McLtvRatio      decimal.Decimal  `gorm:"column:mc_ltv_ratio;type:numeric(12,8);not null"`
	CurrentLtvRatio *decimal.Decimal `gorm:"column:current_ltv_ratio;type:numeric(12,8)"`

	OriginationDate  time.Time  `gorm:"column:origination_date;not null"`
	DisbursementDate *time.Time `gorm:"column:disbursement_date"`
	MaturityDate     time.Time  `gorm:"column:maturity_date;not null"`

	AgreementRef            *string `gorm:"column:agreement_ref;size:256"`
	DisbursementTransferRef *string `gorm:"column:disbursement_transfer_ref;size:128"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
