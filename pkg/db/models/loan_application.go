package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credeo/lendmarket-backend/pkg/enums"
)

// LoanApplication is a borrower's collateralized funding request.
type LoanApplication struct {
	ID                   uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	BorrowerUserID       uuid.UUID                   `gorm:"column:borrower_user_id;type:uuid;not null;index:idx_loan_applications_borrower"`
	PrincipalCurrencyID  uuid.UUID                   `gorm:"column:principal_currency_id;type:uuid;not null"`
	PrincipalAmount      decimal.Decimal             `gorm:"column:principal_amount;type:numeric(36,0);not null"`
	MaxInterestRate      decimal.Decimal             `gorm:"column:max_interest_rate;type:numeric(12,8);not null"`
	MinLtvRatio          decimal.Decimal             `gorm:"column:min_ltv_ratio;type:numeric(12,8);not null"`
	MaxLtvRatio          decimal.Decimal             `gorm:"column:max_ltv_ratio;type:numeric(12,8);not null"`
	TermMonths           int                         `gorm:"column:term_months;not null"`
	LiquidationMode      enums.LiquidationMode       `gorm:"column:liquidation_mode;type:liquidation_mode_enum;not null"`
	CollateralCurrencyID uuid.UUID                   `gorm:"column:collateral_currency_id;type:uuid;not null"`
	CollateralAmount     decimal.Decimal             `gorm:"column:collateral_amount;type:numeric(36,0);not null"`
	CollateralInvoiceID  uuid.UUID                   `gorm:"column:collateral_invoice_id;type:uuid;not null"`
	Status               enums.LoanApplicationStatus `gorm:"column:status;type:loan_application_status_enum;not null;default:'pending_collateral';index:idx_loan_applications_status"`

	MatchedLoanOfferID               *uuid.UUID       `gorm:"column:matched_loan_offer_id;type:uuid"`
	MatchedLtvRatio                  *decimal.Decimal `gorm:"column:matched_ltv_ratio;type:numeric(12,8)"`
	MatchedCollateralValuationAmount *decimal.Decimal `gorm:"column:matched_collateral_valuation_amount;type:numeric(36,0)"`

	PublishedAt *time.Time `gorm:"column:published_at"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
