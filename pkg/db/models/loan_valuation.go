package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanValuation is the audit trail behind a loan's current LTV: one row per
// (loan, exchange rate) pair, upserted as fresher rates arrive.
type LoanValuation struct {
	ID                        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	LoanID                    uuid.UUID       `gorm:"column:loan_id;type:uuid;not null;uniqueIndex:ux_loan_valuations_loan_rate"`
	ExchangeRateID            uuid.UUID       `gorm:"column:exchange_rate_id;type:uuid;not null;uniqueIndex:ux_loan_valuations_loan_rate"`
	CollateralValuationAmount decimal.Decimal `gorm:"column:collateral_valuation_amount;type:numeric(36,0);not null"`
	LtvRatio                  decimal.Decimal `gorm:"column:ltv_ratio;type:numeric(12,8);not null"`
	ValuationDate             time.Time       `gorm:"column:valuation_date;not null;index:idx_loan_valuations_date"`
	CreatedAt                 time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                 time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
