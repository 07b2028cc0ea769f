package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credeo/lendmarket-backend/pkg/enums"
)

// LoanLiquidation records the single liquidation attempt allowed per loan.
// The unique index on loan_id is the at-most-once guard: retrying execution
// means updating this row's order status, never inserting a second one.
type LoanLiquidation struct {
	ID                      uuid.UUID                    `gorm:"column:id;type:uuid;primaryKey"`
	LoanID                  uuid.UUID                    `gorm:"column:loan_id;type:uuid;not null;uniqueIndex:ux_loan_liquidations_loan_id"`
	LiquidationTargetAmount decimal.Decimal              `gorm:"column:liquidation_target_amount;type:numeric(36,0);not null"`
	MarketProvider          string                       `gorm:"column:market_provider;size:64;not null"`
	MarketSymbol            string                       `gorm:"column:market_symbol;size:32;not null"`
	OrderRef                string                       `gorm:"column:order_ref;size:128;not null"`
	OrderQuantity           decimal.Decimal              `gorm:"column:order_quantity;type:numeric(36,8);not null"`
	OrderPrice              decimal.Decimal              `gorm:"column:order_price;type:numeric(36,8);not null"`
	OrderStatus             enums.LiquidationOrderStatus `gorm:"column:order_status;type:liquidation_order_status_enum;not null;default:'pending'"`
	OrderDate               time.Time                    `gorm:"column:order_date;not null"`
	Initiator               string                       `gorm:"column:initiator;size:64;not null"`
	FilledAmount            *decimal.Decimal             `gorm:"column:filled_amount;type:numeric(36,0)"`
	ResolvedAt              *time.Time                   `gorm:"column:resolved_at"`
	CreatedAt               time.Time                    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time                    `gorm:"column:updated_at;autoUpdateTime"`
}
