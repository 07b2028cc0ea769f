package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credeo/lendmarket-backend/pkg/enums"
)

// Invoice identifies a deposit address awaiting funds for a specific purpose.
// Amounts are integers in the currency's smallest unit.
type Invoice struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Purpose        enums.InvoicePurpose `gorm:"column:purpose;type:invoice_purpose_enum;not null"`
	CurrencyID     uuid.UUID            `gorm:"column:currency_id;type:uuid;not null"`
	WalletAddress  string               `gorm:"column:wallet_address;size:128;not null;uniqueIndex:ux_invoices_wallet_address"`
	Status         enums.InvoiceStatus  `gorm:"column:status;type:invoice_status_enum;not null;default:'pending'"`
	InvoicedAmount decimal.Decimal      `gorm:"column:invoiced_amount;type:numeric(36,0);not null"`
	PaidAmount     decimal.Decimal      `gorm:"column:paid_amount;type:numeric(36,0);not null;default:0"`
	DueAt          *time.Time           `gorm:"column:due_at"`
	PaidAt         *time.Time           `gorm:"column:paid_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// InvoicePayment is one detected on-chain payment toward an invoice. The
// (invoice_id, transaction_hash) pair is unique: redelivered detections from
// upstream chain watchers collapse into the original row.
type InvoicePayment struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceID       uuid.UUID       `gorm:"column:invoice_id;type:uuid;not null;uniqueIndex:ux_invoice_payments_invoice_tx"`
	TransactionHash string          `gorm:"column:transaction_hash;size:128;not null;uniqueIndex:ux_invoice_payments_invoice_tx"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(36,0);not null"`
	PaidAt          time.Time       `gorm:"column:paid_at;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
}
