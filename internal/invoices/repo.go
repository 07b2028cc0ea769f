package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
)

// Repository manages persistence for invoices and their detected payments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindByWalletAddress(ctx context.Context, address string) (*models.Invoice, error)
	CreatePayment(ctx context.Context, payment *models.InvoicePayment) error
	ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]models.InvoicePayment, error)
	ApplyPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	SetStatus(ctx context.Context, id uuid.UUID, status enums.InvoiceStatus, paidAt *time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).First(&invoice, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindByWalletAddress(ctx context.Context, address string) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).First(&invoice, "wallet_address = ?", address).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.InvoicePayment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]models.InvoicePayment, error) {
	var payments []models.InvoicePayment
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("paid_at ASC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// ApplyPayment accumulates a detected amount onto the invoice.
func (r *repository) ApplyPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("paid_amount", gorm.Expr("paid_amount + ?", amount)).Error
}

func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, status enums.InvoiceStatus, paidAt *time.Time) error {
	updates := map[string]any{"status": status}
	if paidAt != nil {
		updates["paid_at"] = paidAt
	}
	return r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", id).
		Updates(updates).Error
}
