package liquidation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
)

// Repository manages persistence for liquidation records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.LoanLiquidation) error
	FindByLoan(ctx context.Context, loanID uuid.UUID) (*models.LoanLiquidation, error)
	Resolve(ctx context.Context, loanID uuid.UUID, status enums.LiquidationOrderStatus, filledAmount *decimal.Decimal, resolvedAt time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a liquidation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.LoanLiquidation) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByLoan(ctx context.Context, loanID uuid.UUID) (*models.LoanLiquidation, error) {
	var record models.LoanLiquidation
	if err := r.db.WithContext(ctx).First(&record, "loan_id = ?", loanID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// Resolve moves the order out of Pending exactly once.
func (r *repository) Resolve(ctx context.Context, loanID uuid.UUID, status enums.LiquidationOrderStatus, filledAmount *decimal.Decimal, resolvedAt time.Time) (bool, error) {
	updates := map[string]any{
		"order_status": status,
		"resolved_at":  resolvedAt,
	}
	if filledAmount != nil {
		updates["filled_amount"] = *filledAmount
	}
	res := r.db.WithContext(ctx).Model(&models.LoanLiquidation{}).
		Where("loan_id = ? AND order_status = ?", loanID, enums.LiquidationOrderStatusPending).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}
