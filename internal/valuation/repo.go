package valuation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
)

// openLoanStatuses are the statuses the LTV monitor watches.
var openLoanStatuses = []enums.LoanStatus{enums.LoanStatusOriginated, enums.LoanStatusActive}

// Repository manages valuation rows and the mirrored loan LTV column.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, valuation *models.LoanValuation) error
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]models.LoanValuation, error)
	HasNewerValuation(ctx context.Context, loanID uuid.UUID, asOf time.Time) (bool, error)
	MirrorLoanLtv(ctx context.Context, loanID uuid.UUID, ratio decimal.Decimal) (bool, error)
	CountOpenLoans(ctx context.Context) (int64, error)
	ListBreachedOpenLoans(ctx context.Context, threshold decimal.Decimal) ([]models.Loan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a valuation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Upsert inserts or refreshes the (loan, exchange rate) valuation row.
func (r *repository) Upsert(ctx context.Context, valuation *models.LoanValuation) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "loan_id"}, {Name: "exchange_rate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"collateral_valuation_amount",
			"ltv_ratio",
			"valuation_date",
			"updated_at",
		}),
	}).Create(valuation).Error
}

func (r *repository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]models.LoanValuation, error) {
	var rows []models.LoanValuation
	if err := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("valuation_date DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// HasNewerValuation reports whether the loan already carries a valuation
// dated after asOf.
func (r *repository) HasNewerValuation(ctx context.Context, loanID uuid.UUID, asOf time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LoanValuation{}).
		Where("loan_id = ? AND valuation_date > ?", loanID, asOf).
		Count(&count).Error
	return count > 0, err
}

// MirrorLoanLtv copies the latest ratio onto the loan row.
func (r *repository) MirrorLoanLtv(ctx context.Context, loanID uuid.UUID, ratio decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Loan{}).
		Where("id = ?", loanID).
		Update("current_ltv_ratio", ratio)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) CountOpenLoans(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Loan{}).
		Where("status IN ?", openLoanStatuses).
		Count(&count).Error
	return count, err
}

// ListBreachedOpenLoans returns open loans above the threshold, worst first.
func (r *repository) ListBreachedOpenLoans(ctx context.Context, threshold decimal.Decimal) ([]models.Loan, error) {
	var loans []models.Loan
	err := r.db.WithContext(ctx).
		Where("status IN ?", openLoanStatuses).
		Where("current_ltv_ratio IS NOT NULL AND current_ltv_ratio > ?", threshold).
		Order("current_ltv_ratio DESC").
		Find(&loans).Error
	if err != nil {
		return nil, err
	}
	return loans, nil
}
