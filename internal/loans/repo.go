package loans

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
)

// ListFilter narrows loan listings for the read model.
type ListFilter struct {
	Status         *enums.LoanStatus
	LenderUserID   *uuid.UUID
	BorrowerUserID *uuid.UUID
	Limit          int
	Offset         int
}

// Repository manages persistence for loans.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, loan *models.Loan) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	List(ctx context.Context, filter ListFilter) ([]models.Loan, error)
	MarkActive(ctx context.Context, id uuid.UUID, disbursedAt time.Time, transferRef string) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from []enums.LoanStatus, to enums.LoanStatus) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a loan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Create(loan).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	if err := r.db.WithContext(ctx).First(&loan, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.Loan, error) {
	query := r.db.WithContext(ctx).Model(&models.Loan{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.LenderUserID != nil {
		query = query.Where("lender_user_id = ?", *filter.LenderUserID)
	}
	if filter.BorrowerUserID != nil {
		query = query.Where("borrower_user_id = ?", *filter.BorrowerUserID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var loans []models.Loan
	if err := query.Order("origination_date DESC").Find(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

// MarkActive transitions Originated -> Active and records the disbursement.
func (r *repository) MarkActive(ctx context.Context, id uuid.UUID, disbursedAt time.Time, transferRef string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Loan{}).
		Where("id = ? AND status = ?", id, enums.LoanStatusOriginated).
		Updates(map[string]any{
			"status":                    enums.LoanStatusActive,
			"disbursement_date":         disbursedAt,
			"disbursement_transfer_ref": transferRef,
		})
	return res.RowsAffected > 0, res.Error
}

// Transition moves the loan to a new status only from the allowed set.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from []enums.LoanStatus, to enums.LoanStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Loan{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}
