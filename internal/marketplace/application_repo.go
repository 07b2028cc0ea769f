package marketplace

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
)

// ApplicationRepository manages persistence for loan applications.
type ApplicationRepository interface {
	WithTx(tx *gorm.DB) ApplicationRepository
	FindByID(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error)
	FindByCollateralInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.LoanApplication, error)
	ListPublishedUnmatched(ctx context.Context, asOf time.Time, limit int) ([]models.LoanApplication, error)
	ListExpiredOpen(ctx context.Context, asOf time.Time, limit int) ([]models.LoanApplication, error)
	Publish(ctx context.Context, id uuid.UUID, publishedAt time.Time) (bool, error)
	MarkMatched(ctx context.Context, id, offerID uuid.UUID, ltvRatio, collateralValuation decimal.Decimal) (bool, error)
	Close(ctx context.Context, id uuid.UUID) (bool, error)
	Expire(ctx context.Context, id uuid.UUID) (bool, error)
}

type applicationRepository struct {
	db *gorm.DB
}

// NewApplicationRepository returns an application repository bound to the provided database.
func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &applicationRepository{db: db}
}

func (r *applicationRepository) WithTx(tx *gorm.DB) ApplicationRepository {
	if tx == nil {
		return r
	}
	return &applicationRepository{db: tx}
}

func (r *applicationRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error) {
	var app models.LoanApplication
	if err := r.db.WithContext(ctx).First(&app, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *applicationRepository) FindByCollateralInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.LoanApplication, error) {
	var app models.LoanApplication
	err := r.db.WithContext(ctx).First(&app, "collateral_invoice_id = ?", invoiceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// ListPublishedUnmatched returns published, unexpired applications awaiting a
// match, oldest published first so waiting borrowers are served in order.
func (r *applicationRepository) ListPublishedUnmatched(ctx context.Context, asOf time.Time, limit int) ([]models.LoanApplication, error) {
	var apps []models.LoanApplication
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.LoanApplicationStatusPublished).
		Where("matched_loan_offer_id IS NULL").
		Where("expires_at IS NULL OR expires_at > ?", asOf).
		Order("published_at ASC").
		Limit(limit).
		Find(&apps).Error
	if err != nil {
		return nil, err
	}
	return apps, nil
}

func (r *applicationRepository) ListExpiredOpen(ctx context.Context, asOf time.Time, limit int) ([]models.LoanApplication, error) {
	var apps []models.LoanApplication
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.LoanApplicationStatus{enums.LoanApplicationStatusPendingCollateral, enums.LoanApplicationStatusPublished}).
		Where("expires_at IS NOT NULL AND expires_at <= ?", asOf).
		Order("expires_at ASC").
		Limit(limit).
		Find(&apps).Error
	if err != nil {
		return nil, err
	}
	return apps, nil
}

// Publish transitions PendingCollateral -> Published once collateral is paid in.
func (r *applicationRepository) Publish(ctx context.Context, id uuid.UUID, publishedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.LoanApplication{}).
		Where("id = ? AND status = ?", id, enums.LoanApplicationStatusPendingCollateral).
		Updates(map[string]any{
			"status":       enums.LoanApplicationStatusPublished,
			"published_at": publishedAt,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkMatched transitions Published -> Matched and stores the match facts.
// RowsAffected 0 means the application was already taken or expired.
func (r *applicationRepository) MarkMatched(ctx context.Context, id, offerID uuid.UUID, ltvRatio, collateralValuation decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.LoanApplication{}).
		Where("id = ? AND status = ?", id, enums.LoanApplicationStatusPublished).
		Updates(map[string]any{
			"status":                              enums.LoanApplicationStatusMatched,
			"matched_loan_offer_id":               offerID,
			"matched_ltv_ratio":                   ltvRatio,
			"matched_collateral_valuation_amount": collateralValuation,
		})
	return res.RowsAffected > 0, res.Error
}

// Close transitions Matched -> Closed when the loan is originated.
func (r *applicationRepository) Close(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.LoanApplication{}).
		Where("id = ? AND status = ?", id, enums.LoanApplicationStatusMatched).
		Update("status", enums.LoanApplicationStatusClosed)
	return res.RowsAffected > 0, res.Error
}

func (r *applicationRepository) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.LoanApplication{}).
		Where("id = ? AND status IN ?", id, []enums.LoanApplicationStatus{enums.LoanApplicationStatusPendingCollateral, enums.LoanApplicationStatusPublished}).
		Update("status", enums.LoanApplicationStatusExpired)
	return res.RowsAffected > 0, res.Error
}
