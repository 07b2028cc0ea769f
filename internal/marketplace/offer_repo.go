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

// OfferRepository manages persistence for loan offers. Mutations that guard
// an invariant are conditional updates reporting whether a row qualified.
type OfferRepository interface {
	WithTx(tx *gorm.DB) OfferRepository
	FindByID(ctx context.Context, id uuid.UUID) (*models.LoanOffer, error)
	FindByFundingInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.LoanOffer, error)
	ListPublishedWithAvailable(ctx context.Context, asOf time.Time) ([]models.LoanOffer, error)
	ListExpiredPublished(ctx context.Context, asOf time.Time, limit int) ([]models.LoanOffer, error)
	Publish(ctx context.Context, id uuid.UUID, publishedAt time.Time) (bool, error)
	ReservePrincipal(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error)
	ReleaseReserved(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error)
	DisburseReserved(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error)
	Expire(ctx context.Context, id uuid.UUID) (bool, error)
}

type offerRepository struct {
	db *gorm.DB
}

// NewOfferRepository returns an offer repository bound to the provided database.
func NewOfferRepository(db *gorm.DB) OfferRepository {
	return &offerRepository{db: db}
}

func (r *offerRepository) WithTx(tx *gorm.DB) OfferRepository {
	if tx == nil {
		return r
	}
	return &offerRepository{db: tx}
}

func (r *offerRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.LoanOffer, error) {
	var offer models.LoanOffer
	if err := r.db.WithContext(ctx).First(&offer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *offerRepository) FindByFundingInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.LoanOffer, error) {
	var offer models.LoanOffer
	err := r.db.WithContext(ctx).First(&offer, "funding_invoice_id = ?", invoiceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// ListPublishedWithAvailable returns published, unexpired offers that still
// have principal left to lend, cheapest rate first then oldest published.
func (r *offerRepository) ListPublishedWithAvailable(ctx context.Context, asOf time.Time) ([]models.LoanOffer, error) {
	var offers []models.LoanOffer
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.LoanOfferStatusPublished).
		Where("offered_principal_amount - reserved_principal_amount - disbursed_principal_amount > 0").
		Where("expires_at IS NULL OR expires_at > ?", asOf).
		Order("interest_rate ASC").
		Order("published_at ASC").
		Find(&offers).Error
	if err != nil {
		return nil, err
	}
	return offers, nil
}

func (r *offerRepository) ListExpiredPublished(ctx context.Context, asOf time.Time, limit int) ([]models.LoanOffer, error) {
	var offers []models.LoanOffer
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.LoanOfferStatus{enums.LoanOfferStatusFunding, enums.LoanOfferStatusPublished}).
		Where("expires_at IS NOT NULL AND expires_at <= ?", asOf).
		Order("expires_at ASC").
		Limit(limit).
		Find(&offers).Error
	if err != nil {
		return nil, err
	}
	return offers, nil
}

// Publish transitions Funding -> Published once the funding invoice is paid.
func (r *offerRepository) Publish(ctx context.Context, id uuid.UUID, publishedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.LoanOffer{}).
		Where("id = ? AND status = ?", id, enums.LoanOfferStatusFunding).
		Updates(map[string]any{
			"status":       enums.LoanOfferStatusPublished,
			"published_at": publishedAt,
		})
	return res.RowsAffected > 0, res.Error
}

// ReservePrincipal moves capacity from available to reserved. The WHERE
// clause embeds the availability check so the read and the write are one
// statement; RowsAffected 0 means another worker got there first. The bound
// amount is CAST to NUMERIC because the left side is an expression, not a
// column: without the cast SQLite compares the text-bound parameter against
// a number and the guard never matches.
func (r *offerRepository) ReservePrincipal(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.LoanOffer{}).
		Where("id = ? AND status = ?", id, enums.LoanOfferStatusPublished).
		Where("offered_principal_amount - reserved_principal_amount - disbursed_principal_amount >= CAST(? AS NUMERIC)", amount).
		Update("reserved_principal_amount", gorm.Expr("reserved_principal_amount + ?", amount))
	return res.RowsAffected > 0, res.Error
}

// ReleaseReserved returns reserved capacity to the pool, e.g. when a matched
// application expires before origination.
func (r *offerRepository) ReleaseReserved(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.LoanOffer{}).
		Where("id = ?", id).
		Where("reserved_principal_amount >= ?", amount).
		Update("reserved_principal_amount", gorm.Expr("reserved_principal_amount - ?", amount))
	return res.RowsAffected > 0, res.Error
}

// DisburseReserved moves principal from reserved to disbursed at origination.
// Reserved can never go negative.
func (r *offerRepository) DisburseReserved(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.LoanOffer{}).
		Where("id = ?", id).
		Where("reserved_principal_amount >= ?", amount).
		Updates(map[string]any{
			"reserved_principal_amount":  gorm.Expr("reserved_principal_amount - ?", amount),
			"disbursed_principal_amount": gorm.Expr("disbursed_principal_amount + ?", amount),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *offerRepository) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.LoanOffer{}).
		Where("id = ? AND status IN ?", id, []enums.LoanOfferStatus{enums.LoanOfferStatusFunding, enums.LoanOfferStatusPublished}).
		Update("status", enums.LoanOfferStatusExpired)
	return res.RowsAffected > 0, res.Error
}
