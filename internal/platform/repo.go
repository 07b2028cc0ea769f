package platform

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/pkg/db/models"
)

// Repository reads versioned platform lending parameters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EffectiveAsOf(ctx context.Context, asOf time.Time) (*models.PlatformConfig, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a platform config repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// EffectiveAsOf returns the newest config row whose effective_from is not
// after asOf, or (nil, nil) when none exists yet.
func (r *repository) EffectiveAsOf(ctx context.Context, asOf time.Time) (*models.PlatformConfig, error) {
	var cfg models.PlatformConfig
	err := r.db.WithContext(ctx).
		Where("effective_from <= ?", asOf).
		Order("effective_from DESC").
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
