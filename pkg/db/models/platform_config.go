package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlatformConfig holds platform-wide lending parameters. Rows are versioned
// by effective_from; the core reads the row effective as of a date and never
// writes this table.
type PlatformConfig struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	MaxLtvRatio   decimal.Decimal `gorm:"column:max_ltv_ratio;type:numeric(12,8);not null"`
	McLtvRatio    decimal.Decimal `gorm:"column:mc_ltv_ratio;type:numeric(12,8);not null"`
	EffectiveFrom time.Time       `gorm:"column:effective_from;not null;index:idx_platform_configs_effective"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}
