package models

import (
	"time"

	"github.com/google/uuid"
)

// Currency is immutable reference data identifying an on-chain token.
type Currency struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	BlockchainKey string    `gorm:"column:blockchain_key;size:32;not null;uniqueIndex:ux_currencies_chain_token"`
	TokenID       string    `gorm:"column:token_id;size:64;not null;uniqueIndex:ux_currencies_chain_token"`
	Symbol        string    `gorm:"column:symbol;size:16;not null"`
	Name          string    `gorm:"column:name;size:64;not null"`
	Decimals      int       `gorm:"column:decimals;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}
