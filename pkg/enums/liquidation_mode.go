package enums

import "fmt"

// LiquidationMode is the borrower-selected strategy applied on margin breach.
type LiquidationMode string

const (
	LiquidationModeSellAll     LiquidationMode = "sell_all"
	LiquidationModeSellPartial LiquidationMode = "sell_partial"
)

var validLiquidationModes = []LiquidationMode{
	LiquidationModeSellAll,
	LiquidationModeSellPartial,
}

// IsValid reports whether the mode is recognized.
func (m LiquidationMode) IsValid() bool {
	for _, candidate := range validLiquidationModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseLiquidationMode converts raw input into LiquidationMode.
func ParseLiquidationMode(value string) (LiquidationMode, error) {
	for _, candidate := range validLiquidationModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid liquidation mode %q", value)
}
