package enums

import "fmt"

// LiquidationOrderStatus maps to the liquidation_order_status_enum enum in Postgres.
type LiquidationOrderStatus string

const (
	LiquidationOrderStatusPending LiquidationOrderStatus = "pending"
	LiquidationOrderStatusFilled  LiquidationOrderStatus = "filled"
	LiquidationOrderStatusFailed  LiquidationOrderStatus = "failed"
)

var validLiquidationOrderStatuses = []LiquidationOrderStatus{
	LiquidationOrderStatusPending,
	LiquidationOrderStatusFilled,
	LiquidationOrderStatusFailed,
}

// IsValid reports whether the value matches the canonical order status enum.
func (s LiquidationOrderStatus) IsValid() bool {
	for _, candidate := range validLiquidationOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLiquidationOrderStatus converts raw input into LiquidationOrderStatus.
func ParseLiquidationOrderStatus(value string) (LiquidationOrderStatus, error) {
	for _, candidate := range validLiquidationOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid liquidation order status %q", value)
}
