package enums

import "fmt"

// LoanStatus maps to the loan_status_enum enum in Postgres.
type LoanStatus string

const (
	LoanStatusOriginated LoanStatus = "originated"
	LoanStatusActive     LoanStatus = "active"
	LoanStatusRepaid     LoanStatus = "repaid"
	LoanStatusLiquidated LoanStatus = "liquidated"
	LoanStatusDefaulted  LoanStatus = "defaulted"
)

var validLoanStatuses = []LoanStatus{
	LoanStatusOriginated,
	LoanStatusActive,
	LoanStatusRepaid,
	LoanStatusLiquidated,
	LoanStatusDefaulted,
}

// IsValid reports whether the value matches the canonical loan status enum.
func (s LoanStatus) IsValid() bool {
	for _, candidate := range validLoanStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsOpen reports whether the loan still has outstanding principal, which is
// the precondition for valuation monitoring and liquidation.
func (s LoanStatus) IsOpen() bool {
	return s == LoanStatusOriginated || s == LoanStatusActive
}

// ParseLoanStatus converts raw input into LoanStatus.
func ParseLoanStatus(value string) (LoanStatus, error) {
	for _, candidate := range validLoanStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loan status %q", value)
}
