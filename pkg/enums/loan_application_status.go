package enums

import "fmt"

// LoanApplicationStatus maps to the loan_application_status_enum enum in Postgres.
type LoanApplicationStatus string

const (
	LoanApplicationStatusPendingCollateral LoanApplicationStatus = "pending_collateral"
	LoanApplicationStatusPublished         LoanApplicationStatus = "published"
	LoanApplicationStatusMatched           LoanApplicationStatus = "matched"
	LoanApplicationStatusClosed            LoanApplicationStatus = "closed"
	LoanApplicationStatusExpired           LoanApplicationStatus = "expired"
)

var validLoanApplicationStatuses = []LoanApplicationStatus{
	LoanApplicationStatusPendingCollateral,
	LoanApplicationStatusPublished,
	LoanApplicationStatusMatched,
	LoanApplicationStatusClosed,
	LoanApplicationStatusExpired,
}

// IsValid reports whether the value matches the canonical application status enum.
func (s LoanApplicationStatus) IsValid() bool {
	for _, candidate := range validLoanApplicationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLoanApplicationStatus converts raw input into LoanApplicationStatus.
func ParseLoanApplicationStatus(value string) (LoanApplicationStatus, error) {
	for _, candidate := range validLoanApplicationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loan application status %q", value)
}
