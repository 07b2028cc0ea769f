package enums

import "fmt"

// LoanOfferStatus maps to the loan_offer_status_enum enum in Postgres.
type LoanOfferStatus string

const (
	LoanOfferStatusFunding   LoanOfferStatus = "funding"
	LoanOfferStatusPublished LoanOfferStatus = "published"
	LoanOfferStatusClosed    LoanOfferStatus = "closed"
	LoanOfferStatusExpired   LoanOfferStatus = "expired"
)

var validLoanOfferStatuses = []LoanOfferStatus{
	LoanOfferStatusFunding,
	LoanOfferStatusPublished,
	LoanOfferStatusClosed,
	LoanOfferStatusExpired,
}

// IsValid reports whether the value matches the canonical offer status enum.
func (s LoanOfferStatus) IsValid() bool {
	for _, candidate := range validLoanOfferStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLoanOfferStatus converts raw input into LoanOfferStatus.
func ParseLoanOfferStatus(value string) (LoanOfferStatus, error) {
	for _, candidate := range validLoanOfferStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loan offer status %q", value)
}
