package enums

import "fmt"

// InvoicePurpose identifies what a deposit invoice funds.
type InvoicePurpose string

const (
	InvoicePurposeOfferFunding          InvoicePurpose = "loan_offer_funding"
	InvoicePurposeApplicationCollateral InvoicePurpose = "loan_application_collateral"
)

var validInvoicePurposes = []InvoicePurpose{
	InvoicePurposeOfferFunding,
	InvoicePurposeApplicationCollateral,
}

// IsValid reports whether the purpose is recognized.
func (p InvoicePurpose) IsValid() bool {
	for _, candidate := range validInvoicePurposes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseInvoicePurpose converts raw input into InvoicePurpose.
func ParseInvoicePurpose(value string) (InvoicePurpose, error) {
	for _, candidate := range validInvoicePurposes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice purpose %q", value)
}
