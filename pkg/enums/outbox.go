package enums

import "fmt"

// OutboxEventType maps to the event_type_enum enum in Postgres.
type OutboxEventType string

const (
	EventOfferPublished       OutboxEventType = "offer.published"
	EventOfferExpired         OutboxEventType = "offer.expired"
	EventApplicationPublished OutboxEventType = "application.published"
	EventApplicationMatched   OutboxEventType = "application.matched"
	EventApplicationExpired   OutboxEventType = "application.expired"
	EventLoanOriginated       OutboxEventType = "loan.originated"
	EventLoanDisbursed        OutboxEventType = "loan.disbursed"
	EventLoanLtvBreached      OutboxEventType = "loan.ltv_breached"
	EventLoanLiquidating      OutboxEventType = "loan.liquidating"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOfferPublished,
	EventOfferExpired,
	EventApplicationPublished,
	EventApplicationMatched,
	EventApplicationExpired,
	EventLoanOriginated,
	EventLoanDisbursed,
	EventLoanLtvBreached,
	EventLoanLiquidating,
}

// IsValid reports whether the value matches the canonical event type enum.
func (t OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxAggregateType maps to the aggregate_type_enum enum in Postgres.
type OutboxAggregateType string

const (
	AggregateLoanOffer       OutboxAggregateType = "loan_offer"
	AggregateLoanApplication OutboxAggregateType = "loan_application"
	AggregateLoan            OutboxAggregateType = "loan"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	AggregateLoanOffer,
	AggregateLoanApplication,
	AggregateLoan,
}

// IsValid reports whether the value matches the canonical aggregate type enum.
func (t OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == t {
			return true
		}
	}
	return false
}
