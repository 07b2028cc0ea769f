package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OfferPublishedEvent signals a funded offer entering the marketplace.
type OfferPublishedEvent struct {
	OfferID             uuid.UUID       `json:"offer_id"`
	LenderUserID        uuid.UUID       `json:"lender_user_id"`
	PrincipalCurrencyID uuid.UUID       `json:"principal_currency_id"`
	OfferedAmount       decimal.Decimal `json:"offered_amount"`
	InterestRate        decimal.Decimal `json:"interest_rate"`
	PublishedAt         time.Time       `json:"published_at"`
}

// ApplicationPublishedEvent signals a collateralized application entering the marketplace.
type ApplicationPublishedEvent struct {
	ApplicationID       uuid.UUID       `json:"application_id"`
	BorrowerUserID      uuid.UUID       `json:"borrower_user_id"`
	PrincipalCurrencyID uuid.UUID       `json:"principal_currency_id"`
	PrincipalAmount     decimal.Decimal `json:"principal_amount"`
	PublishedAt         time.Time       `json:"published_at"`
}

// ApplicationMatchedEvent is emitted once per successful match transaction.
type ApplicationMatchedEvent struct {
	ApplicationID       uuid.UUID       `json:"application_id"`
	OfferID             uuid.UUID       `json:"offer_id"`
	PrincipalAmount     decimal.Decimal `json:"principal_amount"`
	LtvRatio            decimal.Decimal `json:"ltv_ratio"`
	CollateralValuation decimal.Decimal `json:"collateral_valuation"`
}

// MarketplaceExpiredEvent reports an offer or application aged out of the marketplace.
type MarketplaceExpiredEvent struct {
	AggregateID uuid.UUID `json:"aggregate_id"`
	ExpiredAt   time.Time `json:"expired_at"`
}

// LoanOriginatedEvent signals contract creation from a matched pair.
type LoanOriginatedEvent struct {
	LoanID          uuid.UUID       `json:"loan_id"`
	OfferID         uuid.UUID       `json:"offer_id"`
	ApplicationID   uuid.UUID       `json:"application_id"`
	LenderUserID    uuid.UUID       `json:"lender_user_id"`
	BorrowerUserID  uuid.UUID       `json:"borrower_user_id"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	MaturityDate    time.Time       `json:"maturity_date"`
}

// LoanDisbursedEvent confirms funds left the platform for the borrower.
type LoanDisbursedEvent struct {
	LoanID      uuid.UUID `json:"loan_id"`
	TransferRef string    `json:"transfer_ref"`
	DisbursedAt time.Time `json:"disbursed_at"`
}

// LtvBreachedEvent flags a loan whose collateral no longer covers the margin threshold.
type LtvBreachedEvent struct {
	LoanID         uuid.UUID       `json:"loan_id"`
	CurrentLtv     decimal.Decimal `json:"current_ltv"`
	Threshold      decimal.Decimal `json:"threshold"`
	MonitoringDate time.Time       `json:"monitoring_date"`
}

// LoanLiquidatingEvent reports a liquidation order placed for a loan.
type LoanLiquidatingEvent struct {
	LoanID        uuid.UUID       `json:"loan_id"`
	LiquidationID uuid.UUID       `json:"liquidation_id"`
	MarketSymbol  string          `json:"market_symbol"`
	OrderRef      string          `json:"order_ref"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	OrderDate     time.Time       `json:"order_date"`
}
