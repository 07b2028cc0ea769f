// Package settlement consumes facts reported by external collaborators:
// on-chain deposit detections, executed loan agreements, fund-transfer
// confirmations, valuation updates, and liquidation order callbacks. The
// services it dispatches to are idempotent, so at-least-once delivery from
// the upstream watchers is safe.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credeo/lendmarket-backend/internal/invoices"
	"github.com/credeo/lendmarket-backend/internal/liquidation"
	"github.com/credeo/lendmarket-backend/internal/loans"
	"github.com/credeo/lendmarket-backend/internal/valuation"
	pkgerrors "github.com/credeo/lendmarket-backend/pkg/errors"
	"github.com/credeo/lendmarket-backend/pkg/logger"
)

// Inbound event types carried in the event_type message attribute.
const (
	EventDepositDetected          = "deposit.detected"
	EventAgreementExecuted        = "loan.agreement_executed"
	EventFundsTransferred         = "loan.funds_transferred"
	EventValuationUpdated         = "valuation.updated"
	EventLiquidationOrderPlaced   = "liquidation.order_placed"
	EventLiquidationOrderResolved = "liquidation.order_resolved"
)

// Consumer dispatches settlement messages to the ledger services.
type Consumer struct {
	invoices     invoices.Service
	loans        loans.Service
	valuations   valuation.Service
	liquidations liquidation.Service
	subscription *pubsubv2.Subscriber
	logg         *logger.Logger
}

// NewConsumer validates dependencies and builds the settlement consumer.
func NewConsumer(
	invoiceService invoices.Service,
	loanService loans.Service,
	valuationService valuation.Service,
	liquidationService liquidation.Service,
	subscription *pubsubv2.Subscriber,
	logg *logger.Logger,
) (*Consumer, error) {
	if invoiceService == nil {
		return nil, errors.New("invoice service required")
	}
	if loanService == nil {
		return nil, errors.New("loan service required")
	}
	if valuationService == nil {
		return nil, errors.New("valuation service required")
	}
	if liquidationService == nil {
		return nil, errors.New("liquidation service required")
	}
	if subscription == nil {
		return nil, errors.New("settlement subscription required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Consumer{
		invoices:     invoiceService,
		loans:        loanService,
		valuations:   valuationService,
		liquidations: liquidationService,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run receives messages until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsubv2.Message) {
		if err := c.Process(ctx, msg.Attributes["event_type"], msg.Data); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// DepositDetectedPayload is a transfer seen by the blockchain watchers.
type DepositDetectedPayload struct {
	InvoiceID       *uuid.UUID      `json:"invoiceId,omitempty"`
	WalletAddress   string          `json:"walletAddress,omitempty"`
	TransactionHash string          `json:"transactionHash"`
	Amount          decimal.Decimal `json:"amount"`
	PaidAt          time.Time       `json:"paidAt"`
}

// AgreementExecutedPayload carries the signed contract terms for a
// matched pair, produced by the document workflow.
type AgreementExecutedPayload struct {
	LoanOfferID          uuid.UUID       `json:"loanOfferId"`
	LoanApplicationID    uuid.UUID       `json:"loanApplicationId"`
	PrincipalAmount      decimal.Decimal `json:"principalAmount"`
	InterestAmount       decimal.Decimal `json:"interestAmount"`
	RepaymentAmount      decimal.Decimal `json:"repaymentAmount"`
	OriginationFeeAmount decimal.Decimal `json:"originationFeeAmount"`
	CollateralAmount     decimal.Decimal `json:"collateralAmount"`
	McLtvRatio           decimal.Decimal `json:"mcLtvRatio"`
	OriginationDate      time.Time       `json:"originationDate"`
	MaturityDate         time.Time       `json:"maturityDate"`
	AgreementRef         string          `json:"agreementRef"`
}

// FundsTransferredPayload confirms the principal reached the borrower.
type FundsTransferredPayload struct {
	LoanID        uuid.UUID `json:"loanId"`
	TransferredAt time.Time `json:"transferredAt"`
	TransferRef   string    `json:"transferRef"`
}

// ValuationUpdatedPayload is a collateral valuation computed by the price
// pipeline at a given exchange rate.
type ValuationUpdatedPayload struct {
	LoanID                    uuid.UUID       `json:"loanId"`
	ExchangeRateID            uuid.UUID       `json:"exchangeRateId"`
	ValuationDate             time.Time       `json:"valuationDate"`
	LtvRatio                  decimal.Decimal `json:"ltvRatio"`
	CollateralValuationAmount decimal.Decimal `json:"collateralValuationAmount"`
}

// LiquidationOrderPlacedPayload records a market order opened at the
// external venue for a breached loan.
type LiquidationOrderPlacedPayload struct {
	LoanID                  uuid.UUID       `json:"loanId"`
	LiquidationTargetAmount decimal.Decimal `json:"liquidationTargetAmount"`
	MarketProvider          string          `json:"marketProvider"`
	MarketSymbol            string          `json:"marketSymbol"`
	OrderRef                string          `json:"orderRef"`
	OrderQuantity           decimal.Decimal `json:"orderQuantity"`
	OrderPrice              decimal.Decimal `json:"orderPrice"`
	OrderDate               time.Time       `json:"orderDate"`
	Initiator               string          `json:"initiator"`
}

// LiquidationOrderResolvedPayload is the venue's fill-or-fail outcome.
type LiquidationOrderResolvedPayload struct {
	LoanID       uuid.UUID        `json:"loanId"`
	Filled       bool             `json:"filled"`
	FilledAmount *decimal.Decimal `json:"filledAmount,omitempty"`
	ResolvedAt   time.Time        `json:"resolvedAt"`
}

// Process handles one settlement message. Unknown event types, malformed
// payloads and already-applied facts are acked so the subscription does not
// redeliver them forever; only transient failures are nacked.
func (c *Consumer) Process(ctx context.Context, eventType string, data []byte) error {
	logCtx := c.logg.WithField(ctx, "event_type", eventType)

	var err error
	switch eventType {
	case EventDepositDetected:
		err = c.handleDeposit(logCtx, data)
	case EventAgreementExecuted:
		err = c.handleAgreement(logCtx, data)
	case EventFundsTransferred:
		err = c.handleFundsTransferred(logCtx, data)
	case EventValuationUpdated:
		err = c.handleValuation(logCtx, data)
	case EventLiquidationOrderPlaced:
		err = c.handleOrderPlaced(logCtx, data)
	case EventLiquidationOrderResolved:
		err = c.handleOrderResolved(logCtx, data)
	default:
		c.logg.Warn(logCtx, "ignoring unknown settlement event")
		return nil
	}

	if err == nil {
		return nil
	}
	if isPoison(err) {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dropping unprocessable settlement event")
		return nil
	}
	c.logg.Error(logCtx, "settlement event failed", err)
	return err
}

// isPoison reports whether redelivering the message can never succeed.
// Validation failures and conflicts with already-recorded facts fall in
// this bucket.
func isPoison(err error) bool {
	return pkgerrors.HasCode(err, pkgerrors.CodeValidation) ||
		pkgerrors.HasCode(err, pkgerrors.CodeConflict) ||
		pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) ||
		pkgerrors.HasCode(err, pkgerrors.CodeNotFound)
}

func (c *Consumer) handleDeposit(ctx context.Context, data []byte) error {
	var payload DepositDetectedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed deposit payload")
	}
	input := invoices.RecordPaymentInput{
		WalletAddress:   payload.WalletAddress,
		TransactionHash: payload.TransactionHash,
		Amount:          payload.Amount,
		PaidAt:          payload.PaidAt,
	}
	if payload.InvoiceID != nil {
		input.InvoiceID = *payload.InvoiceID
	}
	invoice, err := c.invoices.RecordPayment(ctx, input)
	if err != nil {
		return err
	}
	c.logg.Info(c.logg.WithInvoiceID(ctx, invoice.ID.String()), "deposit recorded")
	return nil
}

func (c *Consumer) handleAgreement(ctx context.Context, data []byte) error {
	var payload AgreementExecutedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed agreement payload")
	}
	loan, err := c.loans.Originate(ctx, loans.OriginateLoanInput{
		LoanOfferID:          payload.LoanOfferID,
		LoanApplicationID:    payload.LoanApplicationID,
		PrincipalAmount:      payload.PrincipalAmount,
		InterestAmount:       payload.InterestAmount,
		RepaymentAmount:      payload.RepaymentAmount,
		OriginationFeeAmount: payload.OriginationFeeAmount,
		CollateralAmount:     payload.CollateralAmount,
		McLtvRatio:           payload.McLtvRatio,
		OriginationDate:      payload.OriginationDate,
		MaturityDate:         payload.MaturityDate,
		AgreementRef:         payload.AgreementRef,
	})
	if err != nil {
		return err
	}
	c.logg.Info(c.logg.WithLoanID(ctx, loan.ID.String()), "loan originated")
	return nil
}

func (c *Consumer) handleFundsTransferred(ctx context.Context, data []byte) error {
	var payload FundsTransferredPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed transfer payload")
	}
	loan, err := c.loans.Disburse(ctx, payload.LoanID, payload.TransferredAt, payload.TransferRef)
	if err != nil {
		return err
	}
	c.logg.Info(c.logg.WithLoanID(ctx, loan.ID.String()), "loan disbursed")
	return nil
}

func (c *Consumer) handleValuation(ctx context.Context, data []byte) error {
	var payload ValuationUpdatedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed valuation payload")
	}
	return c.valuations.UpdateValuation(ctx, valuation.UpdateValuationInput{
		LoanID:                    payload.LoanID,
		ExchangeRateID:            payload.ExchangeRateID,
		ValuationDate:             payload.ValuationDate,
		LtvRatio:                  payload.LtvRatio,
		CollateralValuationAmount: payload.CollateralValuationAmount,
	})
}

func (c *Consumer) handleOrderPlaced(ctx context.Context, data []byte) error {
	var payload LiquidationOrderPlacedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed liquidation payload")
	}
	record, err := c.liquidations.LiquidateCollateral(ctx, liquidation.LiquidateCollateralInput{
		LoanID:                  payload.LoanID,
		LiquidationTargetAmount: payload.LiquidationTargetAmount,
		MarketProvider:          payload.MarketProvider,
		MarketSymbol:            payload.MarketSymbol,
		OrderRef:                payload.OrderRef,
		OrderQuantity:           payload.OrderQuantity,
		OrderPrice:              payload.OrderPrice,
		OrderDate:               payload.OrderDate,
		Initiator:               payload.Initiator,
	})
	if err != nil {
		return err
	}
	c.logg.Info(c.logg.WithLoanID(ctx, record.LoanID.String()), "liquidation order recorded")
	return nil
}

func (c *Consumer) handleOrderResolved(ctx context.Context, data []byte) error {
	var payload LiquidationOrderResolvedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed liquidation payload")
	}
	record, err := c.liquidations.ResolveOrder(ctx, liquidation.ResolveOrderInput{
		LoanID:       payload.LoanID,
		Filled:       payload.Filled,
		FilledAmount: payload.FilledAmount,
		ResolvedAt:   payload.ResolvedAt,
	})
	if err != nil {
		return err
	}
	c.logg.Info(c.logg.WithLoanID(ctx, record.LoanID.String()), "liquidation order resolved")
	return nil
}
