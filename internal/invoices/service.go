package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/internal/marketplace"
	dbpkg "github.com/credeo/lendmarket-backend/pkg/db"
	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
	pkgerrors "github.com/credeo/lendmarket-backend/pkg/errors"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/outbox"
	"github.com/credeo/lendmarket-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// errDuplicatePayment aborts the transaction when the unique payment
// constraint fires; the caller treats it as a replayed detection.
var errDuplicatePayment = errors.New("duplicate invoice payment")

// Service records on-chain payment detections against invoices.
type Service interface {
	RecordPayment(ctx context.Context, input RecordPaymentInput) (*models.Invoice, error)
}

// RecordPaymentInput is one detected transfer. Either InvoiceID or
// WalletAddress identifies the invoice; upstream watchers deliver these
// at-least-once.
type RecordPaymentInput struct {
	InvoiceID       uuid.UUID
	WalletAddress   string
	TransactionHash string
	Amount          decimal.Decimal
	PaidAt          time.Time
}

type service struct {
	tx     txRunner
	repo   Repository
	offers marketplace.OfferRepository
	apps   marketplace.ApplicationRepository
	outbox outboxPublisher
	logg   *logger.Logger
}

// NewService builds the invoice payment recorder.
func NewService(
	tx txRunner,
	repo Repository,
	offers marketplace.OfferRepository,
	apps marketplace.ApplicationRepository,
	publisher outboxPublisher,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if offers == nil {
		return nil, fmt.Errorf("offer repository required")
	}
	if apps == nil {
		return nil, fmt.Errorf("application repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:     tx,
		repo:   repo,
		offers: offers,
		apps:   apps,
		outbox: publisher,
		logg:   logg,
	}, nil
}

func (s *service) RecordPayment(ctx context.Context, input RecordPaymentInput) (*models.Invoice, error) {
	if input.InvoiceID == uuid.Nil && input.WalletAddress == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id or wallet address required")
	}
	if input.TransactionHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction hash required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	if input.PaidAt.IsZero() {
		input.PaidAt = time.Now().UTC()
	}

	invoice, err := s.resolve(ctx, input)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithInvoiceID(ctx, invoice.ID.String())

	var out *models.Invoice
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		payment := &models.InvoicePayment{
			ID:              uuid.New(),
			InvoiceID:       invoice.ID,
			TransactionHash: input.TransactionHash,
			Amount:          input.Amount,
			PaidAt:          input.PaidAt,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_invoice_payments_invoice_tx") {
				return errDuplicatePayment
			}
			return err
		}

		if err := repo.ApplyPayment(ctx, invoice.ID, input.Amount); err != nil {
			return err
		}

		updated, err := repo.FindByID(ctx, invoice.ID)
		if err != nil {
			return err
		}

		status := paymentStatus(updated)
		if status != updated.Status {
			var paidAt *time.Time
			if status == enums.InvoiceStatusPaid {
				paidAt = &input.PaidAt
			}
			if err := repo.SetStatus(ctx, invoice.ID, status, paidAt); err != nil {
				return err
			}
			updated.Status = status
			updated.PaidAt = paidAt
		}

		// only the first crossing into Paid releases the funded entity
		if status == enums.InvoiceStatusPaid && invoice.Status != enums.InvoiceStatusPaid {
			if err := s.publishFunded(ctx, tx, updated, input.PaidAt); err != nil {
				return err
			}
		}

		out = updated
		return nil
	})
	if errors.Is(err, errDuplicatePayment) {
		s.logg.Info(ctx, "payment already recorded, skipping")
		return s.resolve(ctx, input)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) resolve(ctx context.Context, input RecordPaymentInput) (*models.Invoice, error) {
	var (
		invoice *models.Invoice
		err     error
	)
	if input.InvoiceID != uuid.Nil {
		invoice, err = s.repo.FindByID(ctx, input.InvoiceID)
	} else {
		invoice, err = s.repo.FindByWalletAddress(ctx, input.WalletAddress)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// publishFunded moves the invoice's offer or application into the
// marketplace inside the same transaction that marked the invoice paid.
func (s *service) publishFunded(ctx context.Context, tx *gorm.DB, invoice *models.Invoice, paidAt time.Time) error {
	switch invoice.Purpose {
	case enums.InvoicePurposeOfferFunding:
		offer, err := s.offers.WithTx(tx).FindByFundingInvoice(ctx, invoice.ID)
		if err != nil {
			return err
		}
		if offer == nil {
			return nil
		}
		ok, err := s.offers.WithTx(tx).Publish(ctx, offer.ID, paidAt)
		if err != nil {
			return err
		}
		if !ok {
			s.logg.Warn(s.logg.WithOfferID(ctx, offer.ID.String()), "offer not in funding state, publish skipped")
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOfferPublished,
			AggregateType: enums.AggregateLoanOffer,
			AggregateID:   offer.ID,
			Version:       1,
			OccurredAt:    paidAt,
			Data: payloads.OfferPublishedEvent{
				OfferID:             offer.ID,
				LenderUserID:        offer.LenderUserID,
				PrincipalCurrencyID: offer.PrincipalCurrencyID,
				OfferedAmount:       offer.OfferedPrincipalAmount,
				InterestRate:        offer.InterestRate,
				PublishedAt:         paidAt,
			},
		})

	case enums.InvoicePurposeApplicationCollateral:
		app, err := s.apps.WithTx(tx).FindByCollateralInvoice(ctx, invoice.ID)
		if err != nil {
			return err
		}
		if app == nil {
			return nil
		}
		ok, err := s.apps.WithTx(tx).Publish(ctx, app.ID, paidAt)
		if err != nil {
			return err
		}
		if !ok {
			s.logg.Warn(s.logg.WithApplicationID(ctx, app.ID.String()), "application not awaiting collateral, publish skipped")
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventApplicationPublished,
			AggregateType: enums.AggregateLoanApplication,
			AggregateID:   app.ID,
			Version:       1,
			OccurredAt:    paidAt,
			Data: payloads.ApplicationPublishedEvent{
				ApplicationID:       app.ID,
				BorrowerUserID:      app.BorrowerUserID,
				PrincipalCurrencyID: app.PrincipalCurrencyID,
				PrincipalAmount:     app.PrincipalAmount,
				PublishedAt:         paidAt,
			},
		})

	default:
		return fmt.Errorf("unknown invoice purpose %q", invoice.Purpose)
	}
}

func paymentStatus(invoice *models.Invoice) enums.InvoiceStatus {
	switch {
	case invoice.PaidAmount.GreaterThanOrEqual(invoice.InvoicedAmount):
		return enums.InvoiceStatusPaid
	case invoice.PaidAmount.IsPositive():
		return enums.InvoiceStatusPartiallyPaid
	default:
		return invoice.Status
	}
}
