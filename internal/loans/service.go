package loans

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

// ErrOriginationState is returned when the offer or application is not in a
// state that allows origination.
var ErrOriginationState = pkgerrors.New(pkgerrors.CodeStateConflict, "offer or application not originable")

// ErrLoanState is returned when a lifecycle transition is not legal from the
// loan's current status.
var ErrLoanState = pkgerrors.New(pkgerrors.CodeStateConflict, "loan state does not allow transition")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// valuationReader exposes the valuation history read path without binding
// this package to the valuation service.
type valuationReader interface {
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]models.LoanValuation, error)
}

// Service originates loans from matched pairs and drives their lifecycle.
type Service interface {
	Originate(ctx context.Context, input OriginateLoanInput) (*models.Loan, error)
	Disburse(ctx context.Context, loanID uuid.UUID, disbursedAt time.Time, transferRef string) (*models.Loan, error)
	MarkRepaid(ctx context.Context, loanID uuid.UUID) (*models.Loan, error)
	MarkDefaulted(ctx context.Context, loanID uuid.UUID) (*models.Loan, error)
	GetLoan(ctx context.Context, loanID uuid.UUID) (*models.Loan, error)
	ListLoans(ctx context.Context, filter ListFilter) ([]models.Loan, error)
	ListValuations(ctx context.Context, loanID uuid.UUID) ([]models.LoanValuation, error)
}

// OriginateLoanInput carries the agreed contract terms for a matched pair.
type OriginateLoanInput struct {
	LoanOfferID          uuid.UUID
	LoanApplicationID    uuid.UUID
	PrincipalAmount      decimal.Decimal
	InterestAmount       decimal.Decimal
	RepaymentAmount      decimal.Decimal
	OriginationFeeAmount decimal.Decimal
	CollateralAmount     decimal.Decimal
	McLtvRatio           decimal.Decimal
	OriginationDate      time.Time
	MaturityDate         time.Time
	AgreementRef         string
}

type service struct {
	tx         txRunner
	repo       Repository
	offers     marketplace.OfferRepository
	apps       marketplace.ApplicationRepository
	valuations valuationReader
	outbox     outboxPublisher
	logg       *logger.Logger
}

// NewService builds the loan originator.
func NewService(
	tx txRunner,
	repo Repository,
	offers marketplace.OfferRepository,
	apps marketplace.ApplicationRepository,
	valuations valuationReader,
	publisher outboxPublisher,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("loan repository required")
	}
	if offers == nil {
		return nil, fmt.Errorf("offer repository required")
	}
	if apps == nil {
		return nil, fmt.Errorf("application repository required")
	}
	if valuations == nil {
		return nil, fmt.Errorf("valuation reader required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:         tx,
		repo:       repo,
		offers:     offers,
		apps:       apps,
		valuations: valuations,
		outbox:     publisher,
		logg:       logg,
	}, nil
}

func (s *service) Originate(ctx context.Context, input OriginateLoanInput) (*models.Loan, error) {
	if input.LoanOfferID == uuid.Nil || input.LoanApplicationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer and application ids required")
	}
	if !input.PrincipalAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "principal amount must be positive")
	}
	if input.MaturityDate.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "maturity date required")
	}
	if input.OriginationDate.IsZero() {
		input.OriginationDate = time.Now().UTC()
	}

	ctx = s.logg.WithApplicationID(s.logg.WithOfferID(ctx, input.LoanOfferID.String()), input.LoanApplicationID.String())

	app, err := s.apps.FindByID(ctx, input.LoanApplicationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "application not found")
	}
	if err != nil {
		return nil, err
	}
	if app.Status != enums.LoanApplicationStatusMatched {
		return nil, ErrOriginationState
	}
	if app.MatchedLoanOfferID == nil || *app.MatchedLoanOfferID != input.LoanOfferID {
		return nil, ErrOriginationState
	}

	offer, err := s.offers.FindByID(ctx, input.LoanOfferID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
	}
	if err != nil {
		return nil, err
	}
	if offer.Status != enums.LoanOfferStatusPublished {
		return nil, ErrOriginationState
	}

	loan := &models.Loan{
		ID:                   uuid.New(),
		LoanOfferID:          offer.ID,
		LoanApplicationID:    app.ID,
		LenderUserID:         offer.LenderUserID,
		BorrowerUserID:       app.BorrowerUserID,
		Status:               enums.LoanStatusOriginated,
		PrincipalCurrencyID:  offer.PrincipalCurrencyID,
		PrincipalAmount:      input.PrincipalAmount,
		InterestAmount:       input.InterestAmount,
		RepaymentAmount:      input.RepaymentAmount,
		OriginationFeeAmount: input.OriginationFeeAmount,
		CollateralCurrencyID: app.CollateralCurrencyID,
		CollateralAmount:     input.CollateralAmount,
		McLtvRatio:           input.McLtvRatio,
		CurrentLtvRatio:      app.MatchedLtvRatio,
		OriginationDate:      input.OriginationDate,
		MaturityDate:         input.MaturityDate,
	}
	if input.AgreementRef != "" {
		loan.AgreementRef = &input.AgreementRef
	}
	if loan.CollateralAmount.IsZero() {
		loan.CollateralAmount = app.CollateralAmount
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		disbursed, err := s.offers.WithTx(tx).DisburseReserved(ctx, offer.ID, input.PrincipalAmount)
		if err != nil {
			return err
		}
		if !disbursed {
			return ErrOriginationState
		}

		closed, err := s.apps.WithTx(tx).Close(ctx, app.ID)
		if err != nil {
			return err
		}
		if !closed {
			return ErrOriginationState
		}

		if err := s.repo.WithTx(tx).Create(ctx, loan); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_loans_application_id") {
				return pkgerrors.New(pkgerrors.CodeConflict, "application already originated")
			}
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLoanOriginated,
			AggregateType: enums.AggregateLoan,
			AggregateID:   loan.ID,
			Version:       1,
			OccurredAt:    input.OriginationDate,
			Data: payloads.LoanOriginatedEvent{
				LoanID:          loan.ID,
				OfferID:         offer.ID,
				ApplicationID:   app.ID,
				LenderUserID:    loan.LenderUserID,
				BorrowerUserID:  loan.BorrowerUserID,
				PrincipalAmount: loan.PrincipalAmount,
				MaturityDate:    loan.MaturityDate,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithLoanID(ctx, loan.ID.String()), "loan originated")
	return loan, nil
}

func (s *service) Disburse(ctx context.Context, loanID uuid.UUID, disbursedAt time.Time, transferRef string) (*models.Loan, error) {
	if loanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	if transferRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer ref required")
	}
	if disbursedAt.IsZero() {
		disbursedAt = time.Now().UTC()
	}

	ctx = s.logg.WithLoanID(ctx, loanID.String())

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		activated, err := s.repo.WithTx(tx).MarkActive(ctx, loanID, disbursedAt, transferRef)
		if err != nil {
			return err
		}
		if !activated {
			return ErrLoanState
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLoanDisbursed,
			AggregateType: enums.AggregateLoan,
			AggregateID:   loanID,
			Version:       1,
			OccurredAt:    disbursedAt,
			Data: payloads.LoanDisbursedEvent{
				LoanID:      loanID,
				TransferRef: transferRef,
				DisbursedAt: disbursedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "loan disbursed")
	return s.repo.FindByID(ctx, loanID)
}

func (s *service) MarkRepaid(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	return s.transition(ctx, loanID, []enums.LoanStatus{enums.LoanStatusActive}, enums.LoanStatusRepaid)
}

func (s *service) MarkDefaulted(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	return s.transition(ctx, loanID, []enums.LoanStatus{enums.LoanStatusActive, enums.LoanStatusOriginated}, enums.LoanStatusDefaulted)
}

func (s *service) transition(ctx context.Context, loanID uuid.UUID, from []enums.LoanStatus, to enums.LoanStatus) (*models.Loan, error) {
	if loanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	ctx = s.logg.WithLoanID(ctx, loanID.String())

	moved, err := s.repo.Transition(ctx, loanID, from, to)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrLoanState
	}
	s.logg.Info(s.logg.WithField(ctx, "status", string(to)), "loan transitioned")
	return s.repo.FindByID(ctx, loanID)
}

func (s *service) GetLoan(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	if loanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	loan, err := s.repo.FindByID(ctx, loanID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "loan not found")
	}
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (s *service) ListLoans(ctx context.Context, filter ListFilter) ([]models.Loan, error) {
	return s.repo.List(ctx, filter)
}

func (s *service) ListValuations(ctx context.Context, loanID uuid.UUID) ([]models.LoanValuation, error) {
	if loanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	return s.valuations.ListByLoan(ctx, loanID)
}
