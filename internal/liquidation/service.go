package liquidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/internal/loans"
	dbpkg "github.com/credeo/lendmarket-backend/pkg/db"
	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
	pkgerrors "github.com/credeo/lendmarket-backend/pkg/errors"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/outbox"
	"github.com/credeo/lendmarket-backend/pkg/outbox/payloads"
)

// ErrInvalidLoanState is returned when the loan is not open for liquidation.
var ErrInvalidLoanState = pkgerrors.New(pkgerrors.CodeStateConflict, "loan not liquidatable")

// ErrAlreadyExists is returned when the loan already has a liquidation
// record; the first record stays untouched.
var ErrAlreadyExists = pkgerrors.New(pkgerrors.CodeConflict, "liquidation already recorded")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service records liquidation orders and their resolutions.
type Service interface {
	LiquidateCollateral(ctx context.Context, input LiquidateCollateralInput) (*models.LoanLiquidation, error)
	ResolveOrder(ctx context.Context, input ResolveOrderInput) (*models.LoanLiquidation, error)
}

// LiquidateCollateralInput carries an already-placed market order for a
// breached loan; execution happens at the external market venue.
type LiquidateCollateralInput struct {
	LoanID                  uuid.UUID
	LiquidationTargetAmount decimal.Decimal
	MarketProvider          string
	MarketSymbol            string
	OrderRef                string
	OrderQuantity           decimal.Decimal
	OrderPrice              decimal.Decimal
	OrderDate               time.Time
	Initiator               string
}

// ResolveOrderInput reports the external venue's outcome.
type ResolveOrderInput struct {
	LoanID       uuid.UUID
	Filled       bool
	FilledAmount *decimal.Decimal
	ResolvedAt   time.Time
}

type service struct {
	tx     txRunner
	repo   Repository
	loans  loans.Repository
	outbox outboxPublisher
	logg   *logger.Logger
}

// NewService builds the liquidation initiator.
func NewService(
	tx txRunner,
	repo Repository,
	loanRepo loans.Repository,
	publisher outboxPublisher,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("liquidation repository required")
	}
	if loanRepo == nil {
		return nil, fmt.Errorf("loan repository required")
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
		loans:  loanRepo,
		outbox: publisher,
		logg:   logg,
	}, nil
}

func (s *service) LiquidateCollateral(ctx context.Context, input LiquidateCollateralInput) (*models.LoanLiquidation, error) {
	if input.LoanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	if !input.LiquidationTargetAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "liquidation target amount must be positive")
	}
	if input.OrderRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order ref required")
	}
	if input.OrderDate.IsZero() {
		input.OrderDate = time.Now().UTC()
	}
	if input.Initiator == "" {
		input.Initiator = "system"
	}

	ctx = s.logg.WithLoanID(ctx, input.LoanID.String())

	loan, err := s.loans.FindByID(ctx, input.LoanID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "loan not found")
	}
	if err != nil {
		return nil, err
	}
	if !loan.Status.IsOpen() {
		return nil, ErrInvalidLoanState
	}

	record := &models.LoanLiquidation{
		ID:                      uuid.New(),
		LoanID:                  input.LoanID,
		LiquidationTargetAmount: input.LiquidationTargetAmount,
		MarketProvider:          input.MarketProvider,
		MarketSymbol:            input.MarketSymbol,
		OrderRef:                input.OrderRef,
		OrderQuantity:           input.OrderQuantity,
		OrderPrice:              input.OrderPrice,
		OrderStatus:             enums.LiquidationOrderStatusPending,
		OrderDate:               input.OrderDate,
		Initiator:               input.Initiator,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, record); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_loan_liquidations_loan_id") {
				return ErrAlreadyExists
			}
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLoanLiquidating,
			AggregateType: enums.AggregateLoan,
			AggregateID:   input.LoanID,
			Version:       1,
			OccurredAt:    input.OrderDate,
			Data: payloads.LoanLiquidatingEvent{
				LoanID:        input.LoanID,
				LiquidationID: record.ID,
				MarketSymbol:  input.MarketSymbol,
				OrderRef:      input.OrderRef,
				TargetAmount:  input.LiquidationTargetAmount,
				OrderDate:     input.OrderDate,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Warn(ctx, "liquidation order recorded")
	return record, nil
}

func (s *service) ResolveOrder(ctx context.Context, input ResolveOrderInput) (*models.LoanLiquidation, error) {
	if input.LoanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	if input.Filled && (input.FilledAmount == nil || !input.FilledAmount.IsPositive()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "filled amount required for a fill")
	}
	if input.ResolvedAt.IsZero() {
		input.ResolvedAt = time.Now().UTC()
	}

	ctx = s.logg.WithLoanID(ctx, input.LoanID.String())

	status := enums.LiquidationOrderStatusFailed
	if input.Filled {
		status = enums.LiquidationOrderStatusFilled
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		resolved, err := s.repo.WithTx(tx).Resolve(ctx, input.LoanID, status, input.FilledAmount, input.ResolvedAt)
		if err != nil {
			return err
		}
		if !resolved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "no pending liquidation order")
		}
		if input.Filled {
			moved, err := s.loans.WithTx(tx).Transition(ctx, input.LoanID,
				[]enums.LoanStatus{enums.LoanStatusOriginated, enums.LoanStatusActive},
				enums.LoanStatusLiquidated)
			if err != nil {
				return err
			}
			if !moved {
				return ErrInvalidLoanState
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "order_status", string(status)), "liquidation order resolved")
	return s.repo.FindByLoan(ctx, input.LoanID)
}
