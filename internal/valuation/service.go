package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/internal/platform"
	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
	pkgerrors "github.com/credeo/lendmarket-backend/pkg/errors"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/outbox"
	"github.com/credeo/lendmarket-backend/pkg/outbox/payloads"
)

// ErrConfigurationMissing is returned when no platform config row is
// effective for the monitoring date and no explicit threshold was given.
var ErrConfigurationMissing = pkgerrors.New(pkgerrors.CodeConfiguration, "no platform lending config effective")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service maintains collateral valuations and watches margin health.
type Service interface {
	UpdateValuation(ctx context.Context, input UpdateValuationInput) error
	MonitorLtvRatios(ctx context.Context, input MonitorInput) (*MonitorResult, error)
}

// UpdateValuationInput is an externally computed valuation fact.
type UpdateValuationInput struct {
	LoanID                    uuid.UUID
	ExchangeRateID            uuid.UUID
	ValuationDate             time.Time
	LtvRatio                  decimal.Decimal
	CollateralValuationAmount decimal.Decimal
}

// MonitorInput bounds one monitoring sweep. LtvThreshold overrides the
// platform default when set.
type MonitorInput struct {
	MonitoringDate time.Time
	LtvThreshold   *decimal.Decimal
}

// BreachedLoan is one loan above the margin-call threshold.
type BreachedLoan struct {
	LoanID          uuid.UUID
	CurrentLtvRatio decimal.Decimal
}

// MonitorResult summarizes one sweep. BreachedLoans is ordered worst first.
type MonitorResult struct {
	ProcessedLoans int
	Threshold      decimal.Decimal
	BreachedLoans  []BreachedLoan
}

type service struct {
	tx       txRunner
	repo     Repository
	platform platform.Repository
	outbox   outboxPublisher
	logg     *logger.Logger
}

// NewService builds the valuation monitor.
func NewService(
	tx txRunner,
	repo Repository,
	platformRepo platform.Repository,
	publisher outboxPublisher,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("valuation repository required")
	}
	if platformRepo == nil {
		return nil, fmt.Errorf("platform repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:       tx,
		repo:     repo,
		platform: platformRepo,
		outbox:   publisher,
		logg:     logg,
	}, nil
}

func (s *service) UpdateValuation(ctx context.Context, input UpdateValuationInput) error {
	if input.LoanID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	if input.ExchangeRateID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "exchange rate id required")
	}
	if !input.LtvRatio.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "ltv ratio must be positive")
	}
	if input.ValuationDate.IsZero() {
		input.ValuationDate = time.Now().UTC()
	}

	ctx = s.logg.WithLoanID(ctx, input.LoanID.String())

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		err := repo.Upsert(ctx, &models.LoanValuation{
			ID:                        uuid.New(),
			LoanID:                    input.LoanID,
			ExchangeRateID:            input.ExchangeRateID,
			CollateralValuationAmount: input.CollateralValuationAmount,
			LtvRatio:                  input.LtvRatio,
			ValuationDate:             input.ValuationDate,
		})
		if err != nil {
			return err
		}

		// facts arrive at least once and out of order; only the newest
		// valuation may drive the mirrored ratio
		stale, err := repo.HasNewerValuation(ctx, input.LoanID, input.ValuationDate)
		if err != nil {
			return err
		}
		if stale {
			s.logg.Warn(ctx, "stale valuation fact, mirrored ltv unchanged")
			return nil
		}

		mirrored, err := repo.MirrorLoanLtv(ctx, input.LoanID, input.LtvRatio)
		if err != nil {
			return err
		}
		if !mirrored {
			return pkgerrors.New(pkgerrors.CodeNotFound, "loan not found")
		}
		return nil
	})
}

func (s *service) MonitorLtvRatios(ctx context.Context, input MonitorInput) (*MonitorResult, error) {
	if input.MonitoringDate.IsZero() {
		input.MonitoringDate = time.Now().UTC()
	}

	threshold, err := s.resolveThreshold(ctx, input)
	if err != nil {
		return nil, err
	}

	processed, err := s.repo.CountOpenLoans(ctx)
	if err != nil {
		return nil, err
	}

	breached, err := s.repo.ListBreachedOpenLoans(ctx, threshold)
	if err != nil {
		return nil, err
	}

	result := &MonitorResult{
		ProcessedLoans: int(processed),
		Threshold:      threshold,
	}

	day := input.MonitoringDate.UTC().Format("2006-01-02")
	for _, loan := range breached {
		if loan.CurrentLtvRatio == nil {
			continue
		}
		result.BreachedLoans = append(result.BreachedLoans, BreachedLoan{
			LoanID:          loan.ID,
			CurrentLtvRatio: *loan.CurrentLtvRatio,
		})

		loanCtx := s.logg.WithLoanID(ctx, loan.ID.String())
		err := s.tx.WithTx(loanCtx, func(tx *gorm.DB) error {
			return s.outbox.EmitIfNotExists(loanCtx, tx, outbox.DomainEvent{
				EventType:     enums.EventLoanLtvBreached,
				AggregateType: enums.AggregateLoan,
				AggregateID:   loan.ID,
				DedupKey:      day,
				Version:       1,
				OccurredAt:    input.MonitoringDate,
				Data: payloads.LtvBreachedEvent{
					LoanID:         loan.ID,
					CurrentLtv:     *loan.CurrentLtvRatio,
					Threshold:      threshold,
					MonitoringDate: input.MonitoringDate,
				},
			})
		})
		if err != nil {
			return result, err
		}
		s.logg.Warn(loanCtx, "loan breached ltv threshold")
	}

	return result, nil
}

func (s *service) resolveThreshold(ctx context.Context, input MonitorInput) (decimal.Decimal, error) {
	if input.LtvThreshold != nil {
		if !input.LtvThreshold.IsPositive() {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "ltv threshold must be positive")
		}
		return *input.LtvThreshold, nil
	}
	cfg, err := s.platform.EffectiveAsOf(ctx, input.MonitoringDate)
	if err != nil {
		return decimal.Zero, err
	}
	if cfg == nil {
		return decimal.Zero, ErrConfigurationMissing
	}
	return cfg.MaxLtvRatio, nil
}
