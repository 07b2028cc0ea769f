package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/internal/marketplace"
	"github.com/credeo/lendmarket-backend/internal/rates"
	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/metrics"
	"github.com/credeo/lendmarket-backend/pkg/outbox"
	"github.com/credeo/lendmarket-backend/pkg/outbox/payloads"
)

const defaultBatchSize = 50

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Orchestrator drives matching batches against the marketplace.
type Orchestrator interface {
	ProcessLoanMatching(ctx context.Context, input ProcessMatchingInput) (*MatchingRunResult, error)
}

// ProcessMatchingInput bounds one matching batch.
type ProcessMatchingInput struct {
	BatchSize int
	AsOfDate  time.Time
}

// SkippedPair records a candidate that failed re-validation inside its
// transaction. Skips are expected under concurrency, not errors.
type SkippedPair struct {
	ApplicationID uuid.UUID
	OfferID       uuid.UUID
	Reason        string
}

// MatchingRunResult summarizes one batch.
type MatchingRunResult struct {
	ProcessedApplications int
	ProcessedOffers       int
	CandidatePairs        int
	MatchedPairs          int
	Skipped               []SkippedPair
	HasMore               bool
}

type pairSkip struct {
	reason string
}

func (e pairSkip) Error() string { return "pair skipped: " + e.reason }

type orchestrator struct {
	tx       txRunner
	offers   marketplace.OfferRepository
	apps     marketplace.ApplicationRepository
	strategy Strategy
	rates    rates.Provider
	outbox   outboxPublisher
	metrics  *metrics.MatchingMetrics
	logg     *logger.Logger
}

// NewOrchestrator builds the matching orchestrator.
func NewOrchestrator(
	tx txRunner,
	offers marketplace.OfferRepository,
	apps marketplace.ApplicationRepository,
	strategy Strategy,
	rateProvider rates.Provider,
	publisher outboxPublisher,
	matchingMetrics *metrics.MatchingMetrics,
	logg *logger.Logger,
) (Orchestrator, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if offers == nil {
		return nil, fmt.Errorf("offer repository required")
	}
	if apps == nil {
		return nil, fmt.Errorf("application repository required")
	}
	if strategy == nil {
		return nil, fmt.Errorf("matching strategy required")
	}
	if rateProvider == nil {
		return nil, fmt.Errorf("rate provider required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &orchestrator{
		tx:       tx,
		offers:   offers,
		apps:     apps,
		strategy: strategy,
		rates:    rateProvider,
		outbox:   publisher,
		metrics:  matchingMetrics,
		logg:     logg,
	}, nil
}

func (o *orchestrator) ProcessLoanMatching(ctx context.Context, input ProcessMatchingInput) (*MatchingRunResult, error) {
	started := time.Now()
	defer func() {
		o.metrics.ObserveBatch(time.Since(started))
	}()

	asOf := input.AsOfDate
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	batch := input.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	applications, err := o.apps.ListPublishedUnmatched(ctx, asOf, batch)
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}
	offers, err := o.offers.ListPublishedWithAvailable(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("load offers: %w", err)
	}

	result := &MatchingRunResult{
		ProcessedApplications: len(applications),
		ProcessedOffers:       len(offers),
		HasMore:               len(applications) == batch,
	}
	if len(applications) == 0 || len(offers) == 0 {
		return result, nil
	}

	criteria := MatchCriteria{CollateralValuations: make(map[uuid.UUID]decimal.Decimal, len(applications))}
	for _, app := range applications {
		rate, err := o.rates.LatestRate(ctx, app.CollateralCurrencyID, app.PrincipalCurrencyID)
		if err != nil {
			return nil, fmt.Errorf("resolve rate for application %s: %w", app.ID, err)
		}
		if rate == nil {
			result.Skipped = append(result.Skipped, SkippedPair{ApplicationID: app.ID, Reason: "no_rate"})
			o.metrics.IncSkipped("no_rate")
			continue
		}
		criteria.CollateralValuations[app.ID] = app.CollateralAmount.Mul(rate.Rate).Floor()
	}

	pairs := o.strategy.Match(offers, applications, criteria)
	result.CandidatePairs = len(pairs)

	appsByID := make(map[uuid.UUID]models.LoanApplication, len(applications))
	for _, app := range applications {
		appsByID[app.ID] = app
	}

	for _, pair := range pairs {
		// a canceled worker stops between pair transactions, never inside one
		if err := ctx.Err(); err != nil {
			return result, err
		}

		err := o.matchPair(ctx, pair, appsByID[pair.ApplicationID])
		var skip pairSkip
		if errors.As(err, &skip) {
			result.Skipped = append(result.Skipped, SkippedPair{
				ApplicationID: pair.ApplicationID,
				OfferID:       pair.OfferID,
				Reason:        skip.reason,
			})
			o.metrics.IncSkipped(skip.reason)
			continue
		}
		if err != nil {
			return result, err
		}

		result.MatchedPairs++
		o.metrics.IncMatched()
	}

	return result, nil
}

// matchPair commits one candidate in its own transaction: reserve the
// offer's capacity, then take the application. Either conditional update
// touching zero rows rolls the pair back as a soft skip.
func (o *orchestrator) matchPair(ctx context.Context, pair CandidatePair, app models.LoanApplication) error {
	ctx = o.logg.WithApplicationID(o.logg.WithOfferID(ctx, pair.OfferID.String()), pair.ApplicationID.String())

	err := o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		offerRepo := o.offers.WithTx(tx)

		reserved, err := offerRepo.ReservePrincipal(ctx, pair.OfferID, pair.PrincipalAmount)
		if err != nil {
			return err
		}
		if !reserved {
			return pairSkip{reason: "offer_capacity"}
		}

		// structural invariant, re-checked against current state
		offer, err := offerRepo.FindByID(ctx, pair.OfferID)
		if err != nil {
			return err
		}
		if offer.LenderUserID == app.BorrowerUserID {
			return pairSkip{reason: "self_match"}
		}

		matched, err := o.apps.WithTx(tx).MarkMatched(ctx, pair.ApplicationID, pair.OfferID, pair.LtvRatio, pair.CollateralValuation)
		if err != nil {
			return err
		}
		if !matched {
			return pairSkip{reason: "application_state"}
		}

		return o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventApplicationMatched,
			AggregateType: enums.AggregateLoanApplication,
			AggregateID:   pair.ApplicationID,
			Version:       1,
			Data: payloads.ApplicationMatchedEvent{
				ApplicationID:       pair.ApplicationID,
				OfferID:             pair.OfferID,
				PrincipalAmount:     pair.PrincipalAmount,
				LtvRatio:            pair.LtvRatio,
				CollateralValuation: pair.CollateralValuation,
			},
		})
	})
	if err == nil {
		o.logg.Info(ctx, "application matched")
	}
	return err
}
