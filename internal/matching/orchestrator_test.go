package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/internal/marketplace"
	"github.com/credeo/lendmarket-backend/internal/rates"
	dbpkg "github.com/credeo/lendmarket-backend/pkg/db"
	"github.com/credeo/lendmarket-backend/pkg/db/models"
	dbtypes "github.com/credeo/lendmarket-backend/pkg/db/types"
	"github.com/credeo/lendmarket-backend/pkg/enums"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/outbox"
)

type staticRates struct {
	rate decimal.Decimal
}

func (s staticRates) LatestRate(ctx context.Context, collateralCurrencyID, principalCurrencyID uuid.UUID) (*rates.Rate, error) {
	return &rates.Rate{ID: uuid.New(), Rate: s.rate, AsOf: time.Now().UTC()}, nil
}

func newOrchestratorDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:matching_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = conn.AutoMigrate(&models.LoanOffer{}, &models.LoanApplication{}, &models.OutboxEvent{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func newOrchestrator(t *testing.T, conn *gorm.DB, strategy Strategy, provider rates.Provider) Orchestrator {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "matching-test"})
	orc, err := NewOrchestrator(
		dbpkg.FromGorm(conn),
		marketplace.NewOfferRepository(conn),
		marketplace.NewApplicationRepository(conn),
		strategy,
		provider,
		outbox.NewService(outbox.NewRepository(conn), logg),
		nil,
		logg,
	)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orc
}

func seedMarketplace(t *testing.T, conn *gorm.DB, currency uuid.UUID, offered, principal, collateral int64) (models.LoanOffer, models.LoanApplication) {
	t.Helper()
	now := time.Now().UTC().Add(-time.Minute)

	offer := models.LoanOffer{
		ID:                     uuid.New(),
		LenderUserID:           uuid.New(),
		PrincipalCurrencyID:    currency,
		Status:                 enums.LoanOfferStatusPublished,
		OfferedPrincipalAmount: decimal.NewFromInt(offered),
		InterestRate:           decimal.RequireFromString("0.10"),
		TermMonthsOptions:      dbtypes.IntArray{6, 12},
		MinLoanAmount:          decimal.NewFromInt(1),
		MaxLoanAmount:          decimal.NewFromInt(offered),
		FundingInvoiceID:       uuid.New(),
		PublishedAt:            &now,
	}
	if err := conn.Create(&offer).Error; err != nil {
		t.Fatalf("seed offer: %v", err)
	}

	app := models.LoanApplication{
		ID:                   uuid.New(),
		BorrowerUserID:       uuid.New(),
		PrincipalCurrencyID:  currency,
		PrincipalAmount:      decimal.NewFromInt(principal),
		MaxInterestRate:      decimal.RequireFromString("0.12"),
		MinLtvRatio:          decimal.RequireFromString("0.4"),
		MaxLtvRatio:          decimal.RequireFromString("0.7"),
		TermMonths:           6,
		LiquidationMode:      enums.LiquidationModeSellAll,
		CollateralCurrencyID: uuid.New(),
		CollateralAmount:     decimal.NewFromInt(collateral),
		CollateralInvoiceID:  uuid.New(),
		Status:               enums.LoanApplicationStatusPublished,
		PublishedAt:          &now,
	}
	if err := conn.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}
	return offer, app
}

func TestProcessLoanMatchingReservesAndMatches(t *testing.T) {
	t.Parallel()

	conn := newOrchestratorDB(t)
	currency := uuid.New()
	offer, app := seedMarketplace(t, conn, currency, 10_000_000, 5_000_000, 10_000_000)

	orc := newOrchestrator(t, conn, LowestRateStrategy{}, staticRates{rate: decimal.NewFromInt(1)})
	result, err := orc.ProcessLoanMatching(context.Background(), ProcessMatchingInput{BatchSize: 10})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.MatchedPairs != 1 || len(result.Skipped) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.HasMore {
		t.Fatal("expected HasMore=false for a partial batch")
	}

	var gotOffer models.LoanOffer
	if err := conn.First(&gotOffer, "id = ?", offer.ID).Error; err != nil {
		t.Fatalf("load offer: %v", err)
	}
	if !gotOffer.ReservedPrincipalAmount.Equal(decimal.NewFromInt(5_000_000)) {
		t.Fatalf("reserved = %s, want 5000000", gotOffer.ReservedPrincipalAmount)
	}
	if !gotOffer.AvailablePrincipalAmount().Equal(decimal.NewFromInt(5_000_000)) {
		t.Fatalf("available = %s, want 5000000", gotOffer.AvailablePrincipalAmount())
	}

	var gotApp models.LoanApplication
	if err := conn.First(&gotApp, "id = ?", app.ID).Error; err != nil {
		t.Fatalf("load application: %v", err)
	}
	if gotApp.Status != enums.LoanApplicationStatusMatched {
		t.Fatalf("application status = %s, want matched", gotApp.Status)
	}
	if gotApp.MatchedLoanOfferID == nil || *gotApp.MatchedLoanOfferID != offer.ID {
		t.Fatalf("matched offer = %v, want %s", gotApp.MatchedLoanOfferID, offer.ID)
	}
	if gotApp.MatchedLtvRatio == nil || !gotApp.MatchedLtvRatio.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("matched ltv = %v, want 0.5", gotApp.MatchedLtvRatio)
	}

	var events int64
	err = conn.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventApplicationMatched, app.ID).
		Count(&events).Error
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("application.matched events = %d, want 1", events)
	}
}

// greedyStrategy proposes every application against the first offer without
// consuming capacity, standing in for a second worker racing the same offer.
type greedyStrategy struct{}

func (greedyStrategy) Name() string { return "greedy" }

func (greedyStrategy) Match(offers []models.LoanOffer, applications []models.LoanApplication, criteria MatchCriteria) []CandidatePair {
	var pairs []CandidatePair
	for _, app := range applications {
		pairs = append(pairs, CandidatePair{
			ApplicationID:       app.ID,
			OfferID:             offers[0].ID,
			PrincipalAmount:     app.PrincipalAmount,
			LtvRatio:            decimal.RequireFromString("0.5"),
			CollateralValuation: criteria.CollateralValuations[app.ID],
		})
	}
	return pairs
}

func TestProcessLoanMatchingNeverOverbooks(t *testing.T) {
	t.Parallel()

	conn := newOrchestratorDB(t)
	currency := uuid.New()
	offer, _ := seedMarketplace(t, conn, currency, 100, 60, 120)
	_, second := seedMarketplace(t, conn, currency, 0, 60, 120)
	// the zero-capacity offer only exists to create the second application;
	// retire it so the greedy strategy sees a single offer
	if err := conn.Model(&models.LoanOffer{}).
		Where("offered_principal_amount = 0").
		Update("status", enums.LoanOfferStatusClosed).Error; err != nil {
		t.Fatalf("retire helper offer: %v", err)
	}

	orc := newOrchestrator(t, conn, greedyStrategy{}, staticRates{rate: decimal.NewFromInt(1)})
	result, err := orc.ProcessLoanMatching(context.Background(), ProcessMatchingInput{BatchSize: 10})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if result.MatchedPairs != 1 {
		t.Fatalf("matched = %d, want exactly 1", result.MatchedPairs)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != "offer_capacity" {
		t.Fatalf("skips = %+v, want one offer_capacity skip", result.Skipped)
	}

	var gotOffer models.LoanOffer
	if err := conn.First(&gotOffer, "id = ?", offer.ID).Error; err != nil {
		t.Fatalf("load offer: %v", err)
	}
	if !gotOffer.ReservedPrincipalAmount.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("reserved = %s, want 60", gotOffer.ReservedPrincipalAmount)
	}

	var matchedCount int64
	err = conn.Model(&models.LoanApplication{}).
		Where("status = ?", enums.LoanApplicationStatusMatched).
		Count(&matchedCount).Error
	if err != nil {
		t.Fatalf("count matched: %v", err)
	}
	if matchedCount != 1 {
		t.Fatalf("matched applications = %d, want 1", matchedCount)
	}
	_ = second
}

// cancellingStrategy cancels the run once candidates are selected, so the
// cancellation lands between candidate selection and the pair transactions.
type cancellingStrategy struct {
	inner  Strategy
	cancel context.CancelFunc
}

func (s cancellingStrategy) Name() string { return "cancelling" }

func (s cancellingStrategy) Match(offers []models.LoanOffer, applications []models.LoanApplication, criteria MatchCriteria) []CandidatePair {
	pairs := s.inner.Match(offers, applications, criteria)
	s.cancel()
	return pairs
}

func TestProcessLoanMatchingStopsOnCancel(t *testing.T) {
	t.Parallel()

	conn := newOrchestratorDB(t)
	currency := uuid.New()
	_, app := seedMarketplace(t, conn, currency, 1_000, 100, 200)

	ctx, cancel := context.WithCancel(context.Background())
	strategy := cancellingStrategy{inner: LowestRateStrategy{}, cancel: cancel}

	orc := newOrchestrator(t, conn, strategy, staticRates{rate: decimal.NewFromInt(1)})
	result, err := orc.ProcessLoanMatching(ctx, ProcessMatchingInput{BatchSize: 10})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result == nil {
		t.Fatal("expected partial result alongside the cancellation error")
	}
	if result.CandidatePairs != 1 || result.MatchedPairs != 0 {
		t.Fatalf("candidates = %d matched = %d, want 1 candidate and 0 matches", result.CandidatePairs, result.MatchedPairs)
	}

	// the selected pair must not have committed
	var gotApp models.LoanApplication
	if err := conn.First(&gotApp, "id = ?", app.ID).Error; err != nil {
		t.Fatalf("load application: %v", err)
	}
	if gotApp.Status != enums.LoanApplicationStatusPublished {
		t.Fatalf("application status = %s, want published", gotApp.Status)
	}
}
