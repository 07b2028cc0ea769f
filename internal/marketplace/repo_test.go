package marketplace

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/pkg/db/models"
	dbtypes "github.com/credeo/lendmarket-backend/pkg/db/types"
	"github.com/credeo/lendmarket-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:marketplace_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.LoanOffer{}, &models.LoanApplication{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedPublishedOffer(t *testing.T, db *gorm.DB, offered int64) models.LoanOffer {
	t.Helper()
	now := time.Now().UTC()
	offer := models.LoanOffer{
		ID:                     uuid.New(),
		LenderUserID:           uuid.New(),
		PrincipalCurrencyID:    uuid.New(),
		Status:                 enums.LoanOfferStatusPublished,
		OfferedPrincipalAmount: decimal.NewFromInt(offered),
		InterestRate:           decimal.RequireFromString("0.10"),
		TermMonthsOptions:      dbtypes.IntArray{6, 12},
		MinLoanAmount:          decimal.NewFromInt(1),
		MaxLoanAmount:          decimal.NewFromInt(offered),
		FundingInvoiceID:       uuid.New(),
		PublishedAt:            &now,
	}
	if err := db.Create(&offer).Error; err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	return offer
}

func TestReservePrincipalGuardsAvailability(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	repo := NewOfferRepository(db)
	offer := seedPublishedOffer(t, db, 100)

	ok, err := repo.ReservePrincipal(ctx, offer.ID, decimal.NewFromInt(60))
	if err != nil || !ok {
		t.Fatalf("first reserve: ok=%v err=%v", ok, err)
	}

	// 60 already reserved, only 40 left
	ok, err = repo.ReservePrincipal(ctx, offer.ID, decimal.NewFromInt(60))
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if ok {
		t.Fatal("expected second reserve of 60 against 40 available to be rejected")
	}

	var got models.LoanOffer
	if err := db.First(&got, "id = ?", offer.ID).Error; err != nil {
		t.Fatalf("load offer: %v", err)
	}
	if !got.ReservedPrincipalAmount.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("reserved = %s, want 60", got.ReservedPrincipalAmount)
	}
	if !got.AvailablePrincipalAmount().Equal(decimal.NewFromInt(40)) {
		t.Fatalf("available = %s, want 40", got.AvailablePrincipalAmount())
	}
}

func TestReservePrincipalAllowsExactAvailable(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	repo := NewOfferRepository(db)
	offer := seedPublishedOffer(t, db, 100)

	// the availability guard compares an expression against the bound
	// amount, so it must hold at the boundary on every backend
	ok, err := repo.ReservePrincipal(ctx, offer.ID, decimal.NewFromInt(100))
	if err != nil || !ok {
		t.Fatalf("reserve of full available amount: ok=%v err=%v", ok, err)
	}

	var got models.LoanOffer
	if err := db.First(&got, "id = ?", offer.ID).Error; err != nil {
		t.Fatalf("load offer: %v", err)
	}
	if !got.AvailablePrincipalAmount().IsZero() {
		t.Fatalf("available = %s, want 0", got.AvailablePrincipalAmount())
	}

	ok, err = repo.ReservePrincipal(ctx, offer.ID, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("reserve on exhausted offer: %v", err)
	}
	if ok {
		t.Fatal("expected reserve on exhausted offer to be rejected")
	}
}

func TestDisburseReservedNeverGoesNegative(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	repo := NewOfferRepository(db)
	offer := seedPublishedOffer(t, db, 100)

	if ok, err := repo.ReservePrincipal(ctx, offer.ID, decimal.NewFromInt(50)); err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}

	ok, err := repo.DisburseReserved(ctx, offer.ID, decimal.NewFromInt(80))
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if ok {
		t.Fatal("expected disburse above reserved to be rejected")
	}

	if ok, err = repo.DisburseReserved(ctx, offer.ID, decimal.NewFromInt(50)); err != nil || !ok {
		t.Fatalf("disburse reserved: ok=%v err=%v", ok, err)
	}

	var got models.LoanOffer
	if err := db.First(&got, "id = ?", offer.ID).Error; err != nil {
		t.Fatalf("load offer: %v", err)
	}
	if !got.ReservedPrincipalAmount.IsZero() {
		t.Fatalf("reserved = %s, want 0", got.ReservedPrincipalAmount)
	}
	if !got.DisbursedPrincipalAmount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("disbursed = %s, want 50", got.DisbursedPrincipalAmount)
	}
	if !got.AvailablePrincipalAmount().Equal(decimal.NewFromInt(50)) {
		t.Fatalf("available = %s, want 50", got.AvailablePrincipalAmount())
	}
}

func TestMarkMatchedOnlyFromPublished(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	repo := NewApplicationRepository(db)
	now := time.Now().UTC()

	app := models.LoanApplication{
		ID:                   uuid.New(),
		BorrowerUserID:       uuid.New(),
		PrincipalCurrencyID:  uuid.New(),
		PrincipalAmount:      decimal.NewFromInt(5_000_000),
		MaxInterestRate:      decimal.RequireFromString("0.12"),
		MinLtvRatio:          decimal.RequireFromString("0.4"),
		MaxLtvRatio:          decimal.RequireFromString("0.7"),
		TermMonths:           6,
		LiquidationMode:      enums.LiquidationModeSellAll,
		CollateralCurrencyID: uuid.New(),
		CollateralAmount:     decimal.NewFromInt(10_000_000),
		CollateralInvoiceID:  uuid.New(),
		Status:               enums.LoanApplicationStatusPublished,
		PublishedAt:          &now,
	}
	if err := db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}

	offerID := uuid.New()
	ltv := decimal.RequireFromString("0.5")
	valuation := decimal.NewFromInt(10_000_000)

	ok, err := repo.MarkMatched(ctx, app.ID, offerID, ltv, valuation)
	if err != nil || !ok {
		t.Fatalf("match: ok=%v err=%v", ok, err)
	}

	// already matched, a second worker must lose
	ok, err = repo.MarkMatched(ctx, app.ID, uuid.New(), ltv, valuation)
	if err != nil {
		t.Fatalf("rematch: %v", err)
	}
	if ok {
		t.Fatal("expected matched application to be unmatched again")
	}

	var got models.LoanApplication
	if err := db.First(&got, "id = ?", app.ID).Error; err != nil {
		t.Fatalf("load application: %v", err)
	}
	if got.Status != enums.LoanApplicationStatusMatched {
		t.Fatalf("status = %s, want matched", got.Status)
	}
	if got.MatchedLoanOfferID == nil || *got.MatchedLoanOfferID != offerID {
		t.Fatalf("matched offer id = %v, want %s", got.MatchedLoanOfferID, offerID)
	}
	if got.MatchedLtvRatio == nil || !got.MatchedLtvRatio.Equal(ltv) {
		t.Fatalf("matched ltv = %v, want %s", got.MatchedLtvRatio, ltv)
	}
}

func TestExpireLeavesTerminalStatesAlone(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	repo := NewApplicationRepository(db)

	app := models.LoanApplication{
		ID:                   uuid.New(),
		BorrowerUserID:       uuid.New(),
		PrincipalCurrencyID:  uuid.New(),
		PrincipalAmount:      decimal.NewFromInt(100),
		MaxInterestRate:      decimal.RequireFromString("0.12"),
		MinLtvRatio:          decimal.RequireFromString("0.4"),
		MaxLtvRatio:          decimal.RequireFromString("0.7"),
		TermMonths:           6,
		LiquidationMode:      enums.LiquidationModeSellPartial,
		CollateralCurrencyID: uuid.New(),
		CollateralAmount:     decimal.NewFromInt(200),
		CollateralInvoiceID:  uuid.New(),
		Status:               enums.LoanApplicationStatusMatched,
	}
	if err := db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}

	ok, err := repo.Expire(ctx, app.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if ok {
		t.Fatal("expected matched application to be untouched by expiry")
	}
}
