package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/internal/loans"
	"github.com/credeo/lendmarket-backend/internal/marketplace"
	"github.com/credeo/lendmarket-backend/internal/valuation"
	"github.com/credeo/lendmarket-backend/pkg/config"
	dbpkg "github.com/credeo/lendmarket-backend/pkg/db"
	"github.com/credeo/lendmarket-backend/pkg/db/models"
	dbtypes "github.com/credeo/lendmarket-backend/pkg/db/types"
	"github.com/credeo/lendmarket-backend/pkg/enums"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/outbox"
	"github.com/credeo/lendmarket-backend/pkg/types"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type fixture struct {
	db      *gorm.DB
	handler http.Handler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dsn := "file:routes_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = conn.AutoMigrate(
		&models.Loan{},
		&models.LoanOffer{},
		&models.LoanApplication{},
		&models.LoanValuation{},
		&models.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "routes-test"})
	loanService, err := loans.NewService(
		dbpkg.FromGorm(conn),
		loans.NewRepository(conn),
		marketplace.NewOfferRepository(conn),
		marketplace.NewApplicationRepository(conn),
		valuation.NewRepository(conn),
		outbox.NewService(outbox.NewRepository(conn), logg),
		logg,
	)
	if err != nil {
		t.Fatalf("loan service: %v", err)
	}

	cfg := &config.Config{}
	cfg.App.Env = "test"
	handler := NewRouter(cfg, logg, stubPinger{}, stubPinger{}, loanService, marketplace.NewOfferRepository(conn))
	return fixture{db: conn, handler: handler}
}

func (f fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func seedLoan(t *testing.T, db *gorm.DB, status enums.LoanStatus) models.Loan {
	t.Helper()
	now := time.Now().UTC()
	loan := models.Loan{
		ID:                   uuid.New(),
		LoanOfferID:          uuid.New(),
		LoanApplicationID:    uuid.New(),
		LenderUserID:         uuid.New(),
		BorrowerUserID:       uuid.New(),
		Status:               status,
		PrincipalCurrencyID:  uuid.New(),
		PrincipalAmount:      decimal.NewFromInt(5_000_000),
		InterestAmount:       decimal.NewFromInt(250_000),
		RepaymentAmount:      decimal.NewFromInt(5_250_000),
		CollateralCurrencyID: uuid.New(),
		CollateralAmount:     decimal.NewFromInt(100_000_000),
		McLtvRatio:           decimal.RequireFromString("0.75"),
		OriginationDate:      now,
		MaturityDate:         now.Add(6 * 30 * 24 * time.Hour),
	}
	if err := db.Create(&loan).Error; err != nil {
		t.Fatalf("seed loan: %v", err)
	}
	return loan
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope types.SuccessEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	data, ok := envelope.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected data payload %T", envelope.Data)
	}
	return data
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if rec := f.get(t, "/health/live"); rec.Code != http.StatusOK {
		t.Fatalf("live status = %d", rec.Code)
	}
	rec := f.get(t, "/health/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-LendMarket-Env"); got != "test" {
		t.Fatalf("env header = %q", got)
	}
}

func TestGetLoanByID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	loan := seedLoan(t, f.db, enums.LoanStatusActive)

	rec := f.get(t, "/api/v1/loans/"+loan.ID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["id"] != loan.ID.String() {
		t.Fatalf("id = %v", data["id"])
	}
	if data["principal_amount"] != "5000000" {
		t.Fatalf("principal_amount = %v", data["principal_amount"])
	}

	if rec := f.get(t, "/api/v1/loans/"+uuid.NewString()); rec.Code != http.StatusNotFound {
		t.Fatalf("missing loan status = %d", rec.Code)
	}
	if rec := f.get(t, "/api/v1/loans/not-a-uuid"); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id status = %d", rec.Code)
	}
}

func TestListLoansFiltersByStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seedLoan(t, f.db, enums.LoanStatusActive)
	seedLoan(t, f.db, enums.LoanStatusActive)
	seedLoan(t, f.db, enums.LoanStatusRepaid)

	rec := f.get(t, "/api/v1/loans?status=active")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	items, ok := data["loans"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("loans = %v", data["loans"])
	}

	if rec := f.get(t, "/api/v1/loans?status=bogus"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus status filter = %d", rec.Code)
	}
	if rec := f.get(t, "/api/v1/loans?limit=9999"); rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized limit = %d", rec.Code)
	}
}

func TestLoanValuationsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	loan := seedLoan(t, f.db, enums.LoanStatusActive)
	val := models.LoanValuation{
		ID:                        uuid.New(),
		LoanID:                    loan.ID,
		ExchangeRateID:            uuid.New(),
		CollateralValuationAmount: decimal.NewFromInt(9_000_000),
		LtvRatio:                  decimal.RequireFromString("0.55555556"),
		ValuationDate:             time.Now().UTC(),
	}
	if err := f.db.Create(&val).Error; err != nil {
		t.Fatalf("seed valuation: %v", err)
	}

	rec := f.get(t, "/api/v1/loans/"+loan.ID.String()+"/valuations")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	items, ok := data["valuations"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("valuations = %v", data["valuations"])
	}

	if rec := f.get(t, "/api/v1/loans/"+uuid.NewString()+"/valuations"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing loan valuations status = %d", rec.Code)
	}
}

func TestGetOffer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Now().UTC()
	offer := models.LoanOffer{
		ID:                      uuid.New(),
		LenderUserID:            uuid.New(),
		PrincipalCurrencyID:     uuid.New(),
		Status:                  enums.LoanOfferStatusPublished,
		OfferedPrincipalAmount:  decimal.NewFromInt(10_000_000),
		ReservedPrincipalAmount: decimal.NewFromInt(2_000_000),
		InterestRate:            decimal.RequireFromString("0.10"),
		TermMonthsOptions:       dbtypes.IntArray{6, 12},
		MinLoanAmount:           decimal.NewFromInt(1),
		MaxLoanAmount:           decimal.NewFromInt(10_000_000),
		FundingInvoiceID:        uuid.New(),
		PublishedAt:             &now,
	}
	if err := f.db.Create(&offer).Error; err != nil {
		t.Fatalf("seed offer: %v", err)
	}

	rec := f.get(t, "/api/v1/offers/"+offer.ID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["available_principal_amount"] != "8000000" {
		t.Fatalf("available = %v", data["available_principal_amount"])
	}

	if rec := f.get(t, "/api/v1/offers/"+uuid.NewString()); rec.Code != http.StatusNotFound {
		t.Fatalf("missing offer status = %d", rec.Code)
	}
}
