package liquidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/internal/loans"
	dbpkg "github.com/credeo/lendmarket-backend/pkg/db"
	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/outbox"
)

type fixture struct {
	db  *gorm.DB
	svc Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dsn := "file:liquidation_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = conn.AutoMigrate(&models.Loan{}, &models.LoanLiquidation{}, &models.OutboxEvent{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "liquidation-test"})
	svc, err := NewService(
		dbpkg.FromGorm(conn),
		NewRepository(conn),
		loans.NewRepository(conn),
		outbox.NewService(outbox.NewRepository(conn), logg),
		logg,
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return fixture{db: conn, svc: svc}
}

func seedLoan(t *testing.T, conn *gorm.DB, status enums.LoanStatus) models.Loan {
	t.Helper()
	loan := models.Loan{
		ID:                   uuid.New(),
		LoanOfferID:          uuid.New(),
		LoanApplicationID:    uuid.New(),
		LenderUserID:         uuid.New(),
		BorrowerUserID:       uuid.New(),
		Status:               status,
		PrincipalCurrencyID:  uuid.New(),
		PrincipalAmount:      decimal.NewFromInt(1_000_000),
		InterestAmount:       decimal.NewFromInt(50_000),
		RepaymentAmount:      decimal.NewFromInt(1_050_000),
		CollateralCurrencyID: uuid.New(),
		CollateralAmount:     decimal.NewFromInt(2_000_000),
		McLtvRatio:           decimal.RequireFromString("0.75"),
		OriginationDate:      time.Now().UTC(),
		MaturityDate:         time.Now().UTC().AddDate(0, 6, 0),
	}
	if err := conn.Create(&loan).Error; err != nil {
		t.Fatalf("seed loan: %v", err)
	}
	return loan
}

func liquidateInput(loanID uuid.UUID, orderRef string) LiquidateCollateralInput {
	return LiquidateCollateralInput{
		LoanID:                  loanID,
		LiquidationTargetAmount: decimal.NewFromInt(1_050_000),
		MarketProvider:          "binance",
		MarketSymbol:            "ETHUSDT",
		OrderRef:                orderRef,
		OrderQuantity:           decimal.RequireFromString("0.85"),
		OrderPrice:              decimal.RequireFromString("1235294.11"),
		OrderDate:               time.Now().UTC(),
		Initiator:               "ltv-monitor",
	}
}

func TestLiquidateCollateralOncePerLoan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	loan := seedLoan(t, f.db, enums.LoanStatusActive)

	record, err := f.svc.LiquidateCollateral(ctx, liquidateInput(loan.ID, "order-1"))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if record.OrderStatus != enums.LiquidationOrderStatusPending {
		t.Fatalf("status = %s, want pending", record.OrderStatus)
	}

	_, err = f.svc.LiquidateCollateral(ctx, liquidateInput(loan.ID, "order-2"))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}

	// the first record stays untouched
	var got models.LoanLiquidation
	if err := f.db.First(&got, "loan_id = ?", loan.ID).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if got.OrderRef != "order-1" {
		t.Fatalf("order ref = %s, want order-1", got.OrderRef)
	}

	var events int64
	err = f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventLoanLiquidating, loan.ID).
		Count(&events).Error
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("loan.liquidating events = %d, want 1", events)
	}
}

func TestLiquidateCollateralRequiresOpenLoan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for _, status := range []enums.LoanStatus{enums.LoanStatusRepaid, enums.LoanStatusLiquidated, enums.LoanStatusDefaulted} {
		loan := seedLoan(t, f.db, status)
		_, err := f.svc.LiquidateCollateral(ctx, liquidateInput(loan.ID, "order-x"))
		if !errors.Is(err, ErrInvalidLoanState) {
			t.Fatalf("status %s: err = %v, want ErrInvalidLoanState", status, err)
		}
	}
}

func TestResolveOrderFillLiquidatesLoan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	loan := seedLoan(t, f.db, enums.LoanStatusActive)

	if _, err := f.svc.LiquidateCollateral(ctx, liquidateInput(loan.ID, "order-1")); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	filled := decimal.NewFromInt(1_050_000)
	record, err := f.svc.ResolveOrder(ctx, ResolveOrderInput{
		LoanID:       loan.ID,
		Filled:       true,
		FilledAmount: &filled,
		ResolvedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if record.OrderStatus != enums.LiquidationOrderStatusFilled {
		t.Fatalf("order status = %s, want filled", record.OrderStatus)
	}
	if record.FilledAmount == nil || !record.FilledAmount.Equal(filled) {
		t.Fatalf("filled amount = %v, want %s", record.FilledAmount, filled)
	}

	var gotLoan models.Loan
	if err := f.db.First(&gotLoan, "id = ?", loan.ID).Error; err != nil {
		t.Fatalf("load loan: %v", err)
	}
	if gotLoan.Status != enums.LoanStatusLiquidated {
		t.Fatalf("loan status = %s, want liquidated", gotLoan.Status)
	}

	// already resolved
	_, err = f.svc.ResolveOrder(ctx, ResolveOrderInput{LoanID: loan.ID, Filled: false})
	if err == nil {
		t.Fatal("expected second resolve to fail")
	}
}

func TestResolveOrderFailureKeepsLoanOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	loan := seedLoan(t, f.db, enums.LoanStatusActive)

	if _, err := f.svc.LiquidateCollateral(ctx, liquidateInput(loan.ID, "order-1")); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	record, err := f.svc.ResolveOrder(ctx, ResolveOrderInput{LoanID: loan.ID, Filled: false})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if record.OrderStatus != enums.LiquidationOrderStatusFailed {
		t.Fatalf("order status = %s, want failed", record.OrderStatus)
	}

	var gotLoan models.Loan
	if err := f.db.First(&gotLoan, "id = ?", loan.ID).Error; err != nil {
		t.Fatalf("load loan: %v", err)
	}
	if gotLoan.Status != enums.LoanStatusActive {
		t.Fatalf("loan status = %s, want still active", gotLoan.Status)
	}
}
