package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credeo/lendmarket-backend/internal/valuation"
	"github.com/credeo/lendmarket-backend/pkg/logger"
)

type fakeMonitor struct {
	calls  int
	result *valuation.MonitorResult
	err    error
}

func (f *fakeMonitor) MonitorLtvRatios(_ context.Context, input valuation.MonitorInput) (*valuation.MonitorResult, error) {
	f.calls++
	if input.MonitoringDate.IsZero() {
		return nil, errors.New("monitoring date not set")
	}
	return f.result, f.err
}

func TestValuationMonitorJobRunsSweep(t *testing.T) {
	t.Parallel()

	monitor := &fakeMonitor{
		result: &valuation.MonitorResult{
			ProcessedLoans: 3,
			Threshold:      decimal.RequireFromString("0.75"),
			BreachedLoans: []valuation.BreachedLoan{
				{LoanID: uuid.New(), CurrentLtvRatio: decimal.RequireFromString("0.80")},
			},
		},
	}
	job, err := NewValuationMonitorJob(ValuationMonitorJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "cron-test"}),
		Monitor: monitor,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if got := job.Name(); got != "valuation-monitor" {
		t.Fatalf("job name = %q", got)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if monitor.calls != 1 {
		t.Fatalf("monitor calls = %d, want 1", monitor.calls)
	}
}

func TestValuationMonitorJobPropagatesFailure(t *testing.T) {
	t.Parallel()

	monitor := &fakeMonitor{err: errors.New("no platform config")}
	job, err := NewValuationMonitorJob(ValuationMonitorJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "cron-test"}),
		Monitor: monitor,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected sweep error to propagate")
	}
}
