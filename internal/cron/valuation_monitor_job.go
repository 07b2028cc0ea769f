package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/credeo/lendmarket-backend/internal/valuation"
	"github.com/credeo/lendmarket-backend/pkg/logger"
)

// ValuationMonitorJobParams configure the margin-call sweep.
type ValuationMonitorJobParams struct {
	Logger  *logger.Logger
	Monitor ltvMonitor
}

type ltvMonitor interface {
	MonitorLtvRatios(ctx context.Context, input valuation.MonitorInput) (*valuation.MonitorResult, error)
}

// NewValuationMonitorJob builds the cron job that sweeps open loans for LTV breaches.
func NewValuationMonitorJob(params ValuationMonitorJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Monitor == nil {
		return nil, fmt.Errorf("valuation service required")
	}
	return &valuationMonitorJob{
		logg:    params.Logger,
		monitor: params.Monitor,
		now:     time.Now,
	}, nil
}

type valuationMonitorJob struct {
	logg    *logger.Logger
	monitor ltvMonitor
	now     func() time.Time
}

func (j *valuationMonitorJob) Name() string { return "valuation-monitor" }

func (j *valuationMonitorJob) Run(ctx context.Context) error {
	result, err := j.monitor.MonitorLtvRatios(ctx, valuation.MonitorInput{
		MonitoringDate: j.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("monitor ltv ratios: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"processed": result.ProcessedLoans,
		"breached":  len(result.BreachedLoans),
		"threshold": result.Threshold.String(),
	})
	j.logg.Info(logCtx, "ltv monitoring sweep complete")
	return nil
}
