package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/credeo/lendmarket-backend/internal/matching"
	"github.com/credeo/lendmarket-backend/pkg/logger"
)

const readinessTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type matcher interface {
	ProcessLoanMatching(ctx context.Context, input matching.ProcessMatchingInput) (*matching.MatchingRunResult, error)
}

// ServiceParams configures the marketplace worker.
type ServiceParams struct {
	Logger        *logger.Logger
	Consumer      runner
	Settlement    runner
	Relay         runner
	Matcher       matcher
	DB            pinger
	Redis         pinger
	PubSub        pinger
	SweepInterval time.Duration
	BatchSize     int
}

// Service runs the marketplace worker: the Pub/Sub consumer, the outbox
// relay, and a fallback matching sweep that catches work the event path
// missed.
type Service struct {
	logg          *logger.Logger
	consumer      runner
	settlement    runner
	relay         runner
	matcher       matcher
	db            pinger
	redis         pinger
	pubsub        pinger
	sweepInterval time.Duration
	batchSize     int
}

// NewService validates dependencies and creates the worker service.
func NewService(p ServiceParams) (*Service, error) {
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.Consumer == nil {
		return nil, fmt.Errorf("consumer required")
	}
	if p.Settlement == nil {
		return nil, fmt.Errorf("settlement consumer required")
	}
	if p.Relay == nil {
		return nil, fmt.Errorf("relay required")
	}
	if p.Matcher == nil {
		return nil, fmt.Errorf("matcher required")
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = time.Minute
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 50
	}
	return &Service{
		logg:          p.Logger,
		consumer:      p.Consumer,
		settlement:    p.Settlement,
		relay:         p.Relay,
		matcher:       p.Matcher,
		db:            p.DB,
		redis:         p.Redis,
		pubsub:        p.PubSub,
		sweepInterval: p.SweepInterval,
		batchSize:     p.BatchSize,
	}, nil
}

// Run blocks until the context is cancelled or one of the loops fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 4)

	go func() {
		errCh <- s.consumer.Run(ctx)
	}()
	go func() {
		errCh <- s.settlement.Run(ctx)
	}()
	go func() {
		errCh <- s.relay.Run(ctx)
	}()
	go func() {
		errCh <- s.runSweepLoop(ctx)
	}()

	s.logg.Info(ctx, "marketplace worker started")

	err := <-errCh
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runSweepLoop is the safety net behind the event-driven path. It re-runs
// matching on a fixed interval so listings still match if a message is lost
// or the topic is quiet.
func (s *Service) runSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.runSweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				s.logg.Error(ctx, "fallback matching sweep failed", err)
			}
		}
	}
}

func (s *Service) runSweep(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := s.matcher.ProcessLoanMatching(ctx, matching.ProcessMatchingInput{
			BatchSize: s.batchSize,
			AsOfDate:  time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if result.MatchedPairs > 0 || len(result.Skipped) > 0 {
			sweepCtx := s.logg.WithFields(ctx, map[string]any{
				"matched": result.MatchedPairs,
				"skipped": len(result.Skipped),
				"event":   "matching.sweep",
			})
			s.logg.Info(sweepCtx, "fallback matching sweep batch processed")
		}
		if !result.HasMore {
			return nil
		}
	}
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	checks := []struct {
		name string
		p    pinger
	}{
		{name: "postgres", p: s.db},
		{name: "redis", p: s.redis},
		{name: "pubsub", p: s.pubsub},
	}
	for _, check := range checks {
		if check.p == nil {
			continue
		}
		if err := s.pingDependency(ctx, check.name, check.p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) pingDependency(ctx context.Context, name string, p pinger) error {
	pingCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		return fmt.Errorf("%s not ready: %w", name, err)
	}
	return nil
}
