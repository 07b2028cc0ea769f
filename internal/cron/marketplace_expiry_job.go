package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/internal/marketplace"
	"github.com/credeo/lendmarket-backend/pkg/enums"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/outbox"
	"github.com/credeo/lendmarket-backend/pkg/outbox/payloads"
)

const expiryBatchSize = 100

// MarketplaceExpiryJobParams configure the listing expiration scheduler.
type MarketplaceExpiryJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Offers       marketplace.OfferRepository
	Applications marketplace.ApplicationRepository
	Outbox       outboxEmitter
	BatchSize    int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// NewMarketplaceExpiryJob builds the cron job that retires stale offers and applications.
func NewMarketplaceExpiryJob(params MarketplaceExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Offers == nil {
		return nil, fmt.Errorf("offer repository required")
	}
	if params.Applications == nil {
		return nil, fmt.Errorf("application repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = expiryBatchSize
	}
	return &marketplaceExpiryJob{
		logg:         params.Logger,
		db:           params.DB,
		offers:       params.Offers,
		applications: params.Applications,
		outbox:       params.Outbox,
		batch:        batch,
		now:          time.Now,
	}, nil
}

type marketplaceExpiryJob struct {
	logg         *logger.Logger
	db           txRunner
	offers       marketplace.OfferRepository
	applications marketplace.ApplicationRepository
	outbox       outboxEmitter
	batch        int
	now          func() time.Time
}

func (j *marketplaceExpiryJob) Name() string { return "marketplace-expiry" }

func (j *marketplaceExpiryJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.expireOffers(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.expireApplications(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *marketplaceExpiryJob) expireOffers(ctx context.Context) error {
	asOf := j.now().UTC()
	count := 0
	for {
		offers, err := j.offers.ListExpiredPublished(ctx, asOf, j.batch)
		if err != nil {
			return fmt.Errorf("query expired offers: %w", err)
		}
		for _, offer := range offers {
			if err := ctx.Err(); err != nil {
				return err
			}
			expired, err := j.expireOffer(ctx, offer.ID, asOf)
			if err != nil {
				return err
			}
			if expired {
				count++
			}
		}
		if len(offers) < j.batch {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count})
	j.logg.Info(logCtx, "offer expiration loop complete")
	return nil
}

func (j *marketplaceExpiryJob) expireOffer(ctx context.Context, offerID uuid.UUID, asOf time.Time) (bool, error) {
	expired := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.offers.WithTx(tx).Expire(ctx, offerID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		expired = true
		event := outbox.DomainEvent{
			EventType:     enums.EventOfferExpired,
			AggregateType: enums.AggregateLoanOffer,
			AggregateID:   offerID,
			Version:       1,
			OccurredAt:    asOf,
			Data: payloads.MarketplaceExpiredEvent{
				AggregateID: offerID,
				ExpiredAt:   asOf,
			},
		}
		return j.outbox.Emit(ctx, tx, event)
	})
	return expired, err
}

func (j *marketplaceExpiryJob) expireApplications(ctx context.Context) error {
	asOf := j.now().UTC()
	count := 0
	for {
		applications, err := j.applications.ListExpiredOpen(ctx, asOf, j.batch)
		if err != nil {
			return fmt.Errorf("query expired applications: %w", err)
		}
		for _, application := range applications {
			if err := ctx.Err(); err != nil {
				return err
			}
			expired, err := j.expireApplication(ctx, application.ID, asOf)
			if err != nil {
				return err
			}
			if expired {
				count++
			}
		}
		if len(applications) < j.batch {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count})
	j.logg.Info(logCtx, "application expiration loop complete")
	return nil
}

func (j *marketplaceExpiryJob) expireApplication(ctx context.Context, applicationID uuid.UUID, asOf time.Time) (bool, error) {
	expired := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.applications.WithTx(tx).Expire(ctx, applicationID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		expired = true
		event := outbox.DomainEvent{
			EventType:     enums.EventApplicationExpired,
			AggregateType: enums.AggregateLoanApplication,
			AggregateID:   applicationID,
			Version:       1,
			OccurredAt:    asOf,
			Data: payloads.MarketplaceExpiredEvent{
				AggregateID: applicationID,
				ExpiredAt:   asOf,
			},
		}
		return j.outbox.Emit(ctx, tx, event)
	})
	return expired, err
}
