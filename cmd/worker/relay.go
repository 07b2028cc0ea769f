package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/outbox"
)

const (
	defaultRelayPollInterval = 500 * time.Millisecond
	defaultRelayBatchSize    = 50
	defaultRelayMaxAttempts  = 10
	defaultPublishTimeout    = 15 * time.Second
	maxRelayBackoff          = 10 * time.Second
	relayJitterWindow        = 250 * time.Millisecond
)

type outboxStore interface {
	FetchUnpublished(limit int) ([]models.OutboxEvent, error)
	MarkPublished(id uuid.UUID) error
	MarkFailed(id uuid.UUID, err error) error
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) publishResult
}

// gcpPublisher adapts a pubsub publisher to the local publisher interface.
type gcpPublisher struct {
	pub *pubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) publishResult {
	return g.pub.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})
}

// RelayParams configures the outbox relay.
type RelayParams struct {
	Logger       *logger.Logger
	Store        outboxStore
	Publisher    publisher
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

// Relay drains unpublished outbox rows onto the marketplace topic. Rows are
// published at-least-once; consumers treat messages as triggers and tolerate
// redelivery.
type Relay struct {
	logg         *logger.Logger
	store        outboxStore
	pub          publisher
	batchSize    int
	pollInterval time.Duration
	maxAttempts  int
	rng          *rand.Rand
}

// NewRelay creates an outbox relay.
func NewRelay(p RelayParams) (*Relay, error) {
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.Store == nil {
		return nil, fmt.Errorf("outbox store required")
	}
	if p.Publisher == nil {
		return nil, fmt.Errorf("publisher required")
	}
	if p.BatchSize <= 0 {
		p.BatchSize = defaultRelayBatchSize
	}
	if p.PollInterval <= 0 {
		p.PollInterval = defaultRelayPollInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultRelayMaxAttempts
	}
	return &Relay{
		logg:         p.Logger,
		store:        p.Store,
		pub:          p.Publisher,
		batchSize:    p.BatchSize,
		pollInterval: p.PollInterval,
		maxAttempts:  p.MaxAttempts,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run polls the outbox until the context is cancelled. Empty polls back off
// exponentially up to maxRelayBackoff; batch errors do the same so a broken
// broker does not get hammered.
func (r *Relay) Run(ctx context.Context) error {
	delay := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		published, err := r.processBatch(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			delay = r.nextBackoff(delay)
		case published == 0:
			delay = r.nextBackoff(delay)
		default:
			delay = r.pollInterval
		}

		if err := r.sleep(ctx, r.withJitter(delay)); err != nil {
			return err
		}
	}
}

// processBatch publishes one batch of unpublished rows and returns how many
// made it to the topic.
func (r *Relay) processBatch(ctx context.Context) (int, error) {
	rows, err := r.store.FetchUnpublished(r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unpublished outbox rows: %w", err)
	}

	published := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		if row.AttemptCount >= r.maxAttempts {
			// Poison rows stay in the table for operators to inspect. Warn
			// once when the limit is first crossed, then stay quiet.
			if row.AttemptCount == r.maxAttempts {
				poisonCtx := r.logg.WithFields(ctx, map[string]any{
					"outbox_event_id": row.ID.String(),
					"event_type":      string(row.EventType),
					"attempt_count":   row.AttemptCount,
				})
				r.logg.Warn(poisonCtx, "outbox row exhausted publish attempts")
				if err := r.store.MarkFailed(row.ID, fmt.Errorf("publish attempts exhausted")); err != nil {
					r.logg.Error(poisonCtx, "failed to record exhausted outbox row", err)
				}
			}
			continue
		}
		if err := r.publishRow(ctx, row); err != nil {
			rowCtx := r.logg.WithFields(ctx, map[string]any{
				"outbox_event_id": row.ID.String(),
				"event_type":      string(row.EventType),
				"attempt_count":   row.AttemptCount,
				"error":           err.Error(),
			})
			r.logg.Warn(rowCtx, "outbox publish failed")
			if markErr := r.store.MarkFailed(row.ID, err); markErr != nil {
				r.logg.Error(rowCtx, "failed to record outbox publish failure", markErr)
			}
			continue
		}
		if err := r.store.MarkPublished(row.ID); err != nil {
			// The message is on the topic but the row stays unpublished, so it
			// will be re-sent next poll. Consumers are idempotent.
			r.logg.Error(ctx, "failed to mark outbox row published", err)
			continue
		}
		published++
	}
	return published, nil
}

func (r *Relay) publishRow(ctx context.Context, row models.OutboxEvent) error {
	eventID := row.ID.String()
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err == nil && envelope.EventID != "" {
		eventID = envelope.EventID
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := r.pub.Publish(publishCtx, row.Payload, map[string]string{
		"event_id":       eventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish outbox event: %w", err)
	}
	return nil
}

func (r *Relay) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxRelayBackoff {
		return maxRelayBackoff
	}
	return next
}

func (r *Relay) withJitter(d time.Duration) time.Duration {
	if relayJitterWindow <= 0 {
		return d
	}
	return d + time.Duration(r.rng.Int63n(int64(relayJitterWindow)))
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
