package marketplace

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/credeo/lendmarket-backend/internal/matching"
	"github.com/credeo/lendmarket-backend/pkg/enums"
	"github.com/credeo/lendmarket-backend/pkg/logger"
)

type matcher interface {
	ProcessLoanMatching(ctx context.Context, input matching.ProcessMatchingInput) (*matching.MatchingRunResult, error)
}

// Consumer reacts to marketplace events by draining the matching queue.
// Matching itself re-validates everything transactionally, so a message is
// only a trigger; redelivery is harmless.
type Consumer struct {
	matcher      matcher
	subscription *pubsub.Subscriber
	batchSize    int
	logg         *logger.Logger
	triggers     map[enums.OutboxEventType]struct{}
	now          func() time.Time
}

// NewConsumer builds a consumer bound to the marketplace subscription.
func NewConsumer(m matcher, subscription *pubsub.Subscriber, batchSize int, logg *logger.Logger) (*Consumer, error) {
	if m == nil {
		return nil, errors.New("matching orchestrator required")
	}
	if subscription == nil {
		return nil, errors.New("marketplace subscription required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Consumer{
		matcher:      m,
		subscription: subscription,
		batchSize:    batchSize,
		logg:         logg,
		triggers: map[enums.OutboxEventType]struct{}{
			enums.EventOfferPublished:       {},
			enums.EventApplicationPublished: {},
		},
		now: time.Now,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := c.Process(ctx, msg.Attributes["event_type"]); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process runs matching to exhaustion when the event is a marketplace trigger.
func (c *Consumer) Process(ctx context.Context, rawEventType string) error {
	logCtx := c.logg.WithField(ctx, "event_type", rawEventType)

	eventType, err := enums.ParseOutboxEventType(rawEventType)
	if err != nil {
		// unknown events are dropped, not redelivered
		c.logg.Warn(logCtx, "unrecognized marketplace event type")
		return nil
	}
	if _, ok := c.triggers[eventType]; !ok {
		return nil
	}

	return c.drain(logCtx)
}

func (c *Consumer) drain(ctx context.Context) error {
	asOf := c.now().UTC()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := c.matcher.ProcessLoanMatching(ctx, matching.ProcessMatchingInput{
			BatchSize: c.batchSize,
			AsOfDate:  asOf,
		})
		if err != nil {
			return fmt.Errorf("matching batch: %w", err)
		}
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"matched": result.MatchedPairs,
			"skipped": len(result.Skipped),
		})
		c.logg.Info(logCtx, "matching batch complete")
		if !result.HasMore {
			return nil
		}
	}
}
