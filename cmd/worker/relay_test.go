package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
	"github.com/credeo/lendmarket-backend/pkg/logger"
)

type fakeStore struct {
	rows      []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	fetchErr  error
}

func (f *fakeStore) FetchUnpublished(limit int) ([]models.OutboxEvent, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.rows) > limit {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func (f *fakeStore) MarkPublished(id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeStore) MarkFailed(id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeResult struct {
	err error
}

func (f fakeResult) Get(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "msg-1", nil
}

type fakePublisher struct {
	calls      []map[string]string
	data       [][]byte
	publishErr error
}

func (f *fakePublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) publishResult {
	f.calls = append(f.calls, attributes)
	f.data = append(f.data, data)
	return fakeResult{err: f.publishErr}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.New(logger.Options{ServiceName: "worker-test"})
}

func outboxRow(t *testing.T, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"version":    1,
		"eventId":    uuid.NewString(),
		"occurredAt": time.Now().UTC().Format(time.RFC3339Nano),
		"data":       map[string]any{},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateLoanOffer,
		AggregateID:   uuid.New(),
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
		AttemptCount:  attempts,
	}
}

func TestRelayProcessBatchPublishesAndMarks(t *testing.T) {
	t.Parallel()

	store := &fakeStore{rows: []models.OutboxEvent{
		outboxRow(t, enums.EventOfferPublished, 0),
		outboxRow(t, enums.EventApplicationPublished, 0),
	}}
	pub := &fakePublisher{}
	relay, err := NewRelay(RelayParams{Logger: testLogger(t), Store: store, Publisher: pub})
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}

	published, err := relay.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if published != 2 {
		t.Fatalf("expected 2 published, got %d", published)
	}
	if len(store.published) != 2 {
		t.Fatalf("expected 2 rows marked published, got %d", len(store.published))
	}
	if len(store.failed) != 0 {
		t.Fatalf("expected no failures, got %d", len(store.failed))
	}

	attrs := pub.calls[0]
	if attrs["event_type"] != string(enums.EventOfferPublished) {
		t.Fatalf("unexpected event_type attribute %q", attrs["event_type"])
	}
	if attrs["aggregate_type"] != string(enums.AggregateLoanOffer) {
		t.Fatalf("unexpected aggregate_type attribute %q", attrs["aggregate_type"])
	}
	if attrs["event_id"] == "" || attrs["aggregate_id"] == "" || attrs["created_at"] == "" {
		t.Fatalf("expected event_id, aggregate_id and created_at attributes, got %v", attrs)
	}
}

func TestRelayProcessBatchMarksFailures(t *testing.T) {
	t.Parallel()

	row := outboxRow(t, enums.EventOfferPublished, 3)
	store := &fakeStore{rows: []models.OutboxEvent{row}}
	pub := &fakePublisher{publishErr: errors.New("topic unavailable")}
	relay, err := NewRelay(RelayParams{Logger: testLogger(t), Store: store, Publisher: pub})
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}

	published, err := relay.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if published != 0 {
		t.Fatalf("expected 0 published, got %d", published)
	}
	if len(store.failed) != 1 || store.failed[0] != row.ID {
		t.Fatalf("expected row marked failed, got %v", store.failed)
	}
	if len(store.published) != 0 {
		t.Fatalf("expected no rows marked published, got %v", store.published)
	}
}

func TestRelaySkipsExhaustedRows(t *testing.T) {
	t.Parallel()

	exhausted := outboxRow(t, enums.EventOfferPublished, 10)
	fresh := outboxRow(t, enums.EventApplicationPublished, 0)
	store := &fakeStore{rows: []models.OutboxEvent{exhausted, fresh}}
	pub := &fakePublisher{}
	relay, err := NewRelay(RelayParams{Logger: testLogger(t), Store: store, Publisher: pub, MaxAttempts: 10})
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}

	published, err := relay.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if published != 1 {
		t.Fatalf("expected 1 published, got %d", published)
	}
	if len(pub.calls) != 1 {
		t.Fatalf("expected exhausted row to be skipped, got %d publishes", len(pub.calls))
	}
	if len(store.failed) != 1 || store.failed[0] != exhausted.ID {
		t.Fatalf("expected exhausted row recorded once, got %v", store.failed)
	}
}

func TestRelayUsesEnvelopeEventID(t *testing.T) {
	t.Parallel()

	eventID := uuid.NewString()
	payload, err := json.Marshal(map[string]any{
		"version": 1,
		"eventId": eventID,
		"data":    map[string]any{},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	row := outboxRow(t, enums.EventLoanOriginated, 0)
	row.Payload = payload

	store := &fakeStore{rows: []models.OutboxEvent{row}}
	pub := &fakePublisher{}
	relay, err := NewRelay(RelayParams{Logger: testLogger(t), Store: store, Publisher: pub})
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}

	if _, err := relay.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if pub.calls[0]["event_id"] != eventID {
		t.Fatalf("expected envelope event id %q, got %q", eventID, pub.calls[0]["event_id"])
	}
}

func TestRelayBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	relay, err := NewRelay(RelayParams{Logger: testLogger(t), Store: &fakeStore{}, Publisher: &fakePublisher{}})
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}

	d := 500 * time.Millisecond
	d = relay.nextBackoff(d)
	if d != time.Second {
		t.Fatalf("expected 1s, got %s", d)
	}
	for i := 0; i < 10; i++ {
		d = relay.nextBackoff(d)
	}
	if d != maxRelayBackoff {
		t.Fatalf("expected backoff capped at %s, got %s", maxRelayBackoff, d)
	}
}
