package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate outbox: %v", err)
	}
	return db
}

func TestEmitStoresEnvelope(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)
	aggregateID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOfferPublished,
			AggregateType: enums.AggregateLoanOffer,
			AggregateID:   aggregateID,
			Version:       1,
			OccurredAt:    time.Now().UTC(),
			Data:          map[string]string{"offerId": aggregateID.String()},
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	var row models.OutboxEvent
	if err := db.First(&row, "aggregate_id = ?", aggregateID).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if row.EventType != enums.EventOfferPublished || row.PublishedAt != nil {
		t.Fatalf("unexpected row: %+v", row)
	}
	if len(row.Payload) == 0 {
		t.Fatal("expected payload envelope")
	}
}

func TestEmitIfNotExistsDeduplicates(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)
	loanID := uuid.New()

	event := DomainEvent{
		EventType:     enums.EventLoanLtvBreached,
		AggregateType: enums.AggregateLoan,
		AggregateID:   loanID,
		DedupKey:      "2026-08-31",
		Version:       1,
		Data:          map[string]string{"loanId": loanID.String()},
	}

	for i := 0; i < 2; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		})
		if err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}

	var count int64
	if err := db.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", loanID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}

	// A different monitoring day is a distinct event.
	event.DedupKey = "2026-09-01"
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.EmitIfNotExists(context.Background(), tx, event)
	})
	if err != nil {
		t.Fatalf("emit new day: %v", err)
	}
	if err := db.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", loanID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 events, got %d", count)
	}
}

func TestMarkPublishedAndFailed(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventApplicationMatched,
			AggregateType: enums.AggregateLoanApplication,
			AggregateID:   uuid.New(),
			Version:       1,
			Data:          map[string]int{"n": 1},
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	rows, err := repo.FetchUnpublished(10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("fetch unpublished: %v (%d rows)", err, len(rows))
	}

	if err := repo.MarkFailed(rows[0].ID, context.DeadlineExceeded); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkPublished(rows[0].ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}

	var row models.OutboxEvent
	if err := db.First(&row, "id = ?", rows[0].ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if row.PublishedAt == nil || row.AttemptCount != 1 || row.LastError == nil {
		t.Fatalf("unexpected row state: %+v", row)
	}

	remaining, err := repo.FetchUnpublished(10)
	if err != nil {
		t.Fatalf("fetch again: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no unpublished rows, got %d", len(remaining))
	}
}
