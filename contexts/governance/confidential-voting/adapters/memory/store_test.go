package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	"concord/contexts/governance/confidential-voting/ports"
)

func TestAtomicallyRestoresSnapshotOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.SaveMember(ctx, entities.Member{MemberID: "kept", Weight: 2, Active: true}); err != nil {
		t.Fatalf("save member failed: %v", err)
	}

	boom := errors.New("boom")
	err := store.Atomically(ctx, func(ctx context.Context, tx ports.Store) error {
		if err := tx.SaveMember(ctx, entities.Member{MemberID: "dropped", Weight: 1, Active: true}); err != nil {
			return err
		}
		if _, err := tx.NextResolutionID(ctx); err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, ports.EventEnvelope{EventID: "evt-dropped", EventType: "member.registered"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, found, _ := store.GetMember(ctx, "dropped"); found {
		t.Fatalf("expected member write to be rolled back")
	}
	if _, found, _ := store.GetMember(ctx, "kept"); !found {
		t.Fatalf("expected earlier member to survive")
	}
	if id, _ := store.NextResolutionID(ctx); id != 1 {
		t.Fatalf("expected resolution id 1 after rollback, got %d", id)
	}
	if rows, _ := store.ListPendingOutbox(ctx, 10); len(rows) != 0 {
		t.Fatalf("expected outbox rollback, got %d rows", len(rows))
	}
}

func TestStoredValuesAreCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	resolution := entities.Resolution{ResolutionID: 1, YesVotes: entities.Ciphertext{1, 2}}
	if err := store.SaveResolution(ctx, resolution); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	resolution.YesVotes[0] = 9

	got, err := store.GetResolution(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.YesVotes[0] != 1 {
		t.Fatalf("expected stored ciphertext to be independent of the caller's slice")
	}
}

func TestOutboxKeepsAppendOrder(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	ids := []string{"z", "a", "m"}
	for _, id := range ids {
		if err := store.AppendOutbox(ctx, ports.EventEnvelope{EventID: id, EventType: "ballot.cast", Data: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := store.AppendOutbox(ctx, ports.EventEnvelope{EventID: "a", EventType: "ballot.cast", Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("identical re-append should be accepted, got %v", err)
	}
	if err := store.AppendOutbox(ctx, ports.EventEnvelope{EventID: "a", EventType: "other"}); !errors.Is(err, errOutboxConflict) {
		t.Fatalf("expected outbox conflict, got %v", err)
	}

	rows, err := store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for i, row := range rows {
		if row.OutboxID != ids[i] {
			t.Fatalf("expected %s at %d, got %s", ids[i], i, row.OutboxID)
		}
	}
	if err := store.MarkOutboxPublished(ctx, "z", time.Now()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkOutboxPublished(ctx, "missing", time.Now()); !errors.Is(err, errOutboxMissing) {
		t.Fatalf("expected missing row error, got %v", err)
	}
	rows, _ = store.ListPendingOutbox(ctx, 10)
	if len(rows) != 2 || rows[0].OutboxID != "a" {
		t.Fatalf("expected a and m pending, got %+v", rows)
	}
}

func TestIdempotencyExpiry(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	record := ports.IdempotencyRecord{Key: "k", RequestHash: "h", ResolutionID: 3, ExpiresAt: now.Add(time.Minute)}
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	record.RequestHash = "other"
	if err := store.Put(ctx, record); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, found, _ := store.Get(ctx, "k", now); !found {
		t.Fatalf("expected live record")
	}
	if _, found, _ := store.Get(ctx, "k", now.Add(time.Minute)); found {
		t.Fatalf("expected record to expire")
	}
}

func TestReserveEvent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	if seen, err := store.ReserveEvent(ctx, "e1", "h", expires); err != nil || seen {
		t.Fatalf("expected first reservation, seen=%v err=%v", seen, err)
	}
	if seen, err := store.ReserveEvent(ctx, "e1", "h", expires); err != nil || !seen {
		t.Fatalf("expected duplicate, seen=%v err=%v", seen, err)
	}
	if _, err := store.ReserveEvent(ctx, "e1", "x", expires); !errors.Is(err, errDedupConflict) {
		t.Fatalf("expected dedup conflict, got %v", err)
	}
	if seen, err := store.ReserveEvent(ctx, "e2", "h", time.Now().Add(-time.Second)); err != nil || seen {
		t.Fatalf("expected reservation, seen=%v err=%v", seen, err)
	}
	if seen, err := store.ReserveEvent(ctx, "e2", "h", expires); err != nil || seen {
		t.Fatalf("expected expired reservation to be taken again, seen=%v err=%v", seen, err)
	}
}

func TestReleasedEventCanBeReservedAgain(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	if seen, err := store.ReserveEvent(ctx, "e1", "h", expires); err != nil || seen {
		t.Fatalf("expected first reservation, seen=%v err=%v", seen, err)
	}
	if err := store.ReleaseEvent(ctx, "e1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if seen, err := store.ReserveEvent(ctx, "e1", "h", expires); err != nil || seen {
		t.Fatalf("expected released event to be handled again, seen=%v err=%v", seen, err)
	}
}

func TestTerminalRowsAreFinal(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	resolution := entities.Resolution{ResolutionID: 1, RevealRequested: true, RevealRequestID: "req-1"}
	pending := entities.PendingRequest{RequestID: "req-1", ResolutionID: 1}
	if err := store.SaveResolution(ctx, resolution); err != nil {
		t.Fatalf("save resolution failed: %v", err)
	}
	if err := store.SavePendingRequest(ctx, pending); err != nil {
		t.Fatalf("save pending failed: %v", err)
	}

	revealed := resolution
	revealed.Resolved = true
	revealed.RevealedYesVotes = 8
	consumed := pending
	consumed.Consumed = true
	consumed.ConsumedBy = entities.ConsumedByOracle
	if err := store.SaveResolution(ctx, revealed); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if err := store.SavePendingRequest(ctx, consumed); err != nil {
		t.Fatalf("consume failed: %v", err)
	}

	failed := resolution
	failed.Resolved = true
	failed.RevealFailed = true
	if err := store.SaveResolution(ctx, failed); !errors.Is(err, domainerrors.ErrAlreadyResolved) {
		t.Fatalf("expected already_resolved, got %v", err)
	}
	consumed.ConsumedBy = entities.ConsumedByTimeout
	if err := store.SavePendingRequest(ctx, consumed); !errors.Is(err, domainerrors.ErrUnknownRequest) {
		t.Fatalf("expected unknown_request, got %v", err)
	}
	got, err := store.GetResolution(ctx, 1)
	if err != nil || got.RevealFailed || got.RevealedYesVotes != 8 {
		t.Fatalf("expected revealed row to stand, got %+v err=%v", got, err)
	}
}
