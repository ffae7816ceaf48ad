package oracle_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"concord/contexts/governance/confidential-voting/adapters/cipher"
	"concord/contexts/governance/confidential-voting/adapters/memory"
	"concord/contexts/governance/confidential-voting/adapters/oracle"
	"concord/contexts/governance/confidential-voting/domain/entities"
	"concord/contexts/governance/confidential-voting/ports"
	contractsv1 "concord/contracts/gen/events/v1"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

type failingPublisher struct{ fail bool }

func (p *failingPublisher) Publish(context.Context, string, ports.EventEnvelope) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	return nil
}

func ciphertexts(t *testing.T, values ...uint64) []entities.Ciphertext {
	t.Helper()
	backend := cipher.NewMock()
	out := make([]entities.Ciphertext, 0, len(values))
	for _, value := range values {
		ciphertext, err := backend.Constant(context.Background(), value)
		if err != nil {
			t.Fatalf("constant failed: %v", err)
		}
		out = append(out, ciphertext)
	}
	return out
}

func TestLocalAnswersAfterDelay(t *testing.T) {
	store := memory.NewStore()
	bus := memory.NewBus()
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	local := &oracle.Local{
		Decryptor: cipher.NewMock(),
		Publisher: bus,
		IDGen:     store,
		Clock:     clock,
		Delay:     time.Minute,
	}
	ctx := context.Background()

	requestID, err := local.RequestDecryption(ctx, ciphertexts(t, 7, 2))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if answered, err := local.RunOnce(ctx); err != nil || answered != 0 {
		t.Fatalf("expected no answer before the delay, got %d err=%v", answered, err)
	}

	clock.now = clock.now.Add(time.Minute)
	answered, err := local.RunOnce(ctx)
	if err != nil || answered != 1 {
		t.Fatalf("expected one answer, got %d err=%v", answered, err)
	}
	events := bus.Published(contractsv1.EventOracleRevealDelivered)
	if len(events) != 1 {
		t.Fatalf("expected one delivery event, got %d", len(events))
	}
	var payload contractsv1.RevealDelivered
	if err := json.Unmarshal(events[0].Data, &payload); err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	if payload.RequestID != requestID || len(payload.Plaintexts) != 2 || payload.Plaintexts[0] != 7 || payload.Plaintexts[1] != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if local.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", local.Pending())
	}
}

func TestLocalRequeuesFailedAnswers(t *testing.T) {
	publisher := &failingPublisher{fail: true}
	local := &oracle.Local{Decryptor: cipher.NewMock(), Publisher: publisher, IDGen: memory.NewStore()}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := local.RequestDecryption(ctx, ciphertexts(t, 1, 0)); err != nil {
			t.Fatalf("request failed: %v", err)
		}
	}
	if _, err := local.RunOnce(ctx); err == nil {
		t.Fatalf("expected publish failure")
	}
	if local.Pending() != 2 {
		t.Fatalf("expected both requests requeued, got %d", local.Pending())
	}

	publisher.fail = false
	if answered, err := local.RunOnce(ctx); err != nil || answered != 2 {
		t.Fatalf("expected two answers, got %d err=%v", answered, err)
	}
}

func TestSilentLocalNeverAnswers(t *testing.T) {
	bus := memory.NewBus()
	local := &oracle.Local{Decryptor: cipher.NewMock(), Publisher: bus, IDGen: memory.NewStore(), Silent: true}
	ctx := context.Background()

	requestID, err := local.RequestDecryption(ctx, ciphertexts(t, 3, 4))
	if err != nil || requestID == "" {
		t.Fatalf("expected a request id, got %q err=%v", requestID, err)
	}
	if answered, err := local.RunOnce(ctx); err != nil || answered != 0 {
		t.Fatalf("expected silence, got %d err=%v", answered, err)
	}
	if len(bus.Published("")) != 0 {
		t.Fatalf("expected nothing published")
	}
	if _, err := local.RequestDecryption(ctx, nil); err == nil {
		t.Fatalf("expected empty request to fail")
	}
}

func TestLocalRedeliversUntilConsumed(t *testing.T) {
	store := memory.NewStore()
	bus := memory.NewBus()
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	local := &oracle.Local{
		Decryptor: cipher.NewMock(),
		Publisher: bus,
		IDGen:     store,
		Clock:     clock,
		Requests:  store,
		Redeliver: 10 * time.Second,
	}
	ctx := context.Background()

	requestID, err := local.RequestDecryption(ctx, ciphertexts(t, 8, 2))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	pending := entities.PendingRequest{RequestID: requestID, ResolutionID: 1, RequestedAt: clock.now}
	if err := store.SavePendingRequest(ctx, pending); err != nil {
		t.Fatalf("save pending failed: %v", err)
	}

	if answered, err := local.RunOnce(ctx); err != nil || answered != 1 {
		t.Fatalf("expected first answer, got %d err=%v", answered, err)
	}
	if answered, err := local.RunOnce(ctx); err != nil || answered != 0 {
		t.Fatalf("expected no redelivery before the interval, got %d err=%v", answered, err)
	}
	if local.Pending() != 1 {
		t.Fatalf("expected unconsumed request to stay queued, got %d", local.Pending())
	}

	clock.now = clock.now.Add(10 * time.Second)
	if answered, err := local.RunOnce(ctx); err != nil || answered != 1 {
		t.Fatalf("expected redelivery, got %d err=%v", answered, err)
	}
	events := bus.Published(contractsv1.EventOracleRevealDelivered)
	if len(events) != 2 || events[0].EventID != events[1].EventID {
		t.Fatalf("expected the same event published twice, got %+v", events)
	}

	consumedAt := clock.now
	pending.Consumed = true
	pending.ConsumedAt = &consumedAt
	pending.ConsumedBy = entities.ConsumedByOracle
	if err := store.SavePendingRequest(ctx, pending); err != nil {
		t.Fatalf("consume pending failed: %v", err)
	}
	clock.now = clock.now.Add(10 * time.Second)
	if answered, err := local.RunOnce(ctx); err != nil || answered != 0 {
		t.Fatalf("expected consumed request to be dropped, got %d err=%v", answered, err)
	}
	if local.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", local.Pending())
	}
}

func TestLocalDropsRequestsTheStoreNeverRecorded(t *testing.T) {
	store := memory.NewStore()
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	local := &oracle.Local{
		Decryptor: cipher.NewMock(),
		Publisher: memory.NewBus(),
		IDGen:     store,
		Clock:     clock,
		Requests:  store,
		Redeliver: 10 * time.Second,
	}
	ctx := context.Background()

	if _, err := local.RequestDecryption(ctx, ciphertexts(t, 1, 0)); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if answered, err := local.RunOnce(ctx); err != nil || answered != 1 {
		t.Fatalf("expected first answer, got %d err=%v", answered, err)
	}
	clock.now = clock.now.Add(10 * time.Second)
	if answered, err := local.RunOnce(ctx); err != nil || answered != 1 {
		t.Fatalf("expected redelivery inside the grace period, got %d err=%v", answered, err)
	}
	clock.now = clock.now.Add(time.Minute)
	if answered, err := local.RunOnce(ctx); err != nil || answered != 0 {
		t.Fatalf("expected orphaned request to be dropped, got %d err=%v", answered, err)
	}
	if local.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", local.Pending())
	}
}
