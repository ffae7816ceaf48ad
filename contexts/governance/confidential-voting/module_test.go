package confidentialvoting_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	confidentialvoting "concord/contexts/governance/confidential-voting"
	"concord/contexts/governance/confidential-voting/adapters/cipher"
	"concord/contexts/governance/confidential-voting/adapters/memory"
	postgresadapter "concord/contexts/governance/confidential-voting/adapters/postgres"
	"concord/contexts/governance/confidential-voting/application/commands"
	"concord/contexts/governance/confidential-voting/domain/entities"
	"concord/contexts/governance/confidential-voting/ports"
	contractsv1 "concord/contracts/gen/events/v1"
	"concord/internal/platform/db"
	"concord/internal/platform/messaging"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func castVote(t *testing.T, module confidentialvoting.Module, resolutionID int64, memberID string, yes bool) {
	t.Helper()
	ctx := context.Background()
	choice, proof, err := module.Cipher.EncryptChoice(ctx, ports.InputBinding{ResolutionID: resolutionID, MemberID: memberID}, yes)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := module.Lifecycle.CastBallot(ctx, commands.CastBallotCommand{
		CallerID: memberID, ResolutionID: resolutionID, Choice: choice, Proof: proof,
	}); err != nil {
		t.Fatalf("vote by %s failed: %v", memberID, err)
	}
}

func TestInMemoryModuleResolvesThroughLocalOracle(t *testing.T) {
	module := confidentialvoting.NewInMemoryModule(confidentialvoting.DefaultSettings("admin"), nil)
	ctx := context.Background()
	if err := module.RevealConsumer.Start(ctx); err != nil {
		t.Fatalf("start consumer failed: %v", err)
	}

	for id, weight := range map[string]uint32{"alice": 4, "bob": 3} {
		if _, err := module.Membership.RegisterMember(ctx, commands.RegisterMemberCommand{
			CallerID: "admin", MemberID: id, Name: id, Weight: weight,
		}); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	opened, err := module.Lifecycle.OpenResolution(ctx, commands.OpenResolutionCommand{
		CallerID: "alice", Title: "Merge", Description: "merge with acme", RequiredQuorum: 7,
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	id := opened.Resolution.ResolutionID
	castVote(t, module, id, "alice", true)
	castVote(t, module, id, "bob", false)
	castVote(t, module, id, "carol", true)

	if _, err := module.Lifecycle.RequestReveal(ctx, commands.RequestRevealCommand{CallerID: "alice", ResolutionID: id}); err != nil {
		t.Fatalf("reveal failed: %v", err)
	}
	if answered, err := module.Oracle.RunOnce(ctx); err != nil || answered != 1 {
		t.Fatalf("expected one oracle answer, got %d err=%v", answered, err)
	}

	outcome, err := module.Queries.Outcome(ctx, id)
	if err != nil {
		t.Fatalf("outcome failed: %v", err)
	}
	if outcome.Outcome != entities.OutcomePassed || outcome.RevealedYesVotes != 5 || outcome.RevealedNoVotes != 3 {
		t.Fatalf("expected 5/3 passed with carol auto-registered, got %+v", outcome)
	}

	published, err := module.OutboxRelay.RunOnce(ctx)
	if err != nil {
		t.Fatalf("relay failed: %v", err)
	}
	// 2 registrations, 1 open, 3 ballots, 1 auto-registration, reveal requested, resolved.
	if published != 9 {
		t.Fatalf("expected 9 outbox events, got %d", published)
	}
	if got := len(module.Bus.Published(contractsv1.EventResolutionResolved)); got != 1 {
		t.Fatalf("expected one resolved event on the bus, got %d", got)
	}
}

func TestSQLiteModuleFallsBackOnTimeout(t *testing.T) {
	database, err := db.OpenSQLite("")
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := postgresadapter.Migrate(database.DB); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	repo := postgresadapter.NewRepository(database.DB, nil)
	bus := memory.NewBus()
	clock := &manualClock{now: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)}
	settings := confidentialvoting.DefaultSettings("admin")
	settings.ExternalOracle = true

	module := confidentialvoting.NewModule(confidentialvoting.Dependencies{
		Repository:  repo,
		Idempotency: repo,
		Outbox:      repo,
		Dedup:       repo,
		Publisher:   bus,
		Subscriber:  bus,
		Cipher:      cipher.NewMock(),
		Clock:       clock,
		IDGen:       postgresadapter.UUIDGenerator{},
		Settings:    settings,
	})
	ctx := context.Background()

	opened, err := module.Lifecycle.OpenResolution(ctx, commands.OpenResolutionCommand{
		CallerID: "dave", Title: "Relocate", Description: "move HQ", RequiredQuorum: 1,
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	id := opened.Resolution.ResolutionID
	castVote(t, module, id, "dave", true)

	clock.Advance(settings.VotingPeriod)
	if _, err := module.Lifecycle.RequestReveal(ctx, commands.RequestRevealCommand{CallerID: "erin", ResolutionID: id}); err != nil {
		t.Fatalf("reveal after window failed: %v", err)
	}
	if answered, err := module.Oracle.RunOnce(ctx); err != nil || answered != 0 {
		t.Fatalf("expected the external-oracle mode to stay silent, got %d err=%v", answered, err)
	}

	if handled, err := module.TimeoutSweeper.RunOnce(ctx); err != nil || handled != 0 {
		t.Fatalf("expected nothing due yet, got %d err=%v", handled, err)
	}
	status, err := module.Queries.Status(ctx, id)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.TimeRemaining != settings.RevealTimeout {
		t.Fatalf("expected full timeout remaining, got %s", status.TimeRemaining)
	}

	clock.Advance(settings.RevealTimeout)
	if handled, err := module.TimeoutSweeper.RunOnce(ctx); err != nil || handled != 1 {
		t.Fatalf("expected one timeout, got %d err=%v", handled, err)
	}
	outcome, err := module.Queries.Outcome(ctx, id)
	if err != nil {
		t.Fatalf("outcome failed: %v", err)
	}
	if outcome.Outcome != entities.OutcomeFailed || outcome.Passed {
		t.Fatalf("expected failed outcome, got %+v", outcome)
	}
}

// flakyRepository fails the next atomic unit once armed, the way a dropped
// database connection would.
type flakyRepository struct {
	*memory.Store
	armed    atomic.Bool
	failures atomic.Int32
}

func (r *flakyRepository) Atomically(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	if r.armed.CompareAndSwap(true, false) {
		r.failures.Add(1)
		return errors.New("connection reset")
	}
	return r.Store.Atomically(ctx, fn)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRevealSurvivesTransientCallbackFailure(t *testing.T) {
	store := memory.NewStore()
	repo := &flakyRepository{Store: store}
	bus := messaging.NewBus(nil, nil)
	clock := &manualClock{now: time.Now().UTC()}
	settings := confidentialvoting.DefaultSettings("admin")
	settings.OracleRedeliver = 5 * time.Second

	module := confidentialvoting.NewModule(confidentialvoting.Dependencies{
		Repository:  repo,
		Idempotency: store,
		Outbox:      store,
		Dedup:       store,
		Publisher:   bus,
		Subscriber:  bus,
		Cipher:      cipher.NewMock(),
		Clock:       clock,
		IDGen:       store,
		Settings:    settings,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer bus.Wait()
	defer cancel()
	if err := module.RevealConsumer.Start(ctx); err != nil {
		t.Fatalf("start consumer failed: %v", err)
	}

	opened, err := module.Lifecycle.OpenResolution(ctx, commands.OpenResolutionCommand{
		CallerID: "alice", Title: "Audit", Description: "hire auditors", RequiredQuorum: 1,
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	id := opened.Resolution.ResolutionID
	castVote(t, module, id, "alice", true)
	if _, err := module.Lifecycle.RequestReveal(ctx, commands.RequestRevealCommand{CallerID: "alice", ResolutionID: id}); err != nil {
		t.Fatalf("reveal failed: %v", err)
	}

	repo.armed.Store(true)
	if answered, err := module.Oracle.RunOnce(ctx); err != nil || answered != 1 {
		t.Fatalf("expected one oracle answer, got %d err=%v", answered, err)
	}
	waitFor(t, "the failed delivery", func() bool { return repo.failures.Load() == 1 })
	if module.Oracle.Pending() != 1 {
		t.Fatalf("expected the unconsumed request to stay with the oracle, got %d", module.Oracle.Pending())
	}

	clock.Advance(settings.OracleRedeliver)
	if answered, err := module.Oracle.RunOnce(ctx); err != nil || answered != 1 {
		t.Fatalf("expected a redelivery, got %d err=%v", answered, err)
	}
	waitFor(t, "the resolution to resolve", func() bool {
		status, err := module.Queries.Status(ctx, id)
		return err == nil && status.Resolved
	})

	clock.Advance(settings.OracleRedeliver)
	if answered, err := module.Oracle.RunOnce(ctx); err != nil || answered != 0 {
		t.Fatalf("expected no further answers, got %d err=%v", answered, err)
	}
	if module.Oracle.Pending() != 0 {
		t.Fatalf("expected the consumed request to be dropped, got %d", module.Oracle.Pending())
	}
	outcome, err := module.Queries.Outcome(ctx, id)
	if err != nil {
		t.Fatalf("outcome failed: %v", err)
	}
	if outcome.Outcome != entities.OutcomePassed || outcome.RevealedYesVotes != 1 {
		t.Fatalf("expected passed 1/0, got %+v", outcome)
	}
}
