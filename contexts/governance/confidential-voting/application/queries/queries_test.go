package queries_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"concord/contexts/governance/confidential-voting/adapters/memory"
	"concord/contexts/governance/confidential-voting/application"
	"concord/contexts/governance/confidential-voting/application/queries"
	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

var now = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func seed(t *testing.T, resolutions ...entities.Resolution) queries.QueryService {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	members := []entities.Member{
		{MemberID: "zoe", Weight: 2, Active: true},
		{MemberID: "adam", Weight: 4, Active: true},
		{MemberID: "gone", Weight: 9, Active: false},
	}
	for _, member := range members {
		if err := store.SaveMember(ctx, member); err != nil {
			t.Fatalf("save member failed: %v", err)
		}
	}
	if err := store.SetTotalVotingPower(ctx, 6); err != nil {
		t.Fatalf("set power failed: %v", err)
	}
	for _, resolution := range resolutions {
		if err := store.SaveResolution(ctx, resolution); err != nil {
			t.Fatalf("save resolution failed: %v", err)
		}
	}
	return queries.QueryService{
		Repo:          store,
		Serializer:    application.NewSerializer(),
		Clock:         fixedClock(now),
		RevealTimeout: time.Hour,
	}
}

func TestMemberQueries(t *testing.T) {
	svc := seed(t)
	ctx := context.Background()

	active, err := svc.ListMembers(ctx, true)
	if err != nil {
		t.Fatalf("list members failed: %v", err)
	}
	if len(active) != 2 || active[0].MemberID != "adam" || active[1].MemberID != "zoe" {
		t.Fatalf("expected active members sorted by id, got %+v", active)
	}
	all, err := svc.ListMembers(ctx, false)
	if err != nil {
		t.Fatalf("list all members failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 members, got %d", len(all))
	}

	for id, want := range map[string]uint32{"adam": 4, "gone": 0, "nobody": 0} {
		weight, err := svc.WeightOf(ctx, id)
		if err != nil {
			t.Fatalf("weight of %s failed: %v", id, err)
		}
		if weight != want {
			t.Fatalf("expected weight %d for %s, got %d", want, id, weight)
		}
	}
	if _, err := svc.GetMember(ctx, "nobody"); !errors.Is(err, domainerrors.ErrMemberNotFound) {
		t.Fatalf("expected member_not_found, got %v", err)
	}
	total, err := svc.TotalVotingPower(ctx)
	if err != nil || total != 6 {
		t.Fatalf("expected total 6, got %d err=%v", total, err)
	}
}

func TestResolutionQueries(t *testing.T) {
	requestedAt := now.Add(-20 * time.Minute)
	resolvedAt := now.Add(-time.Minute)
	svc := seed(t,
		entities.Resolution{ResolutionID: 1, Title: "old", RequiredQuorum: 3, Resolved: true, RevealRequested: true, RevealedYesVotes: 4, RevealedNoVotes: 1, ResolvedAt: &resolvedAt},
		entities.Resolution{ResolutionID: 2, Title: "waiting", RequiredQuorum: 3, RevealRequested: true, RevealRequestTime: &requestedAt},
		entities.Resolution{ResolutionID: 3, Title: "failed", RequiredQuorum: 3, Resolved: true, RevealFailed: true, RevealRequested: true, RevealedYesVotes: 7},
	)
	ctx := context.Background()

	views, err := svc.ListResolutions(ctx)
	if err != nil {
		t.Fatalf("list resolutions failed: %v", err)
	}
	if len(views) != 3 || views[0].ResolutionID != 3 || views[2].ResolutionID != 1 {
		t.Fatalf("expected newest first, got %+v", views)
	}

	passed, err := svc.Outcome(ctx, 1)
	if err != nil {
		t.Fatalf("outcome failed: %v", err)
	}
	if passed.Outcome != entities.OutcomePassed || passed.RevealedYesVotes != 4 {
		t.Fatalf("unexpected outcome %+v", passed)
	}
	failed, err := svc.Outcome(ctx, 3)
	if err != nil {
		t.Fatalf("outcome failed: %v", err)
	}
	if failed.Outcome != entities.OutcomeFailed || failed.RevealedYesVotes != 0 {
		t.Fatalf("expected failed outcome without totals, got %+v", failed)
	}

	status, err := svc.Status(ctx, 2)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.State != entities.ResolutionStateRevealRequested || status.TimeRemaining != 40*time.Minute {
		t.Fatalf("expected 40m remaining, got %+v", status)
	}

	if _, err := svc.GetResolution(ctx, 0); !errors.Is(err, domainerrors.ErrInvalidResolutionID) {
		t.Fatalf("expected invalid_resolution_id, got %v", err)
	}
	if _, err := svc.Status(ctx, 42); !errors.Is(err, domainerrors.ErrResolutionNotFound) {
		t.Fatalf("expected resolution_not_found, got %v", err)
	}
}

func TestDueForTimeout(t *testing.T) {
	early := now.Add(-30 * time.Minute)
	late := now.Add(-time.Hour)
	svc := seed(t,
		entities.Resolution{ResolutionID: 1, RevealRequested: true, RevealRequestTime: &early},
		entities.Resolution{ResolutionID: 2, RevealRequested: true, RevealRequestTime: &late},
		entities.Resolution{ResolutionID: 3, Active: true},
	)

	due, err := svc.DueForTimeout(context.Background())
	if err != nil {
		t.Fatalf("due for timeout failed: %v", err)
	}
	if len(due) != 1 || due[0].ResolutionID != 2 {
		t.Fatalf("expected only resolution 2 at its exact deadline, got %+v", due)
	}
}
