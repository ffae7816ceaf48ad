package membership_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"concord/contexts/governance/confidential-voting/adapters/memory"
	"concord/contexts/governance/confidential-voting/application/membership"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func totalPower(t *testing.T, store *memory.Store) uint64 {
	t.Helper()
	total, err := membership.TotalVotingPower(context.Background(), store)
	if err != nil {
		t.Fatalf("total voting power failed: %v", err)
	}
	return total
}

func TestRegisterDeactivateAndReactivate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	registry := membership.Registry{DefaultWeight: 1}

	if _, err := registry.Register(ctx, store, membership.RegisterInput{
		MemberID: "alice", Name: "Alice", RoleLabel: "board", Weight: 40,
	}, now); err != nil {
		t.Fatalf("register alice failed: %v", err)
	}
	if _, err := registry.Register(ctx, store, membership.RegisterInput{
		MemberID: "bob", Name: "Bob", RoleLabel: "board", Weight: 60,
	}, now); err != nil {
		t.Fatalf("register bob failed: %v", err)
	}
	if got := totalPower(t, store); got != 100 {
		t.Fatalf("expected power 100, got %d", got)
	}

	_, err := registry.Register(ctx, store, membership.RegisterInput{
		MemberID: "alice", Name: "Alice", RoleLabel: "board", Weight: 5,
	}, now)
	if !errors.Is(err, domainerrors.ErrDuplicateMember) {
		t.Fatalf("expected duplicate_member, got %v", err)
	}

	if _, err := registry.Deactivate(ctx, store, "alice", now.Add(time.Hour)); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if got := totalPower(t, store); got != 60 {
		t.Fatalf("expected power 60 after deactivation, got %d", got)
	}
	weight, err := membership.WeightOf(ctx, store, "alice")
	if err != nil || weight != 0 {
		t.Fatalf("expected inactive weight 0, got %d (%v)", weight, err)
	}
	if _, err := registry.Deactivate(ctx, store, "alice", now); !errors.Is(err, domainerrors.ErrMemberInactive) {
		t.Fatalf("expected member_inactive on second deactivation, got %v", err)
	}

	member, err := registry.Register(ctx, store, membership.RegisterInput{
		MemberID: "alice", Name: "Alice", RoleLabel: "board", Weight: 10,
	}, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("reactivation failed: %v", err)
	}
	if !member.CreatedAt.Equal(now) {
		t.Fatalf("expected original creation time kept, got %s", member.CreatedAt)
	}
	if got := totalPower(t, store); got != 70 {
		t.Fatalf("expected power 70 after reactivation, got %d", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	registry := membership.Registry{}

	cases := []struct {
		name  string
		input membership.RegisterInput
		want  error
	}{
		{"blank id", membership.RegisterInput{MemberID: " ", Name: "x", RoleLabel: "x", Weight: 1}, domainerrors.ErrInvalidAddress},
		{"zero weight", membership.RegisterInput{MemberID: "a", Name: "x", RoleLabel: "x", Weight: 0}, domainerrors.ErrInvalidWeight},
		{"heavy", membership.RegisterInput{MemberID: "a", Name: "x", RoleLabel: "x", Weight: 1001}, domainerrors.ErrInvalidWeight},
		{"empty name", membership.RegisterInput{MemberID: "a", Name: "", RoleLabel: "x", Weight: 1}, domainerrors.ErrInvalidStringLength},
	}
	for _, tc := range cases {
		if _, err := registry.Register(ctx, store, tc.input, now); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if got := totalPower(t, store); got != 0 {
		t.Fatalf("expected no power after rejected registrations, got %d", got)
	}
}

func TestEnsureRegistered(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	closed := membership.Registry{AutoRegister: false}
	if _, _, err := closed.EnsureRegistered(ctx, store, "carol", now); !errors.Is(err, domainerrors.ErrUnknownMember) {
		t.Fatalf("expected unknown_member without auto-registration, got %v", err)
	}

	open := membership.Registry{AutoRegister: true, DefaultWeight: 3}
	member, created, err := open.EnsureRegistered(ctx, store, "carol", now)
	if err != nil || !created {
		t.Fatalf("expected carol auto-registered, created=%v err=%v", created, err)
	}
	if member.Weight != 3 || !member.AutoRegistered || member.RoleLabel != "member" {
		t.Fatalf("unexpected auto-registered member: %+v", member)
	}
	if _, created, err := open.EnsureRegistered(ctx, store, "carol", now); err != nil || created {
		t.Fatalf("expected existing member returned, created=%v err=%v", created, err)
	}
	if got := totalPower(t, store); got != 3 {
		t.Fatalf("expected power 3, got %d", got)
	}

	if _, err := open.Deactivate(ctx, store, "carol", now); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if _, _, err := open.EnsureRegistered(ctx, store, "carol", now); !errors.Is(err, domainerrors.ErrMemberInactive) {
		t.Fatalf("expected member_inactive, got %v", err)
	}
}
