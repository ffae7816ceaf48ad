package entities

import (
	"testing"
	"time"
)

func TestResolutionOutcome(t *testing.T) {
	cases := []struct {
		name    string
		res     Resolution
		passed  bool
		outcome Outcome
		state   ResolutionState
	}{
		{
			name:    "open",
			res:     Resolution{Active: true, RequiredQuorum: 3},
			outcome: OutcomePending,
			state:   ResolutionStateActive,
		},
		{
			name:    "awaiting reveal",
			res:     Resolution{RevealRequested: true, RequiredQuorum: 3},
			outcome: OutcomePending,
			state:   ResolutionStateRevealRequested,
		},
		{
			name:    "majority at quorum",
			res:     Resolution{RevealRequested: true, Resolved: true, RevealedYesVotes: 2, RevealedNoVotes: 1, RequiredQuorum: 3},
			passed:  true,
			outcome: OutcomePassed,
			state:   ResolutionStateResolved,
		},
		{
			name:    "tie never passes",
			res:     Resolution{RevealRequested: true, Resolved: true, RevealedYesVotes: 5, RevealedNoVotes: 5, RequiredQuorum: 1},
			outcome: OutcomeRejected,
			state:   ResolutionStateResolved,
		},
		{
			name:    "majority under quorum",
			res:     Resolution{RevealRequested: true, Resolved: true, RevealedYesVotes: 2, RevealedNoVotes: 0, RequiredQuorum: 3},
			outcome: OutcomeRejected,
			state:   ResolutionStateResolved,
		},
		{
			name:    "failed reveal",
			res:     Resolution{RevealRequested: true, Resolved: true, RevealFailed: true, RevealedYesVotes: 9, RequiredQuorum: 1},
			outcome: OutcomeFailed,
			state:   ResolutionStateFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.res.Passed(); got != tc.passed {
				t.Fatalf("expected passed=%v, got %v", tc.passed, got)
			}
			if got := tc.res.Outcome(); got != tc.outcome {
				t.Fatalf("expected outcome %s, got %s", tc.outcome, got)
			}
			if got := tc.res.State(); got != tc.state {
				t.Fatalf("expected state %s, got %s", tc.state, got)
			}
		})
	}
}

func TestResolutionStatusTimeRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	requestedAt := now.Add(-time.Hour)
	res := Resolution{
		ResolutionID:      7,
		RevealRequested:   true,
		RevealRequestTime: &requestedAt,
	}

	status := res.Status(now, 3*time.Hour)
	if status.TimeRemaining != 2*time.Hour {
		t.Fatalf("expected 2h remaining, got %s", status.TimeRemaining)
	}
	if status.State != ResolutionStateRevealRequested {
		t.Fatalf("expected reveal_requested state, got %s", status.State)
	}

	if late := res.Status(now.Add(5*time.Hour), 3*time.Hour); late.TimeRemaining != 0 {
		t.Fatalf("expected no time remaining past the deadline, got %s", late.TimeRemaining)
	}

	res.Resolved = true
	if done := res.Status(now, 3*time.Hour); done.TimeRemaining != 0 {
		t.Fatalf("expected no time remaining once resolved, got %s", done.TimeRemaining)
	}
}

func TestAcceptsVotesWindowIsHalfOpen(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res := Resolution{Active: true, EndTime: end}
	if !res.AcceptsVotes(end.Add(-time.Nanosecond)) {
		t.Fatalf("expected votes accepted just before end time")
	}
	if res.AcceptsVotes(end) {
		t.Fatalf("expected votes rejected at end time")
	}
}

func TestInactiveMemberHasNoEffectiveWeight(t *testing.T) {
	member := Member{Weight: 40, Active: true}
	if member.EffectiveWeight() != 40 {
		t.Fatalf("expected effective weight 40, got %d", member.EffectiveWeight())
	}
	member.Active = false
	if member.EffectiveWeight() != 0 {
		t.Fatalf("expected inactive member to weigh 0, got %d", member.EffectiveWeight())
	}
}

func TestCiphertextCloneIsIndependent(t *testing.T) {
	original := Ciphertext{1, 2, 3}
	clone := original.Clone()
	clone[0] = 9
	if original[0] != 1 {
		t.Fatalf("clone aliases the original buffer")
	}
	if Ciphertext(nil).Clone() != nil {
		t.Fatalf("expected nil clone of nil ciphertext")
	}
}
