package entities

import "time"

type ResolutionState string

const (
	ResolutionStateActive          ResolutionState = "active"
	ResolutionStateRevealRequested ResolutionState = "reveal_requested"
	ResolutionStateResolved        ResolutionState = "resolved"
	ResolutionStateFailed          ResolutionState = "failed"
)

type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomePassed   Outcome = "passed"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

type Resolution struct {
	ResolutionID   int64
	Title          string
	Description    string
	CreatorID      string
	StartTime      time.Time
	EndTime        time.Time
	RequiredQuorum uint64
	Active         bool

	YesVotes Ciphertext
	NoVotes  Ciphertext

	RevealRequested   bool
	RevealRequestTime *time.Time
	RevealRequestID   string
	Resolved          bool
	RevealFailed      bool
	RevealedYesVotes  uint64
	RevealedNoVotes   uint64
	ResolvedAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// State derives the lifecycle state from the stored flags.
func (r Resolution) State() ResolutionState {
	switch {
	case r.Resolved && r.RevealFailed:
		return ResolutionStateFailed
	case r.Resolved:
		return ResolutionStateResolved
	case r.RevealRequested:
		return ResolutionStateRevealRequested
	default:
		return ResolutionStateActive
	}
}

// AcceptsVotes reports whether a ballot cast at now would be accepted by the
// lifecycle rules (membership is checked separately).
func (r Resolution) AcceptsVotes(now time.Time) bool {
	return r.Active && !r.RevealRequested && !r.Resolved && now.Before(r.EndTime)
}

// TimeoutAt is the earliest instant the failed-reveal fallback may run.
func (r Resolution) TimeoutAt(timeout time.Duration) (time.Time, bool) {
	if r.RevealRequestTime == nil {
		return time.Time{}, false
	}
	return r.RevealRequestTime.Add(timeout), true
}

// Passed applies the certification rule: a genuine reveal, a strict majority
// of yes weight, and participation at or above quorum. Ties and under-quorum
// results never pass.
func (r Resolution) Passed() bool {
	if !r.Resolved || r.RevealFailed {
		return false
	}
	if r.RevealedYesVotes <= r.RevealedNoVotes {
		return false
	}
	return r.RevealedYesVotes+r.RevealedNoVotes >= r.RequiredQuorum
}

func (r Resolution) Outcome() Outcome {
	switch {
	case !r.Resolved:
		return OutcomePending
	case r.RevealFailed:
		return OutcomeFailed
	case r.Passed():
		return OutcomePassed
	default:
		return OutcomeRejected
	}
}

// ResolutionStatus is the read model returned by status queries.
type ResolutionStatus struct {
	ResolutionID      int64
	State             ResolutionState
	RevealRequested   bool
	RevealRequestTime *time.Time
	Resolved          bool
	RevealFailed      bool
	TimeRemaining     time.Duration
}

// Status builds the status view at now. TimeRemaining counts down to the
// timeout fallback and is zero unless a reveal is outstanding.
func (r Resolution) Status(now time.Time, timeout time.Duration) ResolutionStatus {
	status := ResolutionStatus{
		ResolutionID:      r.ResolutionID,
		State:             r.State(),
		RevealRequested:   r.RevealRequested,
		RevealRequestTime: r.RevealRequestTime,
		Resolved:          r.Resolved,
		RevealFailed:      r.RevealFailed,
	}
	if r.RevealRequested && !r.Resolved {
		if deadline, ok := r.TimeoutAt(timeout); ok && deadline.After(now) {
			status.TimeRemaining = deadline.Sub(now)
		}
	}
	return status
}
