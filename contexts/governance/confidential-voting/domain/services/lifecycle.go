package services

import (
	"time"

	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
)

// EvaluateBallot checks that the resolution still accepts ballots at now.
func EvaluateBallot(resolution entities.Resolution, now time.Time) error {
	if !resolution.Active || resolution.RevealRequested || resolution.Resolved {
		return domainerrors.ErrResolutionNotActive
	}
	if !now.Before(resolution.EndTime) {
		return domainerrors.ErrVotingWindowClosed
	}
	return nil
}

// EvaluateRevealRequest allows the creator to close early and anyone to close
// once the voting window has ended.
func EvaluateRevealRequest(resolution entities.Resolution, callerID string, now time.Time) error {
	if resolution.RevealRequested || resolution.Resolved {
		return domainerrors.ErrRevealAlreadyRequested
	}
	if !resolution.Active {
		return domainerrors.ErrResolutionNotActive
	}
	if now.Before(resolution.EndTime) && callerID != resolution.CreatorID {
		return domainerrors.ErrRevealForbidden
	}
	return nil
}

// EvaluateDelivery checks a reveal callback against the pending index entry.
// A missing or consumed entry is reported as unknown so that a replayed
// callback can never finalize twice.
func EvaluateDelivery(
	pending entities.PendingRequest,
	found bool,
	resolution entities.Resolution,
) error {
	if !found || pending.Consumed {
		return domainerrors.ErrUnknownRequest
	}
	if resolution.Resolved || !resolution.RevealRequested {
		return domainerrors.ErrAlreadyResolved
	}
	if resolution.RevealRequestID != pending.RequestID {
		return domainerrors.ErrUnknownRequest
	}
	return nil
}

// EvaluateTimeout gates the failed-reveal fallback. Authorization of the caller
// is checked separately because it depends on the administrator set.
func EvaluateTimeout(resolution entities.Resolution, timeout time.Duration, now time.Time) error {
	if resolution.Resolved {
		return domainerrors.ErrAlreadyResolved
	}
	if !resolution.RevealRequested {
		return domainerrors.ErrRevealNotRequested
	}
	deadline, ok := resolution.TimeoutAt(timeout)
	if !ok || now.Before(deadline) {
		return domainerrors.ErrTimeoutNotReached
	}
	return nil
}
