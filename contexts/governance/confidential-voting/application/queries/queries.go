package queries

import (
	"context"
	"sort"
	"strings"
	"time"

	application "concord/contexts/governance/confidential-voting/application"
	"concord/contexts/governance/confidential-voting/application/membership"
	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	"concord/contexts/governance/confidential-voting/ports"
)

const defaultRevealTimeout = 24 * time.Hour

// OutcomeView is the public result of a resolution. Vote totals are present
// only once a genuine reveal has been delivered.
type OutcomeView struct {
	ResolutionID     int64
	Outcome          entities.Outcome
	Passed           bool
	RevealFailed     bool
	RevealedYesVotes uint64
	RevealedNoVotes  uint64
	RequiredQuorum   uint64
	ResolvedAt       *time.Time
}

// ResolutionView is a resolution without its confidential tallies.
type ResolutionView struct {
	ResolutionID    int64
	Title           string
	Description     string
	CreatorID       string
	StartTime       time.Time
	EndTime         time.Time
	RequiredQuorum  uint64
	State           entities.ResolutionState
	BallotCount     int
	RevealRequestID string
	Status          entities.ResolutionStatus
	Outcome         OutcomeView
}

// QueryService answers read-only questions under the shared lock, so a read
// never observes a half-applied action.
type QueryService struct {
	Repo          ports.Repository
	Serializer    *application.Serializer
	Clock         ports.Clock
	RevealTimeout time.Duration
}

func (s QueryService) GetMember(ctx context.Context, memberID string) (entities.Member, error) {
	var member entities.Member
	err := s.Serializer.Shared(ctx, func(ctx context.Context) error {
		found, ok, err := s.Repo.GetMember(ctx, strings.TrimSpace(memberID))
		if err != nil {
			return err
		}
		if !ok {
			return domainerrors.ErrMemberNotFound
		}
		member = found
		return nil
	})
	return member, err
}

// ListMembers returns members ordered by id. activeOnly drops deactivated
// members.
func (s QueryService) ListMembers(ctx context.Context, activeOnly bool) ([]entities.Member, error) {
	var members []entities.Member
	err := s.Serializer.Shared(ctx, func(ctx context.Context) error {
		all, err := s.Repo.ListMembers(ctx)
		if err != nil {
			return err
		}
		members = make([]entities.Member, 0, len(all))
		for _, member := range all {
			if activeOnly && !member.Active {
				continue
			}
			members = append(members, member)
		}
		sort.Slice(members, func(i, j int) bool { return members[i].MemberID < members[j].MemberID })
		return nil
	})
	return members, err
}

// WeightOf returns 0 for unknown or deactivated identities.
func (s QueryService) WeightOf(ctx context.Context, memberID string) (uint32, error) {
	var weight uint32
	err := s.Serializer.Shared(ctx, func(ctx context.Context) error {
		value, err := membership.WeightOf(ctx, s.Repo, memberID)
		weight = value
		return err
	})
	return weight, err
}

func (s QueryService) TotalVotingPower(ctx context.Context) (uint64, error) {
	var total uint64
	err := s.Serializer.Shared(ctx, func(ctx context.Context) error {
		value, err := membership.TotalVotingPower(ctx, s.Repo)
		total = value
		return err
	})
	return total, err
}

func (s QueryService) GetResolution(ctx context.Context, resolutionID int64) (ResolutionView, error) {
	var view ResolutionView
	err := s.Serializer.Shared(ctx, func(ctx context.Context) error {
		if resolutionID <= 0 {
			return domainerrors.ErrInvalidResolutionID
		}
		resolution, err := s.Repo.GetResolution(ctx, resolutionID)
		if err != nil {
			return err
		}
		count, err := s.Repo.CountBallots(ctx, resolutionID)
		if err != nil {
			return err
		}
		view = s.toView(resolution, count)
		return nil
	})
	return view, err
}

// ListResolutions returns every resolution, newest first.
func (s QueryService) ListResolutions(ctx context.Context) ([]ResolutionView, error) {
	var views []ResolutionView
	err := s.Serializer.Shared(ctx, func(ctx context.Context) error {
		resolutions, err := s.Repo.ListResolutions(ctx)
		if err != nil {
			return err
		}
		sort.Slice(resolutions, func(i, j int) bool {
			return resolutions[i].ResolutionID > resolutions[j].ResolutionID
		})
		views = make([]ResolutionView, 0, len(resolutions))
		for _, resolution := range resolutions {
			count, err := s.Repo.CountBallots(ctx, resolution.ResolutionID)
			if err != nil {
				return err
			}
			views = append(views, s.toView(resolution, count))
		}
		return nil
	})
	return views, err
}

func (s QueryService) Status(ctx context.Context, resolutionID int64) (entities.ResolutionStatus, error) {
	var status entities.ResolutionStatus
	err := s.Serializer.Shared(ctx, func(ctx context.Context) error {
		resolution, err := s.Repo.GetResolution(ctx, resolutionID)
		if err != nil {
			return err
		}
		status = resolution.Status(s.now(), s.revealTimeout())
		return nil
	})
	return status, err
}

func (s QueryService) Outcome(ctx context.Context, resolutionID int64) (OutcomeView, error) {
	var view OutcomeView
	err := s.Serializer.Shared(ctx, func(ctx context.Context) error {
		resolution, err := s.Repo.GetResolution(ctx, resolutionID)
		if err != nil {
			return err
		}
		view = outcomeOf(resolution)
		return nil
	})
	return view, err
}

func (s QueryService) toView(resolution entities.Resolution, ballotCount int) ResolutionView {
	return ResolutionView{
		ResolutionID:    resolution.ResolutionID,
		Title:           resolution.Title,
		Description:     resolution.Description,
		CreatorID:       resolution.CreatorID,
		StartTime:       resolution.StartTime,
		EndTime:         resolution.EndTime,
		RequiredQuorum:  resolution.RequiredQuorum,
		State:           resolution.State(),
		BallotCount:     ballotCount,
		RevealRequestID: resolution.RevealRequestID,
		Status:          resolution.Status(s.now(), s.revealTimeout()),
		Outcome:         outcomeOf(resolution),
	}
}

func outcomeOf(resolution entities.Resolution) OutcomeView {
	view := OutcomeView{
		ResolutionID:   resolution.ResolutionID,
		Outcome:        resolution.Outcome(),
		Passed:         resolution.Passed(),
		RevealFailed:   resolution.RevealFailed,
		RequiredQuorum: resolution.RequiredQuorum,
		ResolvedAt:     resolution.ResolvedAt,
	}
	if resolution.Resolved && !resolution.RevealFailed {
		view.RevealedYesVotes = resolution.RevealedYesVotes
		view.RevealedNoVotes = resolution.RevealedNoVotes
	}
	return view
}

func (s QueryService) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (s QueryService) revealTimeout() time.Duration {
	if s.RevealTimeout > 0 {
		return s.RevealTimeout
	}
	return defaultRevealTimeout
}

// DueForTimeout lists resolutions whose reveal is outstanding and whose
// timeout fallback may run at the current time.
func (s QueryService) DueForTimeout(ctx context.Context) ([]entities.Resolution, error) {
	var due []entities.Resolution
	err := s.Serializer.Shared(ctx, func(ctx context.Context) error {
		awaiting, err := s.Repo.ListAwaitingReveal(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		for _, resolution := range awaiting {
			deadline, ok := resolution.TimeoutAt(s.revealTimeout())
			if ok && !now.Before(deadline) {
				due = append(due, resolution)
			}
		}
		return nil
	})
	return due, err
}
