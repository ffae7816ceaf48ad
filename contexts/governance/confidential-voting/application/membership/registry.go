// Package membership maintains participants, their weights and the running
// total of active voting power. All functions operate on the Store of the
// current atomic unit, so callers decide the transaction boundary.
package membership

import (
	"context"
	"strings"
	"time"

	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	"concord/contexts/governance/confidential-voting/domain/services"
	"concord/contexts/governance/confidential-voting/ports"
)

type RegisterInput struct {
	MemberID  string
	Name      string
	RoleLabel string
	Weight    uint32
}

type Registry struct {
	// DefaultWeight is assigned to self-registered members.
	DefaultWeight uint32
	// AutoRegister enables implicit registration on a first member action.
	AutoRegister bool
}

// Register adds a member or re-activates a deactivated one. Role checks are
// the caller's responsibility.
func (r Registry) Register(
	ctx context.Context,
	store ports.MemberRepository,
	input RegisterInput,
	now time.Time,
) (entities.Member, error) {
	memberID := strings.TrimSpace(input.MemberID)
	if err := services.ValidateIdentity(memberID); err != nil {
		return entities.Member{}, err
	}
	if err := services.ValidateWeight(input.Weight); err != nil {
		return entities.Member{}, err
	}
	if err := services.ValidateText(input.Name, input.RoleLabel); err != nil {
		return entities.Member{}, err
	}

	existing, found, err := store.GetMember(ctx, memberID)
	if err != nil {
		return entities.Member{}, err
	}
	if found && existing.Active {
		return entities.Member{}, domainerrors.ErrDuplicateMember
	}

	member := entities.Member{
		MemberID:  memberID,
		Name:      input.Name,
		RoleLabel: input.RoleLabel,
		Weight:    input.Weight,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if found {
		member.CreatedAt = existing.CreatedAt
	}
	if err := store.SaveMember(ctx, member); err != nil {
		return entities.Member{}, err
	}
	if err := adjustVotingPower(ctx, store, int64(member.EffectiveWeight())); err != nil {
		return entities.Member{}, err
	}
	return member, nil
}

// EnsureRegistered is the explicit self-registration step run at the top of
// member-gated actions. It returns the active member and whether it was
// created by this call.
func (r Registry) EnsureRegistered(
	ctx context.Context,
	store ports.MemberRepository,
	memberID string,
	now time.Time,
) (entities.Member, bool, error) {
	memberID = strings.TrimSpace(memberID)
	if err := services.ValidateIdentity(memberID); err != nil {
		return entities.Member{}, false, err
	}
	existing, found, err := store.GetMember(ctx, memberID)
	if err != nil {
		return entities.Member{}, false, err
	}
	if found {
		if !existing.Active {
			return entities.Member{}, false, domainerrors.ErrMemberInactive
		}
		return existing, false, nil
	}
	if !r.AutoRegister {
		return entities.Member{}, false, domainerrors.ErrUnknownMember
	}

	weight := r.DefaultWeight
	if weight == 0 {
		weight = entities.MinMemberWeight
	}
	if err := services.ValidateWeight(weight); err != nil {
		return entities.Member{}, false, err
	}
	member := entities.Member{
		MemberID:       memberID,
		Name:           services.TruncateText(memberID),
		RoleLabel:      entities.DefaultRoleLabel,
		Weight:         weight,
		Active:         true,
		AutoRegistered: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.SaveMember(ctx, member); err != nil {
		return entities.Member{}, false, err
	}
	if err := adjustVotingPower(ctx, store, int64(member.Weight)); err != nil {
		return entities.Member{}, false, err
	}
	return member, true, nil
}

// Deactivate removes a member's weight from the totals. Members are never
// deleted.
func (r Registry) Deactivate(
	ctx context.Context,
	store ports.MemberRepository,
	memberID string,
	now time.Time,
) (entities.Member, error) {
	memberID = strings.TrimSpace(memberID)
	if err := services.ValidateIdentity(memberID); err != nil {
		return entities.Member{}, err
	}
	member, found, err := store.GetMember(ctx, memberID)
	if err != nil {
		return entities.Member{}, err
	}
	if !found {
		return entities.Member{}, domainerrors.ErrMemberNotFound
	}
	if !member.Active {
		return entities.Member{}, domainerrors.ErrMemberInactive
	}
	removed := member.EffectiveWeight()
	member.Active = false
	member.UpdatedAt = now
	if err := store.SaveMember(ctx, member); err != nil {
		return entities.Member{}, err
	}
	if err := adjustVotingPower(ctx, store, -int64(removed)); err != nil {
		return entities.Member{}, err
	}
	return member, nil
}

// WeightOf returns 0 for unknown or inactive identities. Only storage
// failures are reported as errors.
func WeightOf(ctx context.Context, store ports.MemberRepository, memberID string) (uint32, error) {
	member, found, err := store.GetMember(ctx, strings.TrimSpace(memberID))
	if err != nil {
		return 0, err
	}
	if !found || !member.Active {
		return 0, nil
	}
	return member.Weight, nil
}

func TotalVotingPower(ctx context.Context, store ports.MemberRepository) (uint64, error) {
	return store.TotalVotingPower(ctx)
}

func adjustVotingPower(ctx context.Context, store ports.MemberRepository, delta int64) error {
	total, err := store.TotalVotingPower(ctx)
	if err != nil {
		return err
	}
	next := int64(total) + delta
	if next < 0 {
		next = 0
	}
	return store.SetTotalVotingPower(ctx, uint64(next))
}
