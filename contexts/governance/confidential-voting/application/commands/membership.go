package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "concord/contexts/governance/confidential-voting/application"
	"concord/contexts/governance/confidential-voting/application/membership"
	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	"concord/contexts/governance/confidential-voting/ports"
	contractsv1 "concord/contracts/gen/events/v1"
)

// RegisterMemberCommand is the administrator's explicit registration input.
type RegisterMemberCommand struct {
	CallerID  string
	MemberID  string
	Name      string
	RoleLabel string
	Weight    uint32
}

type DeactivateMemberCommand struct {
	CallerID string
	MemberID string
}

// MembershipUseCase exposes the administrator-only registry mutations.
type MembershipUseCase struct {
	Repo       ports.Repository
	Registry   membership.Registry
	Authorizer application.Authorizer
	Serializer *application.Serializer
	Clock      ports.Clock
	IDGen      ports.IDGenerator
	Metrics    ports.Metrics
	Logger     *slog.Logger
}

func (uc MembershipUseCase) RegisterMember(ctx context.Context, cmd RegisterMemberCommand) (entities.Member, error) {
	logger := application.ResolveLogger(uc.Logger)
	metrics := application.ResolveMetrics(uc.Metrics)
	logger.Info("member register processing started",
		"event", "voting_member_register_started",
		"module", moduleName,
		"layer", "application",
		"caller_id", strings.TrimSpace(cmd.CallerID),
		"member_id", strings.TrimSpace(cmd.MemberID),
	)

	var (
		member entities.Member
		total  uint64
	)
	err := uc.Serializer.Exclusive(ctx, func(ctx context.Context) error {
		if err := uc.Authorizer.RequireAdmin(cmd.CallerID); err != nil {
			return err
		}
		now := uc.now()
		return uc.Repo.Atomically(ctx, func(ctx context.Context, store ports.Store) error {
			registered, err := uc.Registry.Register(ctx, store, membership.RegisterInput{
				MemberID:  cmd.MemberID,
				Name:      cmd.Name,
				RoleLabel: cmd.RoleLabel,
				Weight:    cmd.Weight,
			}, now)
			if err != nil {
				return err
			}
			if total, err = store.TotalVotingPower(ctx); err != nil {
				return err
			}
			member = registered
			return appendEvent(ctx, store, uc.IDGen, contractsv1.EventMemberRegistered, "member_id", member.MemberID, now, map[string]any{
				"member_id":          member.MemberID,
				"name":               member.Name,
				"role_label":         member.RoleLabel,
				"weight":             member.Weight,
				"auto_registered":    false,
				"registered_by":      strings.TrimSpace(cmd.CallerID),
				"total_voting_power": total,
				"occurred_at":        now.Format(time.RFC3339),
			})
		})
	})
	if err != nil {
		metrics.TransitionRejected("register_member", domainerrors.CodeOf(err))
		logger.Warn("member register rejected",
			"event", "voting_member_register_rejected",
			"module", moduleName,
			"layer", "application",
			"caller_id", strings.TrimSpace(cmd.CallerID),
			"member_id", strings.TrimSpace(cmd.MemberID),
			"error", err.Error(),
		)
		return entities.Member{}, err
	}

	metrics.VotingPowerChanged(total)
	logger.Info("member registered",
		"event", "voting_member_registered",
		"module", moduleName,
		"layer", "application",
		"member_id", member.MemberID,
		"weight", member.Weight,
		"total_voting_power", total,
	)
	return member, nil
}

func (uc MembershipUseCase) DeactivateMember(ctx context.Context, cmd DeactivateMemberCommand) (entities.Member, error) {
	logger := application.ResolveLogger(uc.Logger)
	metrics := application.ResolveMetrics(uc.Metrics)

	var (
		member entities.Member
		total  uint64
	)
	err := uc.Serializer.Exclusive(ctx, func(ctx context.Context) error {
		if err := uc.Authorizer.RequireAdmin(cmd.CallerID); err != nil {
			return err
		}
		now := uc.now()
		return uc.Repo.Atomically(ctx, func(ctx context.Context, store ports.Store) error {
			deactivated, err := uc.Registry.Deactivate(ctx, store, cmd.MemberID, now)
			if err != nil {
				return err
			}
			if total, err = store.TotalVotingPower(ctx); err != nil {
				return err
			}
			member = deactivated
			return appendEvent(ctx, store, uc.IDGen, contractsv1.EventMemberDeactivated, "member_id", member.MemberID, now, map[string]any{
				"member_id":          member.MemberID,
				"deactivated_by":     strings.TrimSpace(cmd.CallerID),
				"total_voting_power": total,
				"occurred_at":        now.Format(time.RFC3339),
			})
		})
	})
	if err != nil {
		metrics.TransitionRejected("deactivate_member", domainerrors.CodeOf(err))
		logger.Warn("member deactivate rejected",
			"event", "voting_member_deactivate_rejected",
			"module", moduleName,
			"layer", "application",
			"caller_id", strings.TrimSpace(cmd.CallerID),
			"member_id", strings.TrimSpace(cmd.MemberID),
			"error", err.Error(),
		)
		return entities.Member{}, err
	}

	metrics.VotingPowerChanged(total)
	logger.Info("member deactivated",
		"event", "voting_member_deactivated",
		"module", moduleName,
		"layer", "application",
		"member_id", member.MemberID,
		"total_voting_power", total,
	)
	return member, nil
}

func (uc MembershipUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
