package commands

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	application "concord/contexts/governance/confidential-voting/application"
	"concord/contexts/governance/confidential-voting/application/ballots"
	"concord/contexts/governance/confidential-voting/application/membership"
	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	"concord/contexts/governance/confidential-voting/domain/services"
	"concord/contexts/governance/confidential-voting/ports"
	contractsv1 "concord/contracts/gen/events/v1"
)

const (
	DefaultVotingPeriod   = 72 * time.Hour
	DefaultRevealTimeout  = 24 * time.Hour
	DefaultIdempotencyTTL = 7 * 24 * time.Hour
)

type OpenResolutionCommand struct {
	CallerID       string
	IdempotencyKey string
	Title          string
	Description    string
	RequiredQuorum uint64
}

type OpenResolutionResult struct {
	Resolution        entities.Resolution
	CreatorRegistered bool
	Replayed          bool
}

type CastBallotCommand struct {
	CallerID     string
	ResolutionID int64
	Choice       entities.Ciphertext
	Proof        []byte
}

type CastBallotResult struct {
	ResolutionID     int64
	MemberID         string
	Weight           uint32
	CastCount        int
	Replaced         bool
	MemberRegistered bool
	CastAt           time.Time
}

type RequestRevealCommand struct {
	CallerID     string
	ResolutionID int64
}

type DeliverRevealCommand struct {
	CallerID   string
	RequestID  string
	Plaintexts []uint64
}

type HandleTimeoutCommand struct {
	CallerID     string
	ResolutionID int64
}

// LifecycleUseCase drives a resolution from opening through the reveal, or
// through the timeout fallback when the oracle never answers.
type LifecycleUseCase struct {
	Repo        ports.Repository
	Idempotency ports.IdempotencyStore
	Registry    membership.Registry
	Aggregator  ballots.Aggregator
	Authorizer  application.Authorizer
	Serializer  *application.Serializer
	Oracle      ports.DecryptionOracle
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Metrics     ports.Metrics
	Logger      *slog.Logger

	VotingPeriod   time.Duration
	RevealTimeout  time.Duration
	IdempotencyTTL time.Duration
}

func (uc LifecycleUseCase) OpenResolution(ctx context.Context, cmd OpenResolutionCommand) (OpenResolutionResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	metrics := application.ResolveMetrics(uc.Metrics)
	callerID := strings.TrimSpace(cmd.CallerID)
	key := strings.TrimSpace(cmd.IdempotencyKey)
	logger.Info("resolution open processing started",
		"event", "voting_resolution_open_started",
		"module", moduleName,
		"layer", "application",
		"creator_id", callerID,
		"required_quorum", cmd.RequiredQuorum,
	)

	var result OpenResolutionResult
	err := uc.Serializer.Exclusive(ctx, func(ctx context.Context) error {
		now := uc.now()
		if err := services.ValidateText(cmd.Title, cmd.Description); err != nil {
			return err
		}
		if cmd.RequiredQuorum == 0 {
			return domainerrors.ErrQuorumZero
		}

		requestHash := hashRequest(struct {
			CallerID       string `json:"caller_id"`
			Title          string `json:"title"`
			Description    string `json:"description"`
			RequiredQuorum uint64 `json:"required_quorum"`
		}{callerID, cmd.Title, cmd.Description, cmd.RequiredQuorum})
		if key != "" && uc.Idempotency != nil {
			record, found, err := uc.Idempotency.Get(ctx, key, now)
			if err != nil {
				return err
			}
			if found {
				if record.RequestHash != requestHash {
					return domainerrors.ErrIdempotencyConflict
				}
				resolution, err := uc.Repo.GetResolution(ctx, record.ResolutionID)
				if err != nil {
					return err
				}
				result = OpenResolutionResult{Resolution: resolution, Replayed: true}
				return nil
			}
		}

		err := uc.Repo.Atomically(ctx, func(ctx context.Context, store ports.Store) error {
			creator, registered, err := uc.Registry.EnsureRegistered(ctx, store, callerID, now)
			if err != nil {
				return err
			}
			power, err := store.TotalVotingPower(ctx)
			if err != nil {
				return err
			}
			if err := services.ValidateQuorum(cmd.RequiredQuorum, power); err != nil {
				return err
			}
			resolutionID, err := store.NextResolutionID(ctx)
			if err != nil {
				return err
			}
			yes, no, err := uc.Aggregator.EmptyTallies(ctx)
			if err != nil {
				return err
			}
			resolution := entities.Resolution{
				ResolutionID:   resolutionID,
				Title:          cmd.Title,
				Description:    cmd.Description,
				CreatorID:      creator.MemberID,
				StartTime:      now,
				EndTime:        now.Add(uc.votingPeriod()),
				RequiredQuorum: cmd.RequiredQuorum,
				Active:         true,
				YesVotes:       yes,
				NoVotes:        no,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := store.SaveResolution(ctx, resolution); err != nil {
				return err
			}
			if registered {
				if err := uc.appendAutoRegistered(ctx, store, creator, power, now); err != nil {
					return err
				}
			}
			if err := appendEvent(ctx, store, uc.IDGen, contractsv1.EventResolutionOpened, "resolution_id", resolutionKey(resolutionID), now, map[string]any{
				"resolution_id":   resolutionID,
				"title":           resolution.Title,
				"creator_id":      resolution.CreatorID,
				"required_quorum": resolution.RequiredQuorum,
				"start_time":      resolution.StartTime.Format(time.RFC3339),
				"end_time":        resolution.EndTime.Format(time.RFC3339),
				"occurred_at":     now.Format(time.RFC3339),
			}); err != nil {
				return err
			}
			result = OpenResolutionResult{Resolution: resolution, CreatorRegistered: registered}
			return nil
		})
		if err != nil {
			return err
		}

		if key != "" && uc.Idempotency != nil {
			if err := uc.Idempotency.Put(ctx, ports.IdempotencyRecord{
				Key:          key,
				RequestHash:  requestHash,
				ResolutionID: result.Resolution.ResolutionID,
				ExpiresAt:    now.Add(uc.idempotencyTTL()),
			}); err != nil {
				logger.Warn("resolution open idempotency record not stored",
					"event", "voting_resolution_open_idempotency_failed",
					"module", moduleName,
					"layer", "application",
					"resolution_id", result.Resolution.ResolutionID,
					"error", err.Error(),
				)
			}
		}
		return nil
	})
	if err != nil {
		uc.rejected(logger, metrics, "open_resolution", callerID, 0, err)
		return OpenResolutionResult{}, err
	}
	if result.Replayed {
		logger.Info("resolution open replayed",
			"event", "voting_resolution_open_replayed",
			"module", moduleName,
			"layer", "application",
			"resolution_id", result.Resolution.ResolutionID,
		)
		return result, nil
	}

	metrics.ResolutionOpened()
	logger.Info("resolution opened",
		"event", "voting_resolution_opened",
		"module", moduleName,
		"layer", "application",
		"resolution_id", result.Resolution.ResolutionID,
		"creator_id", result.Resolution.CreatorID,
		"creator_registered", result.CreatorRegistered,
		"end_time", result.Resolution.EndTime,
	)
	return result, nil
}

func (uc LifecycleUseCase) CastBallot(ctx context.Context, cmd CastBallotCommand) (CastBallotResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	metrics := application.ResolveMetrics(uc.Metrics)
	callerID := strings.TrimSpace(cmd.CallerID)

	var result CastBallotResult
	err := uc.Serializer.Exclusive(ctx, func(ctx context.Context) error {
		now := uc.now()
		return uc.Repo.Atomically(ctx, func(ctx context.Context, store ports.Store) error {
			member, registered, err := uc.Registry.EnsureRegistered(ctx, store, callerID, now)
			if err != nil {
				return err
			}
			resolution, err := store.GetResolution(ctx, cmd.ResolutionID)
			if err != nil {
				return err
			}
			if err := services.EvaluateBallot(resolution, now); err != nil {
				return err
			}
			cast, err := uc.Aggregator.CastOrUpdate(ctx, store, resolution, ballots.CastInput{
				MemberID: member.MemberID,
				Choice:   cmd.Choice,
				Proof:    cmd.Proof,
				Now:      now,
			})
			if err != nil {
				return err
			}
			if err := store.SaveResolution(ctx, cast.Resolution); err != nil {
				return err
			}
			if err := store.SaveBallot(ctx, cast.Ballot); err != nil {
				return err
			}
			if registered {
				power, err := store.TotalVotingPower(ctx)
				if err != nil {
					return err
				}
				if err := uc.appendAutoRegistered(ctx, store, member, power, now); err != nil {
					return err
				}
			}
			// The choice and its weighted shares never leave the store.
			if err := appendEvent(ctx, store, uc.IDGen, contractsv1.EventBallotCast, "resolution_id", resolutionKey(resolution.ResolutionID), now, map[string]any{
				"resolution_id": resolution.ResolutionID,
				"member_id":     member.MemberID,
				"cast_count":    cast.Ballot.CastCount,
				"replaced":      cast.Replaced,
				"occurred_at":   now.Format(time.RFC3339),
			}); err != nil {
				return err
			}
			result = CastBallotResult{
				ResolutionID:     resolution.ResolutionID,
				MemberID:         member.MemberID,
				Weight:           cast.Ballot.Weight,
				CastCount:        cast.Ballot.CastCount,
				Replaced:         cast.Replaced,
				MemberRegistered: registered,
				CastAt:           now,
			}
			return nil
		})
	})
	if err != nil {
		uc.rejected(logger, metrics, "cast_ballot", callerID, cmd.ResolutionID, err)
		return CastBallotResult{}, err
	}

	metrics.BallotCast(result.Replaced)
	logger.Info("ballot cast",
		"event", "voting_ballot_cast",
		"module", moduleName,
		"layer", "application",
		"resolution_id", result.ResolutionID,
		"member_id", result.MemberID,
		"cast_count", result.CastCount,
		"replaced", result.Replaced,
	)
	return result, nil
}

// RequestReveal closes voting and hands both tallies to the decryption
// oracle. The oracle call happens inside the atomic unit; if persisting the
// request fails afterwards the oracle's eventual callback finds no pending
// entry and is rejected as unknown.
func (uc LifecycleUseCase) RequestReveal(ctx context.Context, cmd RequestRevealCommand) (entities.Resolution, error) {
	logger := application.ResolveLogger(uc.Logger)
	metrics := application.ResolveMetrics(uc.Metrics)
	callerID := strings.TrimSpace(cmd.CallerID)

	var resolution entities.Resolution
	err := uc.Serializer.Exclusive(ctx, func(ctx context.Context) error {
		now := uc.now()
		return uc.Repo.Atomically(ctx, func(ctx context.Context, store ports.Store) error {
			current, err := store.GetResolution(ctx, cmd.ResolutionID)
			if err != nil {
				return err
			}
			if err := services.EvaluateRevealRequest(current, callerID, now); err != nil {
				return err
			}
			if uc.Oracle == nil {
				return errors.New("decryption oracle is not configured")
			}
			yes, no := uc.Aggregator.Tallies(current)
			requestID, err := uc.Oracle.RequestDecryption(ctx, []entities.Ciphertext{yes, no})
			if err != nil {
				return err
			}
			requestID = strings.TrimSpace(requestID)
			if requestID == "" {
				return errors.New("decryption oracle returned an empty request id")
			}
			if _, exists, err := store.GetPendingRequest(ctx, requestID); err != nil {
				return err
			} else if exists {
				return errors.New("decryption oracle reused request id " + requestID)
			}

			requestedAt := now
			current.Active = false
			current.RevealRequested = true
			current.RevealRequestTime = &requestedAt
			current.RevealRequestID = requestID
			current.UpdatedAt = now
			if err := store.SaveResolution(ctx, current); err != nil {
				return err
			}
			if err := store.SavePendingRequest(ctx, entities.PendingRequest{
				RequestID:    requestID,
				ResolutionID: current.ResolutionID,
				RequestedAt:  now,
			}); err != nil {
				return err
			}
			if err := appendEvent(ctx, store, uc.IDGen, contractsv1.EventResolutionRevealRequested, "resolution_id", resolutionKey(current.ResolutionID), now, map[string]any{
				"resolution_id": current.ResolutionID,
				"request_id":    requestID,
				"requested_by":  callerID,
				"ciphertexts":   [][]byte{yes, no},
				"timeout_at":    now.Add(uc.revealTimeout()).Format(time.RFC3339),
				"occurred_at":   now.Format(time.RFC3339),
			}); err != nil {
				return err
			}
			resolution = current
			return nil
		})
	})
	if err != nil {
		uc.rejected(logger, metrics, "request_reveal", callerID, cmd.ResolutionID, err)
		return entities.Resolution{}, err
	}

	metrics.RevealRequested()
	logger.Info("resolution reveal requested",
		"event", "voting_resolution_reveal_requested",
		"module", moduleName,
		"layer", "application",
		"resolution_id", resolution.ResolutionID,
		"request_id", resolution.RevealRequestID,
		"requested_by", callerID,
	)
	return resolution, nil
}

// DeliverReveal is the oracle callback. Plaintexts are the yes and no totals
// in the order they were requested.
func (uc LifecycleUseCase) DeliverReveal(ctx context.Context, cmd DeliverRevealCommand) (entities.Resolution, error) {
	logger := application.ResolveLogger(uc.Logger)
	metrics := application.ResolveMetrics(uc.Metrics)
	requestID := strings.TrimSpace(cmd.RequestID)

	var (
		resolution   entities.Resolution
		resolutionID int64
	)
	err := uc.Serializer.Exclusive(ctx, func(ctx context.Context) error {
		if err := uc.Authorizer.RequireOracle(cmd.CallerID); err != nil {
			return err
		}
		if len(cmd.Plaintexts) != 2 {
			return domainerrors.ErrInvalidPlaintexts
		}
		now := uc.now()
		return uc.Repo.Atomically(ctx, func(ctx context.Context, store ports.Store) error {
			pending, found, err := store.GetPendingRequest(ctx, requestID)
			if err != nil {
				return err
			}
			if !found {
				return domainerrors.ErrUnknownRequest
			}
			resolutionID = pending.ResolutionID
			current, err := store.GetResolution(ctx, pending.ResolutionID)
			if err != nil {
				return err
			}
			if err := services.EvaluateDelivery(pending, found, current); err != nil {
				return err
			}

			resolvedAt := now
			current.RevealedYesVotes = cmd.Plaintexts[0]
			current.RevealedNoVotes = cmd.Plaintexts[1]
			current.Resolved = true
			current.ResolvedAt = &resolvedAt
			current.UpdatedAt = now
			pending.Consumed = true
			pending.ConsumedAt = &resolvedAt
			pending.ConsumedBy = entities.ConsumedByOracle
			if err := store.SaveResolution(ctx, current); err != nil {
				return err
			}
			if err := store.SavePendingRequest(ctx, pending); err != nil {
				return err
			}
			if err := appendEvent(ctx, store, uc.IDGen, contractsv1.EventResolutionResolved, "resolution_id", resolutionKey(current.ResolutionID), now, map[string]any{
				"resolution_id":   current.ResolutionID,
				"request_id":      requestID,
				"yes_votes":       current.RevealedYesVotes,
				"no_votes":        current.RevealedNoVotes,
				"required_quorum": current.RequiredQuorum,
				"passed":          current.Passed(),
				"outcome":         string(current.Outcome()),
				"occurred_at":     now.Format(time.RFC3339),
			}); err != nil {
				return err
			}
			resolution = current
			return nil
		})
	})
	if err != nil {
		uc.rejected(logger, metrics, "deliver_reveal", cmd.CallerID, resolutionID, err, "request_id", requestID)
		return entities.Resolution{}, err
	}

	metrics.ResolutionResolved(resolution.Outcome())
	logger.Info("resolution resolved",
		"event", "voting_resolution_resolved",
		"module", moduleName,
		"layer", "application",
		"resolution_id", resolution.ResolutionID,
		"request_id", requestID,
		"yes_votes", resolution.RevealedYesVotes,
		"no_votes", resolution.RevealedNoVotes,
		"outcome", string(resolution.Outcome()),
	)
	return resolution, nil
}

// HandleTimeout finalizes a resolution whose reveal never arrived. Timing is
// checked before the caller's role, so an early call fails with a state error
// whoever makes it.
func (uc LifecycleUseCase) HandleTimeout(ctx context.Context, cmd HandleTimeoutCommand) (entities.Resolution, error) {
	logger := application.ResolveLogger(uc.Logger)
	metrics := application.ResolveMetrics(uc.Metrics)
	callerID := strings.TrimSpace(cmd.CallerID)

	var resolution entities.Resolution
	err := uc.Serializer.Exclusive(ctx, func(ctx context.Context) error {
		now := uc.now()
		return uc.Repo.Atomically(ctx, func(ctx context.Context, store ports.Store) error {
			current, err := store.GetResolution(ctx, cmd.ResolutionID)
			if err != nil {
				return err
			}
			if err := services.EvaluateTimeout(current, uc.revealTimeout(), now); err != nil {
				return err
			}
			if err := uc.Authorizer.RequireCreatorOrAdmin(callerID, current.CreatorID); err != nil {
				return err
			}

			resolvedAt := now
			current.RevealedYesVotes = 0
			current.RevealedNoVotes = 0
			current.Resolved = true
			current.RevealFailed = true
			current.ResolvedAt = &resolvedAt
			current.UpdatedAt = now
			if err := store.SaveResolution(ctx, current); err != nil {
				return err
			}
			pending, found, err := store.GetPendingRequest(ctx, current.RevealRequestID)
			if err != nil {
				return err
			}
			if found && !pending.Consumed {
				pending.Consumed = true
				pending.ConsumedAt = &resolvedAt
				pending.ConsumedBy = entities.ConsumedByTimeout
				if err := store.SavePendingRequest(ctx, pending); err != nil {
					return err
				}
			}
			if err := appendEvent(ctx, store, uc.IDGen, contractsv1.EventResolutionRevealFailed, "resolution_id", resolutionKey(current.ResolutionID), now, map[string]any{
				"resolution_id": current.ResolutionID,
				"request_id":    current.RevealRequestID,
				"handled_by":    callerID,
				"outcome":       string(current.Outcome()),
				"occurred_at":   now.Format(time.RFC3339),
			}); err != nil {
				return err
			}
			resolution = current
			return nil
		})
	})
	if err != nil {
		uc.rejected(logger, metrics, "handle_timeout", callerID, cmd.ResolutionID, err)
		return entities.Resolution{}, err
	}

	metrics.ResolutionResolved(resolution.Outcome())
	logger.Warn("resolution reveal timed out",
		"event", "voting_resolution_reveal_failed",
		"module", moduleName,
		"layer", "application",
		"resolution_id", resolution.ResolutionID,
		"request_id", resolution.RevealRequestID,
		"handled_by", callerID,
	)
	return resolution, nil
}

func (uc LifecycleUseCase) appendAutoRegistered(
	ctx context.Context,
	store ports.Store,
	member entities.Member,
	total uint64,
	now time.Time,
) error {
	return appendEvent(ctx, store, uc.IDGen, contractsv1.EventMemberRegistered, "member_id", member.MemberID, now, map[string]any{
		"member_id":          member.MemberID,
		"name":               member.Name,
		"role_label":         member.RoleLabel,
		"weight":             member.Weight,
		"auto_registered":    true,
		"registered_by":      member.MemberID,
		"total_voting_power": total,
		"occurred_at":        now.Format(time.RFC3339),
	})
}

func (uc LifecycleUseCase) rejected(
	logger *slog.Logger,
	metrics ports.Metrics,
	operation string,
	callerID string,
	resolutionID int64,
	err error,
	attrs ...any,
) {
	metrics.TransitionRejected(operation, domainerrors.CodeOf(err))
	fields := []any{
		"event", "voting_"+operation+"_rejected",
		"module", moduleName,
		"layer", "application",
		"caller_id", strings.TrimSpace(callerID),
		"resolution_id", resolutionID,
		"error_code", domainerrors.CodeOf(err),
		"error", err.Error(),
	}
	logger.Warn("resolution transition rejected", append(fields, attrs...)...)
}

func (uc LifecycleUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (uc LifecycleUseCase) votingPeriod() time.Duration {
	if uc.VotingPeriod > 0 {
		return uc.VotingPeriod
	}
	return DefaultVotingPeriod
}

func (uc LifecycleUseCase) revealTimeout() time.Duration {
	if uc.RevealTimeout > 0 {
		return uc.RevealTimeout
	}
	return DefaultRevealTimeout
}

func (uc LifecycleUseCase) idempotencyTTL() time.Duration {
	if uc.IdempotencyTTL > 0 {
		return uc.IdempotencyTTL
	}
	return DefaultIdempotencyTTL
}

func resolutionKey(resolutionID int64) string {
	return strconv.FormatInt(resolutionID, 10)
}
