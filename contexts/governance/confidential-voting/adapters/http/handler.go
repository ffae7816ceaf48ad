package httpadapter

import (
	"context"
	"errors"
	"log/slog"

	"concord/contexts/governance/confidential-voting/application/commands"
	"concord/contexts/governance/confidential-voting/application/queries"
	"concord/contexts/governance/confidential-voting/domain/entities"
	httptransport "concord/contexts/governance/confidential-voting/transport/http"
)

var errNoCipher = errors.New("cipher backend is not configured")

// Handler adapts use cases to transport DTOs. Caller identity is resolved by
// the HTTP server and passed in as callerID.
type Handler struct {
	Membership commands.MembershipUseCase
	Lifecycle  commands.LifecycleUseCase
	Queries    queries.QueryService
	Cipher     CipherInfo
	Logger     *slog.Logger
}

// CipherInfo is the public half of the configured cipher backend.
type CipherInfo interface {
	Name() string
	PublicKey() ([]byte, error)
}

// RegisterMemberHandler godoc
// @Summary Register or reactivate a member
// @Description Administrator only. Weight must be within 1..1000.
// @Tags members
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Caller identity"
// @Param request body httptransport.RegisterMemberRequest true "Member"
// @Success 201 {object} httptransport.MemberResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 403 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/members [post]
func (h Handler) RegisterMemberHandler(
	ctx context.Context,
	callerID string,
	req httptransport.RegisterMemberRequest,
) (httptransport.MemberResponse, error) {
	member, err := h.Membership.RegisterMember(ctx, commands.RegisterMemberCommand{
		CallerID:  callerID,
		MemberID:  req.MemberID,
		Name:      req.Name,
		RoleLabel: req.RoleLabel,
		Weight:    req.Weight,
	})
	if err != nil {
		h.logFailure("register_member", err)
		return httptransport.MemberResponse{}, err
	}
	return mapMember(member), nil
}

func (h Handler) DeactivateMemberHandler(ctx context.Context, callerID string, memberID string) (httptransport.MemberResponse, error) {
	member, err := h.Membership.DeactivateMember(ctx, commands.DeactivateMemberCommand{
		CallerID: callerID,
		MemberID: memberID,
	})
	if err != nil {
		h.logFailure("deactivate_member", err)
		return httptransport.MemberResponse{}, err
	}
	return mapMember(member), nil
}

func (h Handler) GetMemberHandler(ctx context.Context, memberID string) (httptransport.MemberResponse, error) {
	member, err := h.Queries.GetMember(ctx, memberID)
	if err != nil {
		return httptransport.MemberResponse{}, err
	}
	return mapMember(member), nil
}

func (h Handler) ListMembersHandler(ctx context.Context, activeOnly bool) (httptransport.MemberListResponse, error) {
	members, err := h.Queries.ListMembers(ctx, activeOnly)
	if err != nil {
		return httptransport.MemberListResponse{}, err
	}
	items := make([]httptransport.MemberResponse, 0, len(members))
	for _, member := range members {
		items = append(items, mapMember(member))
	}
	return httptransport.MemberListResponse{Items: items}, nil
}

func (h Handler) WeightHandler(ctx context.Context, memberID string) (httptransport.WeightResponse, error) {
	weight, err := h.Queries.WeightOf(ctx, memberID)
	if err != nil {
		return httptransport.WeightResponse{}, err
	}
	return httptransport.WeightResponse{MemberID: memberID, Weight: weight}, nil
}

func (h Handler) VotingPowerHandler(ctx context.Context) (httptransport.VotingPowerResponse, error) {
	total, err := h.Queries.TotalVotingPower(ctx)
	if err != nil {
		return httptransport.VotingPowerResponse{}, err
	}
	return httptransport.VotingPowerResponse{TotalVotingPower: total}, nil
}

// OpenResolutionHandler godoc
// @Summary Open a resolution
// @Description Auto-registers the creator when enabled and checks the quorum against total voting power.
// @Tags resolutions
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Caller identity"
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body httptransport.OpenResolutionRequest true "Resolution"
// @Success 201 {object} httptransport.ResolutionResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 403 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/resolutions [post]
func (h Handler) OpenResolutionHandler(
	ctx context.Context,
	callerID string,
	idempotencyKey string,
	req httptransport.OpenResolutionRequest,
) (httptransport.ResolutionResponse, error) {
	result, err := h.Lifecycle.OpenResolution(ctx, commands.OpenResolutionCommand{
		CallerID:       callerID,
		IdempotencyKey: idempotencyKey,
		Title:          req.Title,
		Description:    req.Description,
		RequiredQuorum: req.RequiredQuorum,
	})
	if err != nil {
		h.logFailure("open_resolution", err)
		return httptransport.ResolutionResponse{}, err
	}
	resp, err := h.GetResolutionHandler(ctx, result.Resolution.ResolutionID)
	if err != nil {
		return httptransport.ResolutionResponse{}, err
	}
	resp.Replayed = result.Replayed
	return resp, nil
}

// CastBallotHandler godoc
// @Summary Cast or replace an encrypted ballot
// @Description Choice and proof are base64. A second ballot from the same member replaces the first.
// @Tags resolutions
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Caller identity"
// @Param resolution_id path int true "Resolution id"
// @Param request body httptransport.CastBallotRequest true "Ballot"
// @Success 200 {object} httptransport.CastBallotResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 403 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/resolutions/{resolution_id}/ballots [post]
func (h Handler) CastBallotHandler(
	ctx context.Context,
	callerID string,
	resolutionID int64,
	req httptransport.CastBallotRequest,
) (httptransport.CastBallotResponse, error) {
	result, err := h.Lifecycle.CastBallot(ctx, commands.CastBallotCommand{
		CallerID:     callerID,
		ResolutionID: resolutionID,
		Choice:       entities.Ciphertext(req.Choice),
		Proof:        req.Proof,
	})
	if err != nil {
		h.logFailure("cast_ballot", err)
		return httptransport.CastBallotResponse{}, err
	}
	return httptransport.CastBallotResponse{
		ResolutionID:     result.ResolutionID,
		MemberID:         result.MemberID,
		Weight:           result.Weight,
		CastCount:        result.CastCount,
		Replaced:         result.Replaced,
		MemberRegistered: result.MemberRegistered,
		CastAt:           result.CastAt,
	}, nil
}

// RequestRevealHandler godoc
// @Summary Request the tally reveal
// @Tags resolutions
// @Produce json
// @Param X-User-Id header string true "Caller identity"
// @Param resolution_id path int true "Resolution id"
// @Success 202 {object} httptransport.ResolutionResponse
// @Failure 403 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/resolutions/{resolution_id}/reveal [post]
func (h Handler) RequestRevealHandler(ctx context.Context, callerID string, resolutionID int64) (httptransport.ResolutionResponse, error) {
	if _, err := h.Lifecycle.RequestReveal(ctx, commands.RequestRevealCommand{
		CallerID:     callerID,
		ResolutionID: resolutionID,
	}); err != nil {
		h.logFailure("request_reveal", err)
		return httptransport.ResolutionResponse{}, err
	}
	return h.GetResolutionHandler(ctx, resolutionID)
}

// DeliverRevealHandler godoc
// @Summary Deliver decrypted tallies
// @Description Oracle identity only.
// @Tags oracle
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Oracle identity"
// @Param request body httptransport.DeliverRevealRequest true "Plaintexts"
// @Success 200 {object} httptransport.ResolutionResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 403 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/oracle/reveals [post]
func (h Handler) DeliverRevealHandler(
	ctx context.Context,
	callerID string,
	req httptransport.DeliverRevealRequest,
) (httptransport.ResolutionResponse, error) {
	resolution, err := h.Lifecycle.DeliverReveal(ctx, commands.DeliverRevealCommand{
		CallerID:   callerID,
		RequestID:  req.RequestID,
		Plaintexts: req.Plaintexts,
	})
	if err != nil {
		h.logFailure("deliver_reveal", err)
		return httptransport.ResolutionResponse{}, err
	}
	return h.GetResolutionHandler(ctx, resolution.ResolutionID)
}

// HandleTimeoutHandler godoc
// @Summary Finalize a timed-out reveal
// @Tags resolutions
// @Produce json
// @Param X-User-Id header string true "Caller identity"
// @Param resolution_id path int true "Resolution id"
// @Success 200 {object} httptransport.ResolutionResponse
// @Failure 403 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/resolutions/{resolution_id}/timeout [post]
func (h Handler) HandleTimeoutHandler(ctx context.Context, callerID string, resolutionID int64) (httptransport.ResolutionResponse, error) {
	if _, err := h.Lifecycle.HandleTimeout(ctx, commands.HandleTimeoutCommand{
		CallerID:     callerID,
		ResolutionID: resolutionID,
	}); err != nil {
		h.logFailure("handle_timeout", err)
		return httptransport.ResolutionResponse{}, err
	}
	return h.GetResolutionHandler(ctx, resolutionID)
}

func (h Handler) GetResolutionHandler(ctx context.Context, resolutionID int64) (httptransport.ResolutionResponse, error) {
	view, err := h.Queries.GetResolution(ctx, resolutionID)
	if err != nil {
		return httptransport.ResolutionResponse{}, err
	}
	return mapResolution(view), nil
}

func (h Handler) ListResolutionsHandler(ctx context.Context) (httptransport.ResolutionListResponse, error) {
	views, err := h.Queries.ListResolutions(ctx)
	if err != nil {
		return httptransport.ResolutionListResponse{}, err
	}
	items := make([]httptransport.ResolutionResponse, 0, len(views))
	for _, view := range views {
		items = append(items, mapResolution(view))
	}
	return httptransport.ResolutionListResponse{Items: items}, nil
}

func (h Handler) StatusHandler(ctx context.Context, resolutionID int64) (httptransport.StatusResponse, error) {
	status, err := h.Queries.Status(ctx, resolutionID)
	if err != nil {
		return httptransport.StatusResponse{}, err
	}
	return mapStatus(status), nil
}

// OutcomeHandler godoc
// @Summary Revealed outcome
// @Tags resolutions
// @Produce json
// @Param resolution_id path int true "Resolution id"
// @Success 200 {object} httptransport.OutcomeResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/resolutions/{resolution_id}/outcome [get]
func (h Handler) OutcomeHandler(ctx context.Context, resolutionID int64) (httptransport.OutcomeResponse, error) {
	outcome, err := h.Queries.Outcome(ctx, resolutionID)
	if err != nil {
		return httptransport.OutcomeResponse{}, err
	}
	return mapOutcome(outcome), nil
}

func (h Handler) CipherInfoHandler(_ context.Context) (httptransport.CipherInfoResponse, error) {
	if h.Cipher == nil {
		return httptransport.CipherInfoResponse{}, errNoCipher
	}
	publicKey, err := h.Cipher.PublicKey()
	if err != nil {
		return httptransport.CipherInfoResponse{}, err
	}
	return httptransport.CipherInfoResponse{Backend: h.Cipher.Name(), PublicKey: publicKey}, nil
}

func (h Handler) logFailure(operation string, err error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("voting request failed",
		"event", "http_voting_request_failed",
		"module", "governance/confidential-voting",
		"layer", "transport",
		"operation", operation,
		"error", err.Error(),
	)
}

func mapMember(member entities.Member) httptransport.MemberResponse {
	return httptransport.MemberResponse{
		MemberID:       member.MemberID,
		Name:           member.Name,
		RoleLabel:      member.RoleLabel,
		Weight:         member.Weight,
		Active:         member.Active,
		AutoRegistered: member.AutoRegistered,
		CreatedAt:      member.CreatedAt,
		UpdatedAt:      member.UpdatedAt,
	}
}

func mapResolution(view queries.ResolutionView) httptransport.ResolutionResponse {
	return httptransport.ResolutionResponse{
		ResolutionID:    view.ResolutionID,
		Title:           view.Title,
		Description:     view.Description,
		CreatorID:       view.CreatorID,
		StartTime:       view.StartTime,
		EndTime:         view.EndTime,
		RequiredQuorum:  view.RequiredQuorum,
		State:           string(view.State),
		BallotCount:     view.BallotCount,
		RevealRequestID: view.RevealRequestID,
		Status:          mapStatus(view.Status),
		Outcome:         mapOutcome(view.Outcome),
	}
}

func mapStatus(status entities.ResolutionStatus) httptransport.StatusResponse {
	return httptransport.StatusResponse{
		ResolutionID:         status.ResolutionID,
		State:                string(status.State),
		RevealRequested:      status.RevealRequested,
		RevealRequestTime:    status.RevealRequestTime,
		Resolved:             status.Resolved,
		RevealFailed:         status.RevealFailed,
		TimeRemainingSeconds: int64(status.TimeRemaining.Seconds()),
	}
}

func mapOutcome(outcome queries.OutcomeView) httptransport.OutcomeResponse {
	return httptransport.OutcomeResponse{
		ResolutionID:     outcome.ResolutionID,
		Outcome:          string(outcome.Outcome),
		Passed:           outcome.Passed,
		RevealFailed:     outcome.RevealFailed,
		RevealedYesVotes: outcome.RevealedYesVotes,
		RevealedNoVotes:  outcome.RevealedNoVotes,
		RequiredQuorum:   outcome.RequiredQuorum,
		ResolvedAt:       outcome.ResolvedAt,
	}
}
