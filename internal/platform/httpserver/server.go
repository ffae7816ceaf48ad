package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	confidentialvoting "concord/contexts/governance/confidential-voting"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	votinghttp "concord/contexts/governance/confidential-voting/transport/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "concord/internal/platform/httpserver/docs"
)

const (
	headerUserID         = "X-User-Id"
	headerIdempotencyKey = "Idempotency-Key"
	maxBodyBytes         = 1 << 20
)

type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
	addr   string
	voting confidentialvoting.Module
}

// New builds the server. gatherer may be nil, in which case /metrics is not
// exposed.
func New(
	voting confidentialvoting.Module,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		addr:   addr,
		voting: voting,
	}
	s.registerRoutes(gatherer)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	if gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.HandleFunc("GET /v1/cipher", s.handleCipherInfo)

	s.mux.HandleFunc("POST /v1/members", s.handleRegisterMember)
	s.mux.HandleFunc("GET /v1/members", s.handleListMembers)
	s.mux.HandleFunc("GET /v1/members/{member_id}", s.handleGetMember)
	s.mux.HandleFunc("POST /v1/members/{member_id}/deactivate", s.handleDeactivateMember)
	s.mux.HandleFunc("GET /v1/members/{member_id}/weight", s.handleWeight)
	s.mux.HandleFunc("GET /v1/voting-power", s.handleVotingPower)

	s.mux.HandleFunc("POST /v1/resolutions", s.handleOpenResolution)
	s.mux.HandleFunc("GET /v1/resolutions", s.handleListResolutions)
	s.mux.HandleFunc("GET /v1/resolutions/{resolution_id}", s.handleGetResolution)
	s.mux.HandleFunc("GET /v1/resolutions/{resolution_id}/status", s.handleStatus)
	s.mux.HandleFunc("GET /v1/resolutions/{resolution_id}/outcome", s.handleOutcome)
	s.mux.HandleFunc("POST /v1/resolutions/{resolution_id}/ballots", s.handleCastBallot)
	s.mux.HandleFunc("POST /v1/resolutions/{resolution_id}/reveal", s.handleRequestReveal)
	s.mux.HandleFunc("POST /v1/resolutions/{resolution_id}/timeout", s.handleTimeout)

	s.mux.HandleFunc("POST /v1/oracle/reveals", s.handleDeliverReveal)
}

func (s *Server) handleCipherInfo(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.CipherInfoHandler(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.RegisterMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.voting.Handler.RegisterMemberHandler(r.Context(), callerID, req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleDeactivateMember(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.DeactivateMemberHandler(r.Context(), callerID, r.PathValue("member_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.GetMemberHandler(r.Context(), r.PathValue("member_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_active", "active must be a boolean")
			return
		}
		activeOnly = parsed
	}
	resp, err := s.voting.Handler.ListMembersHandler(r.Context(), activeOnly)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWeight(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.WeightHandler(r.Context(), r.PathValue("member_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVotingPower(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.VotingPowerHandler(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenResolution(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.OpenResolutionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	idempotencyKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	resp, err := s.voting.Handler.OpenResolutionHandler(r.Context(), callerID, idempotencyKey, req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListResolutions(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.ListResolutionsHandler(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetResolution(w http.ResponseWriter, r *http.Request) {
	resolutionID, ok := resolutionIDFromPath(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.GetResolutionHandler(r.Context(), resolutionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resolutionID, ok := resolutionIDFromPath(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.StatusHandler(r.Context(), resolutionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	resolutionID, ok := resolutionIDFromPath(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.OutcomeHandler(r.Context(), resolutionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCastBallot(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	resolutionID, ok := resolutionIDFromPath(w, r)
	if !ok {
		return
	}
	var req votinghttp.CastBallotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.voting.Handler.CastBallotHandler(r.Context(), callerID, resolutionID, req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequestReveal(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	resolutionID, ok := resolutionIDFromPath(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.RequestRevealHandler(r.Context(), callerID, resolutionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	resolutionID, ok := resolutionIDFromPath(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.HandleTimeoutHandler(r.Context(), callerID, resolutionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeliverReveal(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.DeliverRevealRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.voting.Handler.DeliverRevealHandler(r.Context(), callerID, req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domainerrors.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domainerrors.ErrAuthorization):
		status = http.StatusForbidden
	case errors.Is(err, domainerrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domainerrors.ErrState):
		status = http.StatusConflict
	}
	code := domainerrors.CodeOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"event", "http_request_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"error", err.Error(),
		)
		message = "internal server error"
	}
	writeError(w, status, code, message)
}

func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID := strings.TrimSpace(r.Header.Get(headerUserID))
	if callerID == "" {
		writeError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return "", false
	}
	return callerID, true
}

func resolutionIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	resolutionID, err := strconv.ParseInt(r.PathValue("resolution_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_resolution_id", "resolution id must be an integer")
		return 0, false
	}
	return resolutionID, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request payload")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, votinghttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
