package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	confidentialvoting "concord/contexts/governance/confidential-voting"
	"concord/contexts/governance/confidential-voting/adapters/cipher"
	"concord/contexts/governance/confidential-voting/adapters/memory"
	votingmetrics "concord/contexts/governance/confidential-voting/adapters/metrics"
	"concord/contexts/governance/confidential-voting/ports"
	votinghttp "concord/contexts/governance/confidential-voting/transport/http"

	"github.com/prometheus/client_golang/prometheus"
)

type testEnv struct {
	module  confidentialvoting.Module
	handler http.Handler
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	store := memory.NewStore()
	bus := memory.NewBus()
	registry := prometheus.NewRegistry()
	module := confidentialvoting.NewModule(confidentialvoting.Dependencies{
		Repository:  store,
		Idempotency: store,
		Outbox:      store,
		Dedup:       store,
		Publisher:   bus,
		Subscriber:  bus,
		Cipher:      cipher.NewMock(),
		Metrics:     votingmetrics.NewPrometheus(registry),
		Clock:       store,
		IDGen:       store,
		Settings:    confidentialvoting.DefaultSettings("admin"),
	})
	if err := module.RevealConsumer.Start(context.Background()); err != nil {
		t.Fatalf("start consumer failed: %v", err)
	}
	server := New(module, registry, nil, "")
	return testEnv{module: module, handler: server.Handler()}
}

func (e testEnv) do(t *testing.T, method string, path string, user string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch value := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(value))
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("marshal body failed: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response failed: %v body=%s", err, rec.Body.String())
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rec.Code, rec.Body.String())
	}
	if code == "" {
		return
	}
	errResp := decodeBody[votinghttp.ErrorResponse](t, rec)
	if errResp.Code != code {
		t.Fatalf("expected code %s, got %s", code, errResp.Code)
	}
}

func (e testEnv) ballot(t *testing.T, resolutionID int64, memberID string, yes bool) votinghttp.CastBallotRequest {
	t.Helper()
	choice, proof, err := e.module.Cipher.EncryptChoice(context.Background(), ports.InputBinding{ResolutionID: resolutionID, MemberID: memberID}, yes)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	return votinghttp.CastBallotRequest{Choice: choice, Proof: proof}
}

func TestResolutionFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	for member, weight := range map[string]uint32{"alice": 5, "bob": 2} {
		rec := env.do(t, http.MethodPost, "/v1/members", "admin", votinghttp.RegisterMemberRequest{
			MemberID: member, Name: member, RoleLabel: "director", Weight: weight,
		})
		expectStatus(t, rec, http.StatusCreated, "")
	}

	openReq := votinghttp.OpenResolutionRequest{Title: "Approve budget", Description: "FY27", RequiredQuorum: 5}
	rec := env.do(t, http.MethodPost, "/v1/resolutions", "alice", openReq, headerIdempotencyKey, "open-1")
	expectStatus(t, rec, http.StatusCreated, "")
	opened := decodeBody[votinghttp.ResolutionResponse](t, rec)
	if opened.ResolutionID != 1 || opened.State != "active" {
		t.Fatalf("unexpected resolution %+v", opened)
	}
	rec = env.do(t, http.MethodPost, "/v1/resolutions", "alice", openReq, headerIdempotencyKey, "open-1")
	expectStatus(t, rec, http.StatusOK, "")
	if replay := decodeBody[votinghttp.ResolutionResponse](t, rec); !replay.Replayed || replay.ResolutionID != 1 {
		t.Fatalf("expected replay of resolution 1, got %+v", replay)
	}

	rec = env.do(t, http.MethodPost, "/v1/resolutions/1/ballots", "alice", env.ballot(t, 1, "alice", true))
	expectStatus(t, rec, http.StatusOK, "")
	rec = env.do(t, http.MethodPost, "/v1/resolutions/1/ballots", "bob", env.ballot(t, 1, "bob", false))
	expectStatus(t, rec, http.StatusOK, "")
	rec = env.do(t, http.MethodPost, "/v1/resolutions/1/ballots", "bob", env.ballot(t, 1, "alice", true))
	expectStatus(t, rec, http.StatusBadRequest, "invalid_proof")

	rec = env.do(t, http.MethodPost, "/v1/resolutions/1/reveal", "bob", nil)
	expectStatus(t, rec, http.StatusForbidden, "reveal_forbidden")
	rec = env.do(t, http.MethodPost, "/v1/resolutions/1/reveal", "alice", nil)
	expectStatus(t, rec, http.StatusAccepted, "")
	requested := decodeBody[votinghttp.ResolutionResponse](t, rec)
	if requested.RevealRequestID == "" || !requested.Status.RevealRequested {
		t.Fatalf("expected reveal to be pending, got %+v", requested)
	}

	rec = env.do(t, http.MethodPost, "/v1/oracle/reveals", "alice", votinghttp.DeliverRevealRequest{
		RequestID: requested.RevealRequestID, Plaintexts: []uint64{7, 0},
	})
	expectStatus(t, rec, http.StatusForbidden, "unauthorized_callback")

	if answered, err := env.module.Oracle.RunOnce(context.Background()); err != nil || answered != 1 {
		t.Fatalf("expected the oracle to answer once, got %d err=%v", answered, err)
	}

	rec = env.do(t, http.MethodGet, "/v1/resolutions/1/outcome", "", nil)
	expectStatus(t, rec, http.StatusOK, "")
	outcome := decodeBody[votinghttp.OutcomeResponse](t, rec)
	if outcome.Outcome != "passed" || outcome.RevealedYesVotes != 5 || outcome.RevealedNoVotes != 2 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	rec = env.do(t, http.MethodPost, "/v1/resolutions/1/ballots", "alice", env.ballot(t, 1, "alice", false))
	expectStatus(t, rec, http.StatusConflict, "resolution_not_active")

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, http.StatusOK, "")
	if !strings.Contains(rec.Body.String(), `concord_voting_resolutions_resolved_total{outcome="passed"} 1`) {
		t.Fatalf("expected resolved counter in metrics output")
	}
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   string
	}{
		{"missing caller", http.MethodPost, "/v1/members", "", votinghttp.RegisterMemberRequest{MemberID: "x", Name: "x", Weight: 1}, http.StatusUnauthorized, "missing_user"},
		{"non admin registers", http.MethodPost, "/v1/members", "mallory", votinghttp.RegisterMemberRequest{MemberID: "x", Name: "x", Weight: 1}, http.StatusForbidden, "forbidden"},
		{"weight out of range", http.MethodPost, "/v1/members", "admin", votinghttp.RegisterMemberRequest{MemberID: "x", Name: "x", Weight: 1001}, http.StatusBadRequest, "invalid_weight"},
		{"unknown field", http.MethodPost, "/v1/resolutions", "alice", `{"title":"t","description":"d","required_quorum":1,"extra":true}`, http.StatusBadRequest, "invalid_request"},
		{"bad resolution id", http.MethodGet, "/v1/resolutions/abc/status", "", nil, http.StatusBadRequest, "invalid_resolution_id"},
		{"missing resolution", http.MethodGet, "/v1/resolutions/99", "", nil, http.StatusNotFound, "resolution_not_found"},
		{"missing member", http.MethodGet, "/v1/members/ghost", "", nil, http.StatusNotFound, "member_not_found"},
		{"bad active flag", http.MethodGet, "/v1/members?active=maybe", "", nil, http.StatusBadRequest, "invalid_active"},
		{"timeout on missing resolution", http.MethodPost, "/v1/resolutions/99/timeout", "admin", nil, http.StatusNotFound, "resolution_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.path, tc.user, tc.body)
			expectStatus(t, rec, tc.status, tc.code)
		})
	}
}

func TestReadEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK, "")

	rec = env.do(t, http.MethodGet, "/v1/cipher", "", nil)
	expectStatus(t, rec, http.StatusOK, "")
	if info := decodeBody[votinghttp.CipherInfoResponse](t, rec); info.Backend != cipher.BackendMock || len(info.PublicKey) != 0 {
		t.Fatalf("unexpected cipher info %+v", info)
	}

	rec = env.do(t, http.MethodPost, "/v1/resolutions/1/ballots", "newcomer", nil)
	expectStatus(t, rec, http.StatusBadRequest, "invalid_request")

	rec = env.do(t, http.MethodPost, "/v1/members", "admin", votinghttp.RegisterMemberRequest{MemberID: "carol", Name: "Carol", Weight: 4})
	expectStatus(t, rec, http.StatusCreated, "")
	rec = env.do(t, http.MethodGet, "/v1/members/carol/weight", "", nil)
	expectStatus(t, rec, http.StatusOK, "")
	if weight := decodeBody[votinghttp.WeightResponse](t, rec); weight.Weight != 4 {
		t.Fatalf("expected weight 4, got %+v", weight)
	}
	rec = env.do(t, http.MethodPost, "/v1/members/carol/deactivate", "admin", nil)
	expectStatus(t, rec, http.StatusOK, "")
	rec = env.do(t, http.MethodGet, "/v1/voting-power", "", nil)
	expectStatus(t, rec, http.StatusOK, "")
	if power := decodeBody[votinghttp.VotingPowerResponse](t, rec); power.TotalVotingPower != 0 {
		t.Fatalf("expected zero power after deactivation, got %+v", power)
	}
	rec = env.do(t, http.MethodGet, "/v1/members?active=true", "", nil)
	expectStatus(t, rec, http.StatusOK, "")
	if list := decodeBody[votinghttp.MemberListResponse](t, rec); len(list.Items) != 0 {
		t.Fatalf("expected no active members, got %+v", list)
	}
}
