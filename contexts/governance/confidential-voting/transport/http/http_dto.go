package http

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RegisterMemberRequest struct {
	MemberID  string `json:"member_id"`
	Name      string `json:"name"`
	RoleLabel string `json:"role_label"`
	Weight    uint32 `json:"weight"`
}

type MemberResponse struct {
	MemberID       string    `json:"member_id"`
	Name           string    `json:"name"`
	RoleLabel      string    `json:"role_label"`
	Weight         uint32    `json:"weight"`
	Active         bool      `json:"active"`
	AutoRegistered bool      `json:"auto_registered"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type MemberListResponse struct {
	Items []MemberResponse `json:"items"`
}

type WeightResponse struct {
	MemberID string `json:"member_id"`
	Weight   uint32 `json:"weight"`
}

type VotingPowerResponse struct {
	TotalVotingPower uint64 `json:"total_voting_power"`
}

type OpenResolutionRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	RequiredQuorum uint64 `json:"required_quorum"`
}

// CastBallotRequest carries the encrypted choice and its proof, both base64
// encoded on the wire.
type CastBallotRequest struct {
	Choice []byte `json:"choice"`
	Proof  []byte `json:"proof"`
}

type CastBallotResponse struct {
	ResolutionID     int64     `json:"resolution_id"`
	MemberID         string    `json:"member_id"`
	Weight           uint32    `json:"weight"`
	CastCount        int       `json:"cast_count"`
	Replaced         bool      `json:"replaced"`
	MemberRegistered bool      `json:"member_registered"`
	CastAt           time.Time `json:"cast_at"`
}

type DeliverRevealRequest struct {
	RequestID  string   `json:"request_id"`
	Plaintexts []uint64 `json:"plaintexts"`
}

type StatusResponse struct {
	ResolutionID         int64      `json:"resolution_id"`
	State                string     `json:"state"`
	RevealRequested      bool       `json:"reveal_requested"`
	RevealRequestTime    *time.Time `json:"reveal_request_time,omitempty"`
	Resolved             bool       `json:"resolved"`
	RevealFailed         bool       `json:"reveal_failed"`
	TimeRemainingSeconds int64      `json:"time_remaining_seconds"`
}

type OutcomeResponse struct {
	ResolutionID     int64      `json:"resolution_id"`
	Outcome          string     `json:"outcome"`
	Passed           bool       `json:"passed"`
	RevealFailed     bool       `json:"reveal_failed"`
	RevealedYesVotes uint64     `json:"revealed_yes_votes"`
	RevealedNoVotes  uint64     `json:"revealed_no_votes"`
	RequiredQuorum   uint64     `json:"required_quorum"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

type ResolutionResponse struct {
	ResolutionID    int64           `json:"resolution_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	CreatorID       string          `json:"creator_id"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	RequiredQuorum  uint64          `json:"required_quorum"`
	State           string          `json:"state"`
	BallotCount     int             `json:"ballot_count"`
	RevealRequestID string          `json:"reveal_request_id,omitempty"`
	Replayed        bool            `json:"replayed,omitempty"`
	Status          StatusResponse  `json:"status"`
	Outcome         OutcomeResponse `json:"outcome"`
}

type ResolutionListResponse struct {
	Items []ResolutionResponse `json:"items"`
}

// CipherInfoResponse tells clients how to encrypt ballots. PublicKey is
// base64 encoded and empty for the mock backend.
type CipherInfoResponse struct {
	Backend   string `json:"backend"`
	PublicKey []byte `json:"public_key,omitempty"`
}
