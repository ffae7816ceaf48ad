package errors

import "errors"

// Error classes. Every specific error below belongs to exactly one class, so
// callers can branch on errors.Is(err, ErrState) without knowing the detail.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrState         = errors.New("state error")
	ErrNotFound      = errors.New("not found")
)

// Error is a classified domain error with a stable machine-readable code.
type Error struct {
	Class   error
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports class membership; identity comparison is handled by errors.Is.
func (e *Error) Is(target error) bool {
	return target == e.Class
}

func newError(class error, code string, message string) *Error {
	return &Error{Class: class, Code: code, Message: message}
}

var (
	ErrInvalidAddress      = newError(ErrValidation, "invalid_address", "member identity is required")
	ErrInvalidWeight       = newError(ErrValidation, "invalid_weight", "member weight must be within 1..1000")
	ErrInvalidStringLength = newError(ErrValidation, "invalid_string_length", "text length must be within 1..1000")
	ErrQuorumZero          = newError(ErrValidation, "quorum_zero", "required quorum must be greater than zero")
	ErrQuorumExceedsPower  = newError(ErrValidation, "quorum_exceeds_power", "required quorum exceeds total voting power")
	ErrInvalidProof        = newError(ErrValidation, "invalid_proof", "encrypted choice proof is invalid")
	ErrInvalidCiphertext   = newError(ErrValidation, "invalid_ciphertext", "encrypted choice is malformed")
	ErrInvalidPlaintexts   = newError(ErrValidation, "invalid_plaintexts", "reveal must carry exactly two plaintexts")
	ErrInvalidResolutionID = newError(ErrValidation, "invalid_resolution_id", "resolution id must be positive")
	ErrIdempotencyConflict = newError(ErrValidation, "idempotency_conflict", "idempotency key conflict")

	ErrForbidden            = newError(ErrAuthorization, "forbidden", "caller is not allowed to perform this action")
	ErrUnauthorizedCallback = newError(ErrAuthorization, "unauthorized_callback", "reveal callback caller is not the decryption oracle")
	ErrRevealForbidden      = newError(ErrAuthorization, "reveal_forbidden", "only the creator may request a reveal before the voting window ends")
	ErrMemberInactive       = newError(ErrAuthorization, "member_inactive", "member is inactive")
	ErrZeroWeight           = newError(ErrAuthorization, "zero_weight", "member has no voting weight")

	ErrDuplicateMember        = newError(ErrState, "duplicate_member", "member is already registered and active")
	ErrResolutionNotActive    = newError(ErrState, "resolution_not_active", "resolution is not active")
	ErrVotingWindowClosed     = newError(ErrState, "voting_window_closed", "voting window is closed")
	ErrRevealAlreadyRequested = newError(ErrState, "reveal_already_requested", "reveal was already requested")
	ErrRevealNotRequested     = newError(ErrState, "reveal_not_requested", "reveal has not been requested")
	ErrAlreadyResolved        = newError(ErrState, "already_resolved", "resolution is already resolved")
	ErrTimeoutNotReached      = newError(ErrState, "timeout_not_reached", "reveal timeout has not elapsed")
	ErrReentrantCall          = newError(ErrState, "reentrant_call", "re-entrant call rejected")

	ErrMemberNotFound     = newError(ErrNotFound, "member_not_found", "member not found")
	ErrUnknownMember      = newError(ErrNotFound, "unknown_member", "caller is not a registered member")
	ErrResolutionNotFound = newError(ErrNotFound, "resolution_not_found", "resolution not found")
	ErrUnknownRequest     = newError(ErrNotFound, "unknown_request", "reveal request is unknown or already consumed")
	ErrBallotNotFound     = newError(ErrNotFound, "ballot_not_found", "ballot not found")
)

// CodeOf returns the stable code for classified errors and "internal_error"
// for everything else.
func CodeOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "internal_error"
}
