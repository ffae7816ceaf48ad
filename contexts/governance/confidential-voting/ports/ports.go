package ports

import (
	"context"
	"time"

	"concord/contexts/governance/confidential-voting/domain/entities"
	contractsv1 "concord/contracts/gen/events/v1"
)

// Clock abstracts the host's monotonic timestamp for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts UUID generation for events and outbox rows.
type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// MemberRepository persists members and the running voting-power counter.
type MemberRepository interface {
	GetMember(ctx context.Context, memberID string) (entities.Member, bool, error)
	SaveMember(ctx context.Context, member entities.Member) error
	ListMembers(ctx context.Context) ([]entities.Member, error)
	TotalVotingPower(ctx context.Context) (uint64, error)
	SetTotalVotingPower(ctx context.Context, power uint64) error
}

// ResolutionRepository persists resolutions with their confidential tallies.
type ResolutionRepository interface {
	NextResolutionID(ctx context.Context) (int64, error)
	GetResolution(ctx context.Context, resolutionID int64) (entities.Resolution, error)
	SaveResolution(ctx context.Context, resolution entities.Resolution) error
	ListResolutions(ctx context.Context) ([]entities.Resolution, error)
	ListAwaitingReveal(ctx context.Context) ([]entities.Resolution, error)
}

// BallotRepository persists the latest ballot per (resolution, member).
type BallotRepository interface {
	GetBallot(ctx context.Context, resolutionID int64, memberID string) (entities.Ballot, bool, error)
	SaveBallot(ctx context.Context, ballot entities.Ballot) error
	CountBallots(ctx context.Context, resolutionID int64) (int, error)
}

// PendingRequestRepository is the request id -> resolution correlation index.
type PendingRequestRepository interface {
	GetPendingRequest(ctx context.Context, requestID string) (entities.PendingRequest, bool, error)
	SavePendingRequest(ctx context.Context, request entities.PendingRequest) error
}

// OutboxWriter appends events inside the same atomic unit as state changes.
type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

// Store is everything a single action may read or write.
type Store interface {
	MemberRepository
	ResolutionRepository
	BallotRepository
	PendingRequestRepository
	OutboxWriter
}

// Repository runs fn as one all-or-nothing unit: if fn returns an error, no
// write made through the supplied Store is kept.
type Repository interface {
	Store
	Atomically(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// IdempotencyRecord stores request hash and the resolution created by it.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResolutionID int64
	ExpiresAt    time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	Put(ctx context.Context, record IdempotencyRecord) error
}

// HomomorphicEvaluator operates on opaque ciphertexts without decrypting them.
type HomomorphicEvaluator interface {
	// Constant returns a public encryption of value.
	Constant(ctx context.Context, value uint64) (entities.Ciphertext, error)
	Add(ctx context.Context, a entities.Ciphertext, b entities.Ciphertext) (entities.Ciphertext, error)
	Neg(ctx context.Context, a entities.Ciphertext) (entities.Ciphertext, error)
	ScalarMul(ctx context.Context, a entities.Ciphertext, k uint64) (entities.Ciphertext, error)
}

// InputBinding ties an encrypted input to the resolution and member it was
// produced for, so a ciphertext cannot be replayed elsewhere.
type InputBinding struct {
	ResolutionID int64
	MemberID     string
}

// InputVerifier checks that a ciphertext is a well-formed boolean bound to the
// given resolution and member.
type InputVerifier interface {
	VerifyInput(ctx context.Context, binding InputBinding, choice entities.Ciphertext, proof []byte) error
}

// DecryptionOracle is the external reveal capability. RequestDecryption is
// fire-and-forget; results come back later through a separate callback action.
type DecryptionOracle interface {
	RequestDecryption(ctx context.Context, ciphertexts []entities.Ciphertext) (string, error)
}

// Metrics receives lifecycle observations.
type Metrics interface {
	ResolutionOpened()
	BallotCast(replaced bool)
	RevealRequested()
	ResolutionResolved(outcome entities.Outcome)
	TransitionRejected(operation string, code string)
	VotingPowerChanged(total uint64)
}

// OutboxMessage represents a pending relay message.
type OutboxMessage struct {
	OutboxID  string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// OutboxRepository supports worker relay polling and acknowledgement.
type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

// EventEnvelope reuses the canonical cross-runtime envelope contract.
type EventEnvelope = contractsv1.Envelope

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

// EventDedupStore enforces idempotent processing for consumed events.
// ReleaseEvent undoes a reservation whose processing failed.
type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error
}
