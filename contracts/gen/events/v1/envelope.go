package v1

import (
	"encoding/json"
	"time"
)

// Envelope is the canonical, versioned event envelope for cross-runtime use.
// This package is contract-only and must stay backward compatible.
type Envelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

// Event types emitted by the confidential-voting context.
const (
	EventMemberRegistered          = "member.registered"
	EventMemberDeactivated         = "member.deactivated"
	EventResolutionOpened          = "resolution.opened"
	EventBallotCast                = "ballot.cast"
	EventResolutionRevealRequested = "resolution.reveal_requested"
	EventResolutionResolved        = "resolution.resolved"
	EventResolutionRevealFailed    = "resolution.reveal_failed"

	// EventOracleRevealDelivered is produced by the decryption oracle side.
	EventOracleRevealDelivered = "oracle.reveal_delivered"
)

// RevealDelivered is the data of an oracle.reveal_delivered event. Plaintexts
// follow the order of the ciphertexts in the originating request.
type RevealDelivered struct {
	RequestID  string   `json:"request_id"`
	Plaintexts []uint64 `json:"plaintexts"`
}
