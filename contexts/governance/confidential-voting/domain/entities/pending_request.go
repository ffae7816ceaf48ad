package entities

import "time"

type ConsumedBy string

const (
	ConsumedByOracle  ConsumedBy = "oracle"
	ConsumedByTimeout ConsumedBy = "timeout"
)

// PendingRequest correlates an oracle request id with its resolution. Entries
// are never removed; Consumed marks them invalid for further callbacks.
type PendingRequest struct {
	RequestID    string
	ResolutionID int64
	RequestedAt  time.Time
	Consumed     bool
	ConsumedAt   *time.Time
	ConsumedBy   ConsumedBy
}
