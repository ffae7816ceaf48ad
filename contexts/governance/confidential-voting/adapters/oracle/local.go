// Package oracle holds the in-process decryption oracle. It accepts
// decryption requests without blocking and answers later by publishing an
// oracle.reveal_delivered event, the same way an external threshold service
// would call back.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"concord/contexts/governance/confidential-voting/domain/entities"
	"concord/contexts/governance/confidential-voting/ports"
	contractsv1 "concord/contracts/gen/events/v1"
)

var errNoCiphertexts = errors.New("decryption request carries no ciphertexts")

const (
	defaultRedeliver = 30 * time.Second
	// orphanGrace is how long an answered request may stay unknown to the
	// store before it is treated as rolled back and dropped.
	orphanGrace = time.Minute
)

type Decryptor interface {
	Decrypt(ctx context.Context, ciphertext entities.Ciphertext) (uint64, error)
}

type job struct {
	requestID   string
	ciphertexts []entities.Ciphertext
	requestedAt time.Time
	eventID     string
	sentAt      time.Time
}

// Local decrypts with a key it holds itself. Delay holds each answer back
// for at least that long after the request.
//
// With Requests set, an answered request stays queued and its answer is
// published again every Redeliver until the request is consumed. Without it
// a request is dropped once its answer is published.
type Local struct {
	Decryptor Decryptor
	Publisher ports.EventPublisher
	IDGen     ports.IDGenerator
	Clock     ports.Clock
	Delay     time.Duration
	Requests  ports.PendingRequestRepository
	Redeliver time.Duration
	// Silent drops every request, which simulates an oracle that never
	// answers.
	Silent bool
	Logger *slog.Logger

	mu    sync.Mutex
	queue []job
}

func (o *Local) RequestDecryption(ctx context.Context, ciphertexts []entities.Ciphertext) (string, error) {
	if len(ciphertexts) == 0 {
		return "", errNoCiphertexts
	}
	requestID, err := o.IDGen.NewID(ctx)
	if err != nil {
		return "", err
	}
	copied := make([]entities.Ciphertext, 0, len(ciphertexts))
	for _, ciphertext := range ciphertexts {
		copied = append(copied, ciphertext.Clone())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.Silent {
		o.queue = append(o.queue, job{requestID: requestID, ciphertexts: copied, requestedAt: o.now()})
	}
	o.logger().Info("decryption requested",
		"event", "oracle_decryption_requested",
		"module", "governance/confidential-voting",
		"layer", "adapter",
		"request_id", requestID,
		"ciphertext_count", len(copied),
		"silent", o.Silent,
	)
	return requestID, nil
}

// Pending returns the number of requests not yet answered.
func (o *Local) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// RunOnce answers every request whose delay has elapsed and republishes
// answers that are still unconsumed. A request whose publish fails stays
// queued for the next cycle.
func (o *Local) RunOnce(ctx context.Context) (int, error) {
	logger := o.logger()
	now := o.now()

	o.mu.Lock()
	queue := o.queue
	o.queue = nil
	o.mu.Unlock()

	answered := 0
	keep := make([]job, 0, len(queue))
	for i, item := range queue {
		if !item.sentAt.IsZero() {
			settled, err := o.settled(ctx, item, now)
			if err != nil {
				o.requeue(append(keep, queue[i:]...))
				logger.Error("decryption request lookup failed",
					"event", "oracle_request_lookup_failed",
					"module", "governance/confidential-voting",
					"layer", "adapter",
					"request_id", item.requestID,
					"error", err.Error(),
				)
				return answered, err
			}
			if settled {
				continue
			}
		}
		if !o.due(item, now) {
			keep = append(keep, item)
			continue
		}
		if err := o.answer(ctx, &item, now); err != nil {
			o.requeue(append(append(keep, item), queue[i+1:]...))
			logger.Error("decryption answer failed",
				"event", "oracle_answer_failed",
				"module", "governance/confidential-voting",
				"layer", "adapter",
				"request_id", item.requestID,
				"error", err.Error(),
			)
			return answered, err
		}
		answered++
		if o.Requests != nil {
			keep = append(keep, item)
		}
	}
	o.requeue(keep)
	return answered, nil
}

func (o *Local) due(item job, now time.Time) bool {
	if item.sentAt.IsZero() {
		return now.Sub(item.requestedAt) >= o.Delay
	}
	redeliver := o.Redeliver
	if redeliver <= 0 {
		redeliver = defaultRedeliver
	}
	return now.Sub(item.sentAt) >= redeliver
}

// settled reports whether an answered request needs no further delivery.
func (o *Local) settled(ctx context.Context, item job, now time.Time) (bool, error) {
	if o.Requests == nil {
		return true, nil
	}
	pending, found, err := o.Requests.GetPendingRequest(ctx, item.requestID)
	if err != nil {
		return false, err
	}
	if !found {
		return now.Sub(item.requestedAt) >= orphanGrace, nil
	}
	return pending.Consumed, nil
}

func (o *Local) requeue(items []job) {
	if len(items) == 0 {
		return
	}
	o.mu.Lock()
	o.queue = append(append([]job(nil), items...), o.queue...)
	o.mu.Unlock()
}

func (o *Local) answer(ctx context.Context, item *job, now time.Time) error {
	plaintexts := make([]uint64, 0, len(item.ciphertexts))
	for _, ciphertext := range item.ciphertexts {
		value, err := o.Decryptor.Decrypt(ctx, ciphertext)
		if err != nil {
			return err
		}
		plaintexts = append(plaintexts, value)
	}
	data, err := json.Marshal(contractsv1.RevealDelivered{RequestID: item.requestID, Plaintexts: plaintexts})
	if err != nil {
		return err
	}
	if item.eventID == "" {
		eventID, err := o.IDGen.NewID(ctx)
		if err != nil {
			return err
		}
		item.eventID = eventID
	}
	event := ports.EventEnvelope{
		EventID:          item.eventID,
		EventType:        contractsv1.EventOracleRevealDelivered,
		OccurredAt:       now,
		SourceService:    "decryption-oracle",
		TraceID:          item.requestID,
		SchemaVersion:    1,
		PartitionKeyPath: "request_id",
		PartitionKey:     item.requestID,
		Data:             data,
	}
	if err := o.Publisher.Publish(ctx, contractsv1.EventOracleRevealDelivered, event); err != nil {
		return err
	}
	o.logger().Info("decryption answered",
		"event", "oracle_decryption_answered",
		"module", "governance/confidential-voting",
		"layer", "adapter",
		"request_id", item.requestID,
		"event_id", item.eventID,
		"redelivery", !item.sentAt.IsZero(),
	)
	item.sentAt = now
	return nil
}

func (o *Local) now() time.Time {
	if o.Clock != nil {
		return o.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Local) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

var _ ports.DecryptionOracle = (*Local)(nil)
