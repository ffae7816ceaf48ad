package workers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "concord/contexts/governance/confidential-voting/application"
	"concord/contexts/governance/confidential-voting/application/commands"
	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	"concord/contexts/governance/confidential-voting/ports"
	contractsv1 "concord/contracts/gen/events/v1"
)

const defaultRevealCallbackCG = "confidential-voting-reveal-cg"

// RevealDeliverer is the callback entry point of the lifecycle.
type RevealDeliverer interface {
	DeliverReveal(ctx context.Context, cmd commands.DeliverRevealCommand) (entities.Resolution, error)
}

// RevealCallbackConsumer turns oracle delivery events into DeliverReveal
// calls made under the oracle identity.
type RevealCallbackConsumer struct {
	Subscriber     ports.EventSubscriber
	Dedup          ports.EventDedupStore
	Lifecycle      RevealDeliverer
	OracleIdentity string
	Clock          ports.Clock
	ConsumerGroup  string
	DedupTTL       time.Duration
	Logger         *slog.Logger
}

func (c RevealCallbackConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultRevealCallbackCG
	}
	if err := c.Subscriber.Subscribe(ctx, contractsv1.EventOracleRevealDelivered, group, c.Handle); err != nil {
		logger.Error("reveal callback consumer subscribe failed",
			"event", "voting_reveal_consumer_subscribe_failed",
			"module", moduleName,
			"layer", "worker",
			"topic", contractsv1.EventOracleRevealDelivered,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("reveal callback consumer subscription active",
		"event", "voting_reveal_consumer_started",
		"module", moduleName,
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

// Handle processes one delivery. Deliveries the lifecycle refuses for state
// reasons (an already consumed or unknown request) are logged and dropped
// so that redelivery cannot loop forever. Any other failure releases the
// dedup reservation and is returned, so the event can be delivered again.
func (c RevealCallbackConsumer) Handle(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Dedup != nil {
		alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), c.now().Add(c.dedupTTL()))
		if err != nil {
			logger.Error("reveal event dedupe failed",
				"event", "voting_reveal_event_dedupe_failed",
				"module", moduleName,
				"layer", "worker",
				"event_id", event.EventID,
				"error", err.Error(),
			)
			return err
		}
		if alreadyProcessed {
			logger.Debug("oracle.reveal_delivered replay skipped",
				"event", "voting_reveal_delivered_replayed",
				"module", moduleName,
				"layer", "worker",
				"event_id", event.EventID,
			)
			return nil
		}
	}

	var payload contractsv1.RevealDelivered
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("oracle.reveal_delivered payload decode failed",
			"event", "voting_reveal_delivered_decode_failed",
			"module", moduleName,
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		c.release(ctx, logger, event.EventID)
		return err
	}

	resolution, err := c.Lifecycle.DeliverReveal(ctx, commands.DeliverRevealCommand{
		CallerID:   c.OracleIdentity,
		RequestID:  payload.RequestID,
		Plaintexts: payload.Plaintexts,
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) || errors.Is(err, domainerrors.ErrState) {
			logger.Warn("oracle.reveal_delivered dropped",
				"event", "voting_reveal_delivered_dropped",
				"module", moduleName,
				"layer", "worker",
				"event_id", event.EventID,
				"request_id", payload.RequestID,
				"error", err.Error(),
			)
			return nil
		}
		c.release(ctx, logger, event.EventID)
		return err
	}
	logger.Info("oracle.reveal_delivered consumed",
		"event", "voting_reveal_delivered_consumed",
		"module", moduleName,
		"layer", "worker",
		"event_id", event.EventID,
		"request_id", payload.RequestID,
		"resolution_id", resolution.ResolutionID,
	)
	return nil
}

func (c RevealCallbackConsumer) release(ctx context.Context, logger *slog.Logger, eventID string) {
	if c.Dedup == nil {
		return
	}
	if err := c.Dedup.ReleaseEvent(ctx, eventID); err != nil {
		logger.Error("reveal event release failed",
			"event", "voting_reveal_event_release_failed",
			"module", moduleName,
			"layer", "worker",
			"event_id", eventID,
			"error", err.Error(),
		)
	}
}

func (c RevealCallbackConsumer) now() time.Time {
	if c.Clock != nil {
		return c.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (c RevealCallbackConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}
