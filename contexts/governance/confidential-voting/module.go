package confidentialvoting

import (
	"log/slog"
	"time"

	"concord/contexts/governance/confidential-voting/adapters/cipher"
	httpadapter "concord/contexts/governance/confidential-voting/adapters/http"
	"concord/contexts/governance/confidential-voting/adapters/memory"
	"concord/contexts/governance/confidential-voting/adapters/oracle"
	"concord/contexts/governance/confidential-voting/application"
	"concord/contexts/governance/confidential-voting/application/ballots"
	"concord/contexts/governance/confidential-voting/application/commands"
	"concord/contexts/governance/confidential-voting/application/membership"
	"concord/contexts/governance/confidential-voting/application/queries"
	"concord/contexts/governance/confidential-voting/application/workers"
	"concord/contexts/governance/confidential-voting/ports"
)

// Settings are the tunables of one voting instance.
type Settings struct {
	Administrators      []string
	OracleIdentity      string
	SweeperIdentity     string
	VotingPeriod        time.Duration
	RevealTimeout       time.Duration
	IdempotencyTTL      time.Duration
	DefaultMemberWeight uint32
	AutoRegister        bool
	OutboxBatchSize     int
	OracleDelay         time.Duration
	// OracleRedeliver is how often the local oracle republishes an answer
	// whose request is still unconsumed.
	OracleRedeliver time.Duration
	// ExternalOracle leaves decryption to a service that consumes
	// resolution.reveal_requested and calls back. The local oracle then
	// accepts requests without answering them.
	ExternalOracle bool
}

type Module struct {
	Handler    httpadapter.Handler
	Membership commands.MembershipUseCase
	Lifecycle  commands.LifecycleUseCase
	Queries    queries.QueryService
	Cipher     cipher.Backend

	// Oracle is set when the module runs its own decryption oracle.
	Oracle *oracle.Local

	OutboxRelay    workers.OutboxRelay
	RevealConsumer workers.RevealCallbackConsumer
	TimeoutSweeper workers.TimeoutSweeper

	Store *memory.Store
	Bus   *memory.Bus
}

type Dependencies struct {
	Repository  ports.Repository
	Idempotency ports.IdempotencyStore
	Outbox      ports.OutboxRepository
	Dedup       ports.EventDedupStore
	Publisher   ports.EventPublisher
	Subscriber  ports.EventSubscriber
	Cipher      cipher.Backend
	// Oracle may be nil, in which case a Local oracle decrypting with Cipher
	// is created and answers through Publisher.
	Oracle   ports.DecryptionOracle
	Metrics  ports.Metrics
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Settings Settings
	Logger   *slog.Logger
}

func NewModule(deps Dependencies) Module {
	settings := deps.Settings
	logger := application.ResolveLogger(deps.Logger)
	metrics := application.ResolveMetrics(deps.Metrics)
	serializer := application.NewSerializer()
	authorizer := application.Authorizer{
		Administrators: settings.Administrators,
		OracleIdentity: settings.OracleIdentity,
	}
	registry := membership.Registry{
		DefaultWeight: settings.DefaultMemberWeight,
		AutoRegister:  settings.AutoRegister,
	}

	module := Module{Cipher: deps.Cipher}
	decryptionOracle := deps.Oracle
	if decryptionOracle == nil {
		module.Oracle = &oracle.Local{
			Decryptor: deps.Cipher,
			Publisher: deps.Publisher,
			IDGen:     deps.IDGen,
			Clock:     deps.Clock,
			Delay:     settings.OracleDelay,
			Requests:  deps.Repository,
			Redeliver: settings.OracleRedeliver,
			Silent:    settings.ExternalOracle,
			Logger:    logger,
		}
		decryptionOracle = module.Oracle
	}

	module.Membership = commands.MembershipUseCase{
		Repo:       deps.Repository,
		Registry:   registry,
		Authorizer: authorizer,
		Serializer: serializer,
		Clock:      deps.Clock,
		IDGen:      deps.IDGen,
		Metrics:    metrics,
		Logger:     logger,
	}
	module.Lifecycle = commands.LifecycleUseCase{
		Repo:        deps.Repository,
		Idempotency: deps.Idempotency,
		Registry:    registry,
		Aggregator: ballots.Aggregator{
			Evaluator: deps.Cipher,
			Verifier:  deps.Cipher,
		},
		Authorizer:     authorizer,
		Serializer:     serializer,
		Oracle:         decryptionOracle,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		Metrics:        metrics,
		Logger:         logger,
		VotingPeriod:   settings.VotingPeriod,
		RevealTimeout:  settings.RevealTimeout,
		IdempotencyTTL: settings.IdempotencyTTL,
	}
	module.Queries = queries.QueryService{
		Repo:          deps.Repository,
		Serializer:    serializer,
		Clock:         deps.Clock,
		RevealTimeout: settings.RevealTimeout,
	}
	module.Handler = httpadapter.Handler{
		Membership: module.Membership,
		Lifecycle:  module.Lifecycle,
		Queries:    module.Queries,
		Cipher:     deps.Cipher,
		Logger:     logger,
	}

	module.OutboxRelay = workers.OutboxRelay{
		Outbox:    deps.Outbox,
		Publisher: deps.Publisher,
		Clock:     deps.Clock,
		BatchSize: settings.OutboxBatchSize,
		Logger:    logger,
	}
	module.RevealConsumer = workers.RevealCallbackConsumer{
		Subscriber:     deps.Subscriber,
		Dedup:          deps.Dedup,
		Lifecycle:      module.Lifecycle,
		OracleIdentity: settings.OracleIdentity,
		Clock:          deps.Clock,
		Logger:         logger,
	}
	module.TimeoutSweeper = workers.TimeoutSweeper{
		Finder:          module.Queries,
		Lifecycle:       module.Lifecycle,
		SweeperIdentity: settings.SweeperIdentity,
		Logger:          logger,
	}
	return module
}

// DefaultSettings returns settings for a single-process deployment with the
// given administrator. The same identity sweeps timeouts.
func DefaultSettings(admin string) Settings {
	return Settings{
		Administrators:      []string{admin},
		OracleIdentity:      "decryption-oracle",
		SweeperIdentity:     admin,
		VotingPeriod:        commands.DefaultVotingPeriod,
		RevealTimeout:       commands.DefaultRevealTimeout,
		IdempotencyTTL:      commands.DefaultIdempotencyTTL,
		DefaultMemberWeight: 1,
		AutoRegister:        true,
	}
}

// NewInMemoryModule wires the memory store, the mock cipher and a local
// oracle answering over a synchronous bus.
func NewInMemoryModule(settings Settings, logger *slog.Logger) Module {
	store := memory.NewStore()
	bus := memory.NewBus()
	module := NewModule(Dependencies{
		Repository:  store,
		Idempotency: store,
		Outbox:      store,
		Dedup:       store,
		Publisher:   bus,
		Subscriber:  bus,
		Cipher:      cipher.NewMock(),
		Clock:       store,
		IDGen:       store,
		Settings:    settings,
		Logger:      logger,
	})
	module.Store = store
	module.Bus = bus
	return module
}
