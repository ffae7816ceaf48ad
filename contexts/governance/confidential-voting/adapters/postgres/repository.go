package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	"concord/contexts/governance/confidential-voting/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"

	counterVotingPower  = "total_voting_power"
	counterResolutionID = "last_resolution_id"
	counterOutboxSeq    = "outbox_seq"

	// writerLockKey names the Postgres advisory lock every atomic unit holds,
	// so units from different processes run one at a time.
	writerLockKey int64 = 0x636f6e636f7264
)

var counterNames = []string{counterVotingPower, counterResolutionID, counterOutboxSeq}

var (
	errOutboxConflict = errors.New("outbox event id reused with a different payload")
	errOutboxMissing  = errors.New("outbox row not found")
	errDedupConflict  = errors.New("event id reused with a different payload")
	errDuplicateRow   = errors.New("row already exists")
)

// Repository is the gorm-backed Repository. It runs unchanged on Postgres and
// on SQLite.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
	// locking is set on the transaction-bound copy handed out by Atomically
	// when the dialect supports row locks.
	locking bool
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Migrate creates or updates the tables used by the repository and seeds the
// counter rows so they can be locked.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&memberModel{},
		&resolutionModel{},
		&ballotModel{},
		&pendingRequestModel{},
		&counterModel{},
		&idempotencyModel{},
		&outboxModel{},
		&eventDedupModel{},
	); err != nil {
		return err
	}
	for _, name := range counterNames {
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&counterModel{Name: name}).Error; err != nil {
			return err
		}
	}
	return nil
}

// Atomically runs fn inside a database transaction; the Store handed to fn
// is bound to that transaction. On Postgres the transaction first takes the
// writer advisory lock, and reads of rows it may change lock them.
func (r *Repository) Atomically(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		postgres := tx.Dialector.Name() == "postgres"
		if postgres {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", writerLockKey).Error; err != nil {
				return r.logError("voting_repo_writer_lock_failed", err)
			}
		}
		return fn(ctx, &Repository{db: tx, logger: r.logger, locking: postgres})
	})
}

// forUpdate scopes a read inside Atomically to lock the rows it returns.
func (r *Repository) forUpdate(ctx context.Context) *gorm.DB {
	query := r.db.WithContext(ctx)
	if r.locking {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

func (r *Repository) GetMember(ctx context.Context, memberID string) (entities.Member, bool, error) {
	var row memberModel
	err := r.forUpdate(ctx).
		Where("member_id = ?", strings.TrimSpace(memberID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Member{}, false, nil
		}
		return entities.Member{}, false, r.logError("voting_repo_get_member_failed", err,
			"member_id", strings.TrimSpace(memberID),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) SaveMember(ctx context.Context, member entities.Member) error {
	row := memberModelFromEntity(member)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "member_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"name":            row.Name,
			"role_label":      row.RoleLabel,
			"weight":          row.Weight,
			"active":          row.Active,
			"auto_registered": row.AutoRegistered,
			"updated_at":      row.UpdatedAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		if isUniqueViolation(create.Error) {
			return errDuplicateRow
		}
		return r.logError("voting_repo_save_member_failed", create.Error, "member_id", row.MemberID)
	}
	return nil
}

func (r *Repository) ListMembers(ctx context.Context) ([]entities.Member, error) {
	var rows []memberModel
	if err := r.db.WithContext(ctx).Order("member_id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("voting_repo_list_members_failed", err)
	}
	items := make([]entities.Member, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) TotalVotingPower(ctx context.Context) (uint64, error) {
	value, err := r.counter(ctx, counterVotingPower)
	if err != nil {
		return 0, err
	}
	return uint64(value), nil
}

func (r *Repository) SetTotalVotingPower(ctx context.Context, power uint64) error {
	return r.setCounter(ctx, counterVotingPower, int64(power))
}

// NextResolutionID hands out sequential ids. The counter row is updated in
// the caller's transaction, so an aborted open does not consume an id.
func (r *Repository) NextResolutionID(ctx context.Context) (int64, error) {
	return r.incrementCounter(ctx, counterResolutionID)
}

func (r *Repository) GetResolution(ctx context.Context, resolutionID int64) (entities.Resolution, error) {
	var row resolutionModel
	err := r.forUpdate(ctx).
		Where("resolution_id = ?", resolutionID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Resolution{}, domainerrors.ErrResolutionNotFound
		}
		return entities.Resolution{}, r.logError("voting_repo_get_resolution_failed", err,
			"resolution_id", resolutionID,
		)
	}
	return row.toEntity(), nil
}

// SaveResolution inserts a new resolution or updates one that is not yet
// resolved. A resolved row is final: writing over it fails with
// ErrAlreadyResolved, so of two racing terminal transitions only the first
// commits.
func (r *Repository) SaveResolution(ctx context.Context, resolution entities.Resolution) error {
	row := resolutionModelFromEntity(resolution)
	update := r.db.WithContext(ctx).
		Model(&resolutionModel{}).
		Where("resolution_id = ?", row.ResolutionID).
		Where("resolved = ?", false).
		Updates(row.updateColumns())
	if update.Error != nil {
		return r.logError("voting_repo_update_resolution_failed", update.Error,
			"resolution_id", row.ResolutionID,
		)
	}
	if update.RowsAffected > 0 {
		return nil
	}

	exists, err := r.exists(ctx, &resolutionModel{}, "resolution_id = ?", row.ResolutionID)
	if err != nil {
		return r.logError("voting_repo_save_resolution_lookup_failed", err, "resolution_id", row.ResolutionID)
	}
	if exists {
		return domainerrors.ErrAlreadyResolved
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return errDuplicateRow
		}
		return r.logError("voting_repo_create_resolution_failed", err,
			"resolution_id", row.ResolutionID,
		)
	}
	return nil
}

func (r *Repository) ListResolutions(ctx context.Context) ([]entities.Resolution, error) {
	var rows []resolutionModel
	if err := r.db.WithContext(ctx).Order("resolution_id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("voting_repo_list_resolutions_failed", err)
	}
	return toResolutionEntities(rows), nil
}

func (r *Repository) ListAwaitingReveal(ctx context.Context) ([]entities.Resolution, error) {
	var rows []resolutionModel
	if err := r.db.WithContext(ctx).
		Where("reveal_requested = ?", true).
		Where("resolved = ?", false).
		Order("resolution_id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("voting_repo_list_awaiting_reveal_failed", err)
	}
	return toResolutionEntities(rows), nil
}

func (r *Repository) GetBallot(ctx context.Context, resolutionID int64, memberID string) (entities.Ballot, bool, error) {
	var row ballotModel
	err := r.db.WithContext(ctx).
		Where("resolution_id = ?", resolutionID).
		Where("member_id = ?", strings.TrimSpace(memberID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Ballot{}, false, nil
		}
		return entities.Ballot{}, false, r.logError("voting_repo_get_ballot_failed", err,
			"resolution_id", resolutionID,
			"member_id", strings.TrimSpace(memberID),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) SaveBallot(ctx context.Context, ballot entities.Ballot) error {
	row := ballotModelFromEntity(ballot)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resolution_id"}, {Name: "member_id"}},
		UpdateAll: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("voting_repo_save_ballot_failed", create.Error,
			"resolution_id", ballot.ResolutionID,
			"member_id", ballot.MemberID,
		)
	}
	return nil
}

func (r *Repository) CountBallots(ctx context.Context, resolutionID int64) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&ballotModel{}).
		Where("resolution_id = ?", resolutionID).
		Count(&count).Error; err != nil {
		return 0, r.logError("voting_repo_count_ballots_failed", err, "resolution_id", resolutionID)
	}
	return int(count), nil
}

func (r *Repository) GetPendingRequest(ctx context.Context, requestID string) (entities.PendingRequest, bool, error) {
	var row pendingRequestModel
	err := r.forUpdate(ctx).
		Where("request_id = ?", strings.TrimSpace(requestID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.PendingRequest{}, false, nil
		}
		return entities.PendingRequest{}, false, r.logError("voting_repo_get_pending_request_failed", err,
			"request_id", strings.TrimSpace(requestID),
		)
	}
	return row.toEntity(), true, nil
}

// SavePendingRequest inserts a new correlation entry or updates one that has
// not been consumed. A consumed entry cannot be written again and reports
// ErrUnknownRequest, the same as a missing one.
func (r *Repository) SavePendingRequest(ctx context.Context, request entities.PendingRequest) error {
	row := pendingRequestModel{
		RequestID:    strings.TrimSpace(request.RequestID),
		ResolutionID: request.ResolutionID,
		RequestedAt:  request.RequestedAt.UTC(),
		Consumed:     request.Consumed,
		ConsumedAt:   normalizeOptionalTime(request.ConsumedAt),
		ConsumedBy:   string(request.ConsumedBy),
	}
	update := r.db.WithContext(ctx).
		Model(&pendingRequestModel{}).
		Where("request_id = ?", row.RequestID).
		Where("consumed = ?", false).
		Updates(map[string]any{
			"resolution_id": row.ResolutionID,
			"requested_at":  row.RequestedAt,
			"consumed":      row.Consumed,
			"consumed_at":   row.ConsumedAt,
			"consumed_by":   row.ConsumedBy,
		})
	if update.Error != nil {
		return r.logError("voting_repo_update_pending_request_failed", update.Error,
			"request_id", row.RequestID,
		)
	}
	if update.RowsAffected > 0 {
		return nil
	}

	exists, err := r.exists(ctx, &pendingRequestModel{}, "request_id = ?", row.RequestID)
	if err != nil {
		return r.logError("voting_repo_save_pending_request_lookup_failed", err, "request_id", row.RequestID)
	}
	if exists {
		return domainerrors.ErrUnknownRequest
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return errDuplicateRow
		}
		return r.logError("voting_repo_create_pending_request_failed", err,
			"request_id", row.RequestID,
		)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var row idempotencyModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", strings.TrimSpace(key)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, r.logError("voting_repo_idempotency_get_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	if !row.ExpiresAt.IsZero() && !row.ExpiresAt.UTC().After(now.UTC()) {
		if err := r.db.WithContext(ctx).
			Where("idempotency_key = ?", strings.TrimSpace(key)).
			Delete(&idempotencyModel{}).Error; err != nil {
			return ports.IdempotencyRecord{}, false, r.logError("voting_repo_idempotency_expire_delete_failed", err,
				"idempotency_key", strings.TrimSpace(key),
			)
		}
		return ports.IdempotencyRecord{}, false, nil
	}
	return ports.IdempotencyRecord{
		Key:          row.Key,
		RequestHash:  row.RequestHash,
		ResolutionID: row.ResolutionID,
		ExpiresAt:    row.ExpiresAt.UTC(),
	}, true, nil
}

func (r *Repository) Put(ctx context.Context, record ports.IdempotencyRecord) error {
	row := idempotencyModel{
		Key:          strings.TrimSpace(record.Key),
		RequestHash:  strings.TrimSpace(record.RequestHash),
		ResolutionID: record.ResolutionID,
		ExpiresAt:    record.ExpiresAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("voting_repo_idempotency_put_failed", create.Error, "idempotency_key", row.Key)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing idempotencyModel
	if err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", row.Key).
		First(&existing).Error; err != nil {
		return r.logError("voting_repo_idempotency_load_existing_failed", err, "idempotency_key", row.Key)
	}
	if existing.RequestHash != row.RequestHash || existing.ResolutionID != row.ResolutionID {
		return domainerrors.ErrIdempotencyConflict
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("voting_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	seq, err := r.incrementCounter(ctx, counterOutboxSeq)
	if err != nil {
		return err
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		Seq:          seq,
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("voting_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("voting_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return errOutboxConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("voting_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:  row.OutboxID,
			EventType: row.EventType,
			Payload:   append([]byte(nil), row.Payload...),
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("voting_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return errOutboxMissing
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("voting_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("voting_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, errDedupConflict
	}
	return true, nil
}

// ReleaseEvent drops a reservation whose processing failed, so a redelivery
// of the same event is handled again.
func (r *Repository) ReleaseEvent(ctx context.Context, eventID string) error {
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Delete(&eventDedupModel{}).Error; err != nil {
		return r.logError("voting_repo_release_event_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	return nil
}

func (r *Repository) counter(ctx context.Context, name string) (int64, error) {
	var row counterModel
	err := r.forUpdate(ctx).Where("name = ?", name).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, r.logError("voting_repo_counter_get_failed", err, "counter", name)
	}
	return row.Value, nil
}

func (r *Repository) setCounter(ctx context.Context, name string, value int64) error {
	row := counterModel{Name: name, Value: value}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("voting_repo_counter_set_failed", create.Error, "counter", name)
	}
	return nil
}

// incrementCounter bumps the counter in the database rather than writing back
// a value read earlier, so concurrent callers never hand out the same value.
func (r *Repository) incrementCounter(ctx context.Context, name string) (int64, error) {
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value": gorm.Expr("voting_counters.value + 1"),
		}),
	}).Create(&counterModel{Name: name, Value: 1})
	if create.Error != nil {
		return 0, r.logError("voting_repo_counter_increment_failed", create.Error, "counter", name)
	}
	return r.counter(ctx, name)
}

func (r *Repository) exists(ctx context.Context, model any, query string, args ...any) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "governance/confidential-voting",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("voting repository operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.Repository = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
