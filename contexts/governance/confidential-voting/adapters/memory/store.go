package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	"concord/contexts/governance/confidential-voting/ports"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	errOutboxConflict = errors.New("outbox event id reused with a different payload")
	errOutboxMissing  = errors.New("outbox row not found")
	errDedupConflict  = errors.New("event id reused with a different payload")
)

type outboxRecord struct {
	seq       uint64
	message   ports.OutboxMessage
	published bool
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

// state is the part of the store covered by Atomically.
type state struct {
	members     map[string]entities.Member
	resolutions map[int64]entities.Resolution
	ballots     map[string]entities.Ballot
	pending     map[string]entities.PendingRequest
	outbox      map[string]outboxRecord
	totalPower  uint64
	lastID      int64
	outboxSeq   uint64
}

func (st state) clone() state {
	return state{
		members:     lo.Assign(st.members),
		resolutions: lo.Assign(st.resolutions),
		ballots:     lo.Assign(st.ballots),
		pending:     lo.Assign(st.pending),
		outbox:      lo.Assign(st.outbox),
		totalPower:  st.totalPower,
		lastID:      st.lastID,
		outboxSeq:   st.outboxSeq,
	}
}

// Store is the in-memory Repository used by tests and the memory driver.
type Store struct {
	tx sync.Mutex
	mu sync.RWMutex

	st          state
	idempotency map[string]ports.IdempotencyRecord
	eventDedup  map[string]dedupRecord
}

func NewStore() *Store {
	return &Store{
		st: state{
			members:     make(map[string]entities.Member),
			resolutions: make(map[int64]entities.Resolution),
			ballots:     make(map[string]entities.Ballot),
			pending:     make(map[string]entities.PendingRequest),
			outbox:      make(map[string]outboxRecord),
		},
		idempotency: make(map[string]ports.IdempotencyRecord),
		eventDedup:  make(map[string]dedupRecord),
	}
}

// Atomically snapshots the state, runs fn against the store and restores the
// snapshot if fn fails.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	s.tx.Lock()
	defer s.tx.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) GetMember(_ context.Context, memberID string) (entities.Member, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, ok := s.st.members[strings.TrimSpace(memberID)]
	return member, ok, nil
}

func (s *Store) SaveMember(_ context.Context, member entities.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.members[member.MemberID] = member
	return nil
}

func (s *Store) ListMembers(_ context.Context) ([]entities.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := lo.Values(s.st.members)
	sort.Slice(members, func(i, j int) bool { return members[i].MemberID < members[j].MemberID })
	return members, nil
}

func (s *Store) TotalVotingPower(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.totalPower, nil
}

func (s *Store) SetTotalVotingPower(_ context.Context, power uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.totalPower = power
	return nil
}

func (s *Store) NextResolutionID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.lastID++
	return s.st.lastID, nil
}

func (s *Store) GetResolution(_ context.Context, resolutionID int64) (entities.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resolution, ok := s.st.resolutions[resolutionID]
	if !ok {
		return entities.Resolution{}, domainerrors.ErrResolutionNotFound
	}
	return cloneResolution(resolution), nil
}

// SaveResolution refuses to overwrite a resolved resolution.
func (s *Store) SaveResolution(_ context.Context, resolution entities.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.st.resolutions[resolution.ResolutionID]; ok && existing.Resolved {
		return domainerrors.ErrAlreadyResolved
	}
	s.st.resolutions[resolution.ResolutionID] = cloneResolution(resolution)
	return nil
}

func (s *Store) ListResolutions(_ context.Context) ([]entities.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := lo.Map(lo.Values(s.st.resolutions), func(item entities.Resolution, _ int) entities.Resolution {
		return cloneResolution(item)
	})
	sortResolutions(items)
	return items, nil
}

func (s *Store) ListAwaitingReveal(_ context.Context) ([]entities.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := lo.Filter(lo.Values(s.st.resolutions), func(item entities.Resolution, _ int) bool {
		return item.RevealRequested && !item.Resolved
	})
	sortResolutions(items)
	return items, nil
}

func (s *Store) GetBallot(_ context.Context, resolutionID int64, memberID string) (entities.Ballot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ballot, ok := s.st.ballots[ballotKey(resolutionID, memberID)]
	if !ok {
		return entities.Ballot{}, false, nil
	}
	return cloneBallot(ballot), true, nil
}

func (s *Store) SaveBallot(_ context.Context, ballot entities.Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.ballots[ballotKey(ballot.ResolutionID, ballot.MemberID)] = cloneBallot(ballot)
	return nil
}

func (s *Store) CountBallots(_ context.Context, resolutionID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.CountBy(lo.Values(s.st.ballots), func(item entities.Ballot) bool {
		return item.ResolutionID == resolutionID
	}), nil
}

func (s *Store) GetPendingRequest(_ context.Context, requestID string) (entities.PendingRequest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.st.pending[strings.TrimSpace(requestID)]
	return request, ok, nil
}

func (s *Store) SavePendingRequest(_ context.Context, request entities.PendingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.st.pending[request.RequestID]; ok && existing.Consumed {
		return domainerrors.ErrUnknownRequest
	}
	s.st.pending[request.RequestID] = request
	return nil
}

func (s *Store) Get(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	record, exists := s.idempotency[key]
	if !exists {
		return ports.IdempotencyRecord{}, false, nil
	}
	if !record.ExpiresAt.After(now.UTC()) {
		delete(s.idempotency, key)
		return ports.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (s *Store) Put(_ context.Context, record ports.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(record.Key)
	existing, exists := s.idempotency[key]
	if exists {
		if existing.RequestHash != record.RequestHash || existing.ResolutionID != record.ResolutionID {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}
	s.idempotency[key] = ports.IdempotencyRecord{
		Key:          key,
		RequestHash:  strings.TrimSpace(record.RequestHash),
		ResolutionID: record.ResolutionID,
		ExpiresAt:    record.ExpiresAt.UTC(),
	}
	return nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.st.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return errOutboxConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.st.outboxSeq++
	s.st.outbox[outboxID] = outboxRecord{
		seq: s.st.outboxSeq,
		message: ports.OutboxMessage{
			OutboxID:  outboxID,
			EventType: strings.TrimSpace(envelope.EventType),
			Payload:   payload,
			CreatedAt: createdAt,
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows := lo.Filter(lo.Values(s.st.outbox), func(row outboxRecord, _ int) bool {
		return !row.published
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return lo.Map(rows, func(row outboxRecord, _ int) ports.OutboxMessage {
		return row.message
	}), nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(outboxID)
	row, ok := s.st.outbox[key]
	if !ok {
		return errOutboxMissing
	}
	row.published = true
	s.st.outbox[key] = row
	return nil
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	existing, ok := s.eventDedup[key]
	if ok {
		if !existing.expiresAt.IsZero() && time.Now().UTC().After(existing.expiresAt.UTC()) {
			delete(s.eventDedup, key)
		} else {
			if existing.payloadHash != strings.TrimSpace(payloadHash) {
				return false, errDedupConflict
			}
			return true, nil
		}
	}

	s.eventDedup[key] = dedupRecord{
		payloadHash: strings.TrimSpace(payloadHash),
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) ReleaseEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.eventDedup, strings.TrimSpace(eventID))
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func ballotKey(resolutionID int64, memberID string) string {
	return strconv.FormatInt(resolutionID, 10) + "/" + strings.TrimSpace(memberID)
}

func cloneResolution(resolution entities.Resolution) entities.Resolution {
	resolution.YesVotes = resolution.YesVotes.Clone()
	resolution.NoVotes = resolution.NoVotes.Clone()
	return resolution
}

func cloneBallot(ballot entities.Ballot) entities.Ballot {
	ballot.Choice = ballot.Choice.Clone()
	ballot.YesShare = ballot.YesShare.Clone()
	ballot.NoShare = ballot.NoShare.Clone()
	return ballot
}

func sortResolutions(items []entities.Resolution) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ResolutionID < items[j].ResolutionID
	})
}
