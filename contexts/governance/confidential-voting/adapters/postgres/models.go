package postgresadapter

import (
	"time"

	"concord/contexts/governance/confidential-voting/domain/entities"
)

type memberModel struct {
	MemberID       string    `gorm:"column:member_id;primaryKey"`
	Name           string    `gorm:"column:name"`
	RoleLabel      string    `gorm:"column:role_label"`
	Weight         int64     `gorm:"column:weight"`
	Active         bool      `gorm:"column:active"`
	AutoRegistered bool      `gorm:"column:auto_registered"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (memberModel) TableName() string {
	return "voting_members"
}

func memberModelFromEntity(member entities.Member) memberModel {
	return memberModel{
		MemberID:       member.MemberID,
		Name:           member.Name,
		RoleLabel:      member.RoleLabel,
		Weight:         int64(member.Weight),
		Active:         member.Active,
		AutoRegistered: member.AutoRegistered,
		CreatedAt:      member.CreatedAt.UTC(),
		UpdatedAt:      member.UpdatedAt.UTC(),
	}
}

func (m memberModel) toEntity() entities.Member {
	return entities.Member{
		MemberID:       m.MemberID,
		Name:           m.Name,
		RoleLabel:      m.RoleLabel,
		Weight:         uint32(m.Weight),
		Active:         m.Active,
		AutoRegistered: m.AutoRegistered,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

type resolutionModel struct {
	ResolutionID      int64      `gorm:"column:resolution_id;primaryKey;autoIncrement:false"`
	Title             string     `gorm:"column:title"`
	Description       string     `gorm:"column:description"`
	CreatorID         string     `gorm:"column:creator_id;index"`
	StartTime         time.Time  `gorm:"column:start_time"`
	EndTime           time.Time  `gorm:"column:end_time"`
	RequiredQuorum    int64      `gorm:"column:required_quorum"`
	Active            bool       `gorm:"column:active"`
	YesVotes          []byte     `gorm:"column:yes_votes"`
	NoVotes           []byte     `gorm:"column:no_votes"`
	RevealRequested   bool       `gorm:"column:reveal_requested;index"`
	RevealRequestTime *time.Time `gorm:"column:reveal_request_time"`
	RevealRequestID   string     `gorm:"column:reveal_request_id"`
	Resolved          bool       `gorm:"column:resolved"`
	RevealFailed      bool       `gorm:"column:reveal_failed"`
	RevealedYesVotes  int64      `gorm:"column:revealed_yes_votes"`
	RevealedNoVotes   int64      `gorm:"column:revealed_no_votes"`
	ResolvedAt        *time.Time `gorm:"column:resolved_at"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (resolutionModel) TableName() string {
	return "voting_resolutions"
}

func resolutionModelFromEntity(resolution entities.Resolution) resolutionModel {
	return resolutionModel{
		ResolutionID:      resolution.ResolutionID,
		Title:             resolution.Title,
		Description:       resolution.Description,
		CreatorID:         resolution.CreatorID,
		StartTime:         resolution.StartTime.UTC(),
		EndTime:           resolution.EndTime.UTC(),
		RequiredQuorum:    int64(resolution.RequiredQuorum),
		Active:            resolution.Active,
		YesVotes:          resolution.YesVotes.Clone(),
		NoVotes:           resolution.NoVotes.Clone(),
		RevealRequested:   resolution.RevealRequested,
		RevealRequestTime: normalizeOptionalTime(resolution.RevealRequestTime),
		RevealRequestID:   resolution.RevealRequestID,
		Resolved:          resolution.Resolved,
		RevealFailed:      resolution.RevealFailed,
		RevealedYesVotes:  int64(resolution.RevealedYesVotes),
		RevealedNoVotes:   int64(resolution.RevealedNoVotes),
		ResolvedAt:        normalizeOptionalTime(resolution.ResolvedAt),
		CreatedAt:         resolution.CreatedAt.UTC(),
		UpdatedAt:         resolution.UpdatedAt.UTC(),
	}
}

// updateColumns lists every mutable column, zero values included.
func (m resolutionModel) updateColumns() map[string]any {
	return map[string]any{
		"title":               m.Title,
		"description":         m.Description,
		"creator_id":          m.CreatorID,
		"start_time":          m.StartTime,
		"end_time":            m.EndTime,
		"required_quorum":     m.RequiredQuorum,
		"active":              m.Active,
		"yes_votes":           m.YesVotes,
		"no_votes":            m.NoVotes,
		"reveal_requested":    m.RevealRequested,
		"reveal_request_time": m.RevealRequestTime,
		"reveal_request_id":   m.RevealRequestID,
		"resolved":            m.Resolved,
		"reveal_failed":       m.RevealFailed,
		"revealed_yes_votes":  m.RevealedYesVotes,
		"revealed_no_votes":   m.RevealedNoVotes,
		"resolved_at":         m.ResolvedAt,
		"created_at":          m.CreatedAt,
		"updated_at":          m.UpdatedAt,
	}
}

func (m resolutionModel) toEntity() entities.Resolution {
	return entities.Resolution{
		ResolutionID:      m.ResolutionID,
		Title:             m.Title,
		Description:       m.Description,
		CreatorID:         m.CreatorID,
		StartTime:         m.StartTime.UTC(),
		EndTime:           m.EndTime.UTC(),
		RequiredQuorum:    uint64(m.RequiredQuorum),
		Active:            m.Active,
		YesVotes:          entities.Ciphertext(m.YesVotes).Clone(),
		NoVotes:           entities.Ciphertext(m.NoVotes).Clone(),
		RevealRequested:   m.RevealRequested,
		RevealRequestTime: normalizeOptionalTime(m.RevealRequestTime),
		RevealRequestID:   m.RevealRequestID,
		Resolved:          m.Resolved,
		RevealFailed:      m.RevealFailed,
		RevealedYesVotes:  uint64(m.RevealedYesVotes),
		RevealedNoVotes:   uint64(m.RevealedNoVotes),
		ResolvedAt:        normalizeOptionalTime(m.ResolvedAt),
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
}

type ballotModel struct {
	ResolutionID int64     `gorm:"column:resolution_id;primaryKey;autoIncrement:false"`
	MemberID     string    `gorm:"column:member_id;primaryKey"`
	Choice       []byte    `gorm:"column:choice"`
	Weight       int64     `gorm:"column:weight"`
	YesShare     []byte    `gorm:"column:yes_share"`
	NoShare      []byte    `gorm:"column:no_share"`
	CastCount    int       `gorm:"column:cast_count"`
	CastAt       time.Time `gorm:"column:cast_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (ballotModel) TableName() string {
	return "voting_ballots"
}

func ballotModelFromEntity(ballot entities.Ballot) ballotModel {
	return ballotModel{
		ResolutionID: ballot.ResolutionID,
		MemberID:     ballot.MemberID,
		Choice:       ballot.Choice.Clone(),
		Weight:       int64(ballot.Weight),
		YesShare:     ballot.YesShare.Clone(),
		NoShare:      ballot.NoShare.Clone(),
		CastCount:    ballot.CastCount,
		CastAt:       ballot.CastAt.UTC(),
		UpdatedAt:    ballot.UpdatedAt.UTC(),
	}
}

func (m ballotModel) toEntity() entities.Ballot {
	return entities.Ballot{
		ResolutionID: m.ResolutionID,
		MemberID:     m.MemberID,
		Choice:       entities.Ciphertext(m.Choice).Clone(),
		Weight:       uint32(m.Weight),
		YesShare:     entities.Ciphertext(m.YesShare).Clone(),
		NoShare:      entities.Ciphertext(m.NoShare).Clone(),
		CastCount:    m.CastCount,
		CastAt:       m.CastAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

type pendingRequestModel struct {
	RequestID    string     `gorm:"column:request_id;primaryKey"`
	ResolutionID int64      `gorm:"column:resolution_id;index"`
	RequestedAt  time.Time  `gorm:"column:requested_at"`
	Consumed     bool       `gorm:"column:consumed"`
	ConsumedAt   *time.Time `gorm:"column:consumed_at"`
	ConsumedBy   string     `gorm:"column:consumed_by"`
}

func (pendingRequestModel) TableName() string {
	return "voting_pending_requests"
}

func (m pendingRequestModel) toEntity() entities.PendingRequest {
	return entities.PendingRequest{
		RequestID:    m.RequestID,
		ResolutionID: m.ResolutionID,
		RequestedAt:  m.RequestedAt.UTC(),
		Consumed:     m.Consumed,
		ConsumedAt:   normalizeOptionalTime(m.ConsumedAt),
		ConsumedBy:   entities.ConsumedBy(m.ConsumedBy),
	}
}

type counterModel struct {
	Name  string `gorm:"column:name;primaryKey"`
	Value int64  `gorm:"column:value"`
}

func (counterModel) TableName() string {
	return "voting_counters"
}

type idempotencyModel struct {
	Key          string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash  string    `gorm:"column:request_hash"`
	ResolutionID int64     `gorm:"column:resolution_id"`
	ExpiresAt    time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "voting_idempotency"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	Seq          int64      `gorm:"column:seq;index"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "voting_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "voting_event_dedup"
}

func toResolutionEntities(rows []resolutionModel) []entities.Resolution {
	items := make([]entities.Resolution, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}
