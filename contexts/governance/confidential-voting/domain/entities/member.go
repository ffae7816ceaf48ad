package entities

import "time"

const (
	MinMemberWeight uint32 = 1
	MaxMemberWeight uint32 = 1000

	DefaultRoleLabel = "member"
)

type Member struct {
	MemberID       string
	Name           string
	RoleLabel      string
	Weight         uint32
	Active         bool
	AutoRegistered bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EffectiveWeight is the weight counted toward voting power; inactive members
// count as zero.
func (m Member) EffectiveWeight() uint64 {
	if !m.Active {
		return 0
	}
	return uint64(m.Weight)
}
