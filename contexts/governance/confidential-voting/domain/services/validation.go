package services

import (
	"strings"
	"unicode/utf8"

	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
)

const (
	MinTextLength = 1
	MaxTextLength = 1000
)

// ValidateIdentity rejects blank identities. Identities are otherwise opaque.
func ValidateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return domainerrors.ErrInvalidAddress
	}
	return nil
}

func ValidateWeight(weight uint32) error {
	if weight < entities.MinMemberWeight || weight > entities.MaxMemberWeight {
		return domainerrors.ErrInvalidWeight
	}
	return nil
}

// ValidateText enforces the 1..1000 length bound, counted in runes.
func ValidateText(values ...string) error {
	for _, value := range values {
		length := utf8.RuneCountInString(value)
		if length < MinTextLength || length > MaxTextLength {
			return domainerrors.ErrInvalidStringLength
		}
	}
	return nil
}

// TruncateText clips value to the maximum text length without splitting runes.
func TruncateText(value string) string {
	if utf8.RuneCountInString(value) <= MaxTextLength {
		return value
	}
	runes := []rune(value)
	return string(runes[:MaxTextLength])
}

// ValidateQuorum checks quorum against the voting power at creation time.
func ValidateQuorum(quorum uint64, totalVotingPower uint64) error {
	if quorum == 0 {
		return domainerrors.ErrQuorumZero
	}
	if quorum > totalVotingPower {
		return domainerrors.ErrQuorumExceedsPower
	}
	return nil
}
