package application

import (
	"strings"

	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
)

// Authorizer holds the role assignments that are not member data: the
// administrator set and the single identity allowed to deliver reveals.
type Authorizer struct {
	Administrators []string
	OracleIdentity string
}

func (a Authorizer) IsAdmin(callerID string) bool {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return false
	}
	for _, admin := range a.Administrators {
		if strings.TrimSpace(admin) == callerID {
			return true
		}
	}
	return false
}

func (a Authorizer) RequireAdmin(callerID string) error {
	if !a.IsAdmin(callerID) {
		return domainerrors.ErrForbidden
	}
	return nil
}

func (a Authorizer) RequireOracle(callerID string) error {
	oracle := strings.TrimSpace(a.OracleIdentity)
	if oracle == "" || strings.TrimSpace(callerID) != oracle {
		return domainerrors.ErrUnauthorizedCallback
	}
	return nil
}

// RequireCreatorOrAdmin guards the timeout fallback.
func (a Authorizer) RequireCreatorOrAdmin(callerID string, creatorID string) error {
	callerID = strings.TrimSpace(callerID)
	if callerID != "" && callerID == creatorID {
		return nil
	}
	return a.RequireAdmin(callerID)
}
