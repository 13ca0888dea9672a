package domain

import (
	"fmt"
	"time"
)

type ParticipantID string

// ConnectionID identifies one signaling connection; a reconnect gets a new one.
type ConnectionID string

type Role string

const (
	RoleDriver   Role = "driver"
	RoleSubject  Role = "subject"
	RoleObserver Role = "observer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDriver, RoleSubject, RoleObserver:
		return true
	}
	return false
}

// RoleFromInterviewRole maps the interview vocabulary onto engine roles.
func RoleFromInterviewRole(s string) (Role, error) {
	switch s {
	case "interviewer", string(RoleDriver):
		return RoleDriver, nil
	case "candidate", string(RoleSubject):
		return RoleSubject, nil
	case "admin", string(RoleObserver):
		return RoleObserver, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

type Participant struct {
	ID           ParticipantID `json:"id"`
	DisplayName  string        `json:"name"`
	Role         Role          `json:"role"`
	ConnectionID ConnectionID  `json:"connectionId,omitempty"`
	JoinedAt     time.Time     `json:"joinedAt"`
}

// Admission is the outcome of a successful join.
type Admission struct {
	Self   Participant
	Roster []Participant
	// Replaced is the previous record when the same participant re-joined
	// before its old connection was cleaned up.
	Replaced *Participant
}
