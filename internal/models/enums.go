package models

import "strings"

// SessionStatus is the persisted lifecycle state of a VideoSession.
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "SCHEDULED"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionCancelled  SessionStatus = "CANCELLED"
	SessionNoShow     SessionStatus = "NO_SHOW"
)

// sessionTransitions lists every legal forward move. Terminal states have no entry.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionScheduled:  {SessionInProgress, SessionCancelled, SessionNoShow},
	SessionInProgress: {SessionCompleted},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s SessionStatus) IsTerminal() bool {
	return len(sessionTransitions[s]) == 0
}

// Joinable reports whether participants may enter a session in this state.
func (s SessionStatus) Joinable() bool {
	return s == SessionScheduled || s == SessionInProgress
}

// ParticipantRole is the closed set of roles a user can hold in a class session.
type ParticipantRole string

const (
	RoleTeacher        ParticipantRole = "TEACHER"
	RoleStudent        ParticipantRole = "STUDENT"
	RoleParentObserver ParticipantRole = "PARENT_OBSERVER"
)

// ParseParticipantRole normalises user supplied role names. "PARENT" is accepted as an alias.
func ParseParticipantRole(value string) (ParticipantRole, bool) {
	switch ParticipantRole(strings.ToUpper(strings.TrimSpace(value))) {
	case RoleTeacher:
		return RoleTeacher, true
	case RoleStudent:
		return RoleStudent, true
	case RoleParentObserver, "PARENT":
		return RoleParentObserver, true
	default:
		return "", false
	}
}

// SessionType drives whiteboard capacity and student authorization.
type SessionType string

const (
	SessionTypeSolo      SessionType = "SOLO"
	SessionTypeDemo      SessionType = "DEMO"
	SessionTypeRecurring SessionType = "RECURRING"
	SessionTypeGroup     SessionType = "GROUP"
)

// ParseSessionType validates a session type, defaulting blank input to SOLO.
func ParseSessionType(value string) (SessionType, bool) {
	switch t := SessionType(strings.ToUpper(strings.TrimSpace(value))); t {
	case "":
		return SessionTypeSolo, true
	case SessionTypeSolo, SessionTypeDemo, SessionTypeRecurring, SessionTypeGroup:
		return t, true
	default:
		return "", false
	}
}

// IsGroup reports whether students are authorized by roster instead of a single student id.
func (t SessionType) IsGroup() bool {
	return t == SessionTypeGroup
}

// Recording status values written by the lifecycle engine and recording webhooks.
const (
	RecordingActive    = "RECORDING"
	RecordingStopped   = "STOPPED"
	RecordingCompleted = "COMPLETED"
	RecordingFailed    = "FAILED"
)
