package models

// Whiteboard credential levels granted by role.
const (
	WhiteboardAdmin  = "admin"
	WhiteboardWriter = "writer"
	WhiteboardReader = "reader"
)

// Media provider roles.
const (
	MediaPublisher  = "publisher"
	MediaSubscriber = "subscriber"
)

// RolePolicy is everything a participant role implies. The table below is the only place
// role rules are defined; callers look them up instead of branching on the role.
type RolePolicy struct {
	// mayJoin checks the session field bound to this role.
	mayJoin func(session *VideoSession, userID string) bool
	// whiteboardAllowed decides whether userID may enter the room in this role.
	whiteboardAllowed func(room *WhiteboardRoom, userID string) bool

	MediaRole        string
	MediaOnJoin      bool
	WhiteboardAccess string
	TracksPresence   bool
}

var rolePolicies = map[ParticipantRole]RolePolicy{
	RoleTeacher: {
		mayJoin: func(s *VideoSession, userID string) bool { return s.TeacherID == userID },
		whiteboardAllowed: func(r *WhiteboardRoom, userID string) bool {
			return userID != "" && r.TeacherID == userID
		},
		MediaRole:        MediaPublisher,
		MediaOnJoin:      true,
		WhiteboardAccess: WhiteboardAdmin,
	},
	RoleStudent: {
		mayJoin:           (*VideoSession).StudentMayJoin,
		whiteboardAllowed: (*WhiteboardRoom).StudentCanWrite,
		MediaRole:         MediaPublisher,
		MediaOnJoin:       true,
		WhiteboardAccess:  WhiteboardWriter,
		TracksPresence:    true,
	},
	RoleParentObserver: {
		mayJoin:           func(s *VideoSession, userID string) bool { return deref(s.ParentID) == userID },
		whiteboardAllowed: func(*WhiteboardRoom, string) bool { return true },
		MediaRole:         MediaSubscriber,
		MediaOnJoin:       false,
		WhiteboardAccess:  WhiteboardReader,
	},
}

// Policy returns the rules for r. ok is false for roles outside the closed set.
func (r ParticipantRole) Policy() (RolePolicy, bool) {
	policy, ok := rolePolicies[r]
	return policy, ok
}

// MayJoin reports whether userID is bound to this role on session.
func (p RolePolicy) MayJoin(session *VideoSession, userID string) bool {
	if p.mayJoin == nil || session == nil || userID == "" {
		return false
	}
	return p.mayJoin(session, userID)
}

// MayUseWhiteboard reports whether userID may enter room in this role.
func (p RolePolicy) MayUseWhiteboard(room *WhiteboardRoom, userID string) bool {
	if p.whiteboardAllowed == nil || room == nil {
		return false
	}
	return p.whiteboardAllowed(room, userID)
}
