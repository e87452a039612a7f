package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// SessionMetadata carries descriptive and feature configuration for a class session.
type SessionMetadata struct {
	Subject            string      `json:"subject,omitempty"`
	Title              string      `json:"title,omitempty"`
	Notes              string      `json:"notes,omitempty"`
	SessionType        SessionType `json:"session_type,omitempty"`
	MaxParticipants    int         `json:"max_participants,omitempty"`
	RoomQuality        string      `json:"room_quality,omitempty"`
	WhiteboardEnabled  bool        `json:"whiteboard_enabled"`
	ChatEnabled        bool        `json:"chat_enabled"`
	ScreenShareEnabled bool        `json:"screen_share_enabled"`
	HandRaiseEnabled   bool        `json:"hand_raise_enabled"`
}

// VideoSession is the authoritative record of one live class session.
type VideoSession struct {
	BaseModel

	ClassSessionID string `gorm:"type:varchar(128);not null;index" json:"class_session_id"`
	// ClassKey mirrors ClassSessionID while the session is not cancelled and is nil afterwards,
	// so the unique index admits one live session per class session.
	ClassKey  *string `gorm:"type:varchar(128);uniqueIndex" json:"-"`
	CourseID  string  `gorm:"type:varchar(128);index" json:"course_id,omitempty"`
	TeacherID string  `gorm:"type:varchar(128);not null;index" json:"teacher_id"`
	StudentID *string `gorm:"type:varchar(128);index" json:"student_id,omitempty"`
	ParentID  *string `gorm:"type:varchar(128);index" json:"parent_id,omitempty"`
	// EnrolledStudentIDs is the course roster admitted as students to GROUP sessions.
	EnrolledStudentIDs datatypes.JSONSlice[string] `json:"enrolled_student_ids,omitempty"`

	RoomID   string `gorm:"type:varchar(128);not null;index" json:"room_id"`
	RoomName string `gorm:"type:varchar(64);not null" json:"room_name"`

	Status                SessionStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	ScheduledStartTime    time.Time     `gorm:"not null;index" json:"scheduled_start_time"`
	ActualStartTime       *time.Time    `gorm:"index" json:"actual_start_time,omitempty"`
	EndTime               *time.Time    `json:"end_time,omitempty"`
	DurationMinutes       int           `gorm:"not null" json:"duration_minutes"`
	ActualDurationMinutes *int          `json:"actual_duration_minutes,omitempty"`

	RecordingEnabled bool    `gorm:"not null;default:false" json:"recording_enabled"`
	RecordingID      *string `gorm:"type:varchar(128);index" json:"recording_id,omitempty"`
	RecordingStatus  string  `gorm:"type:varchar(16)" json:"recording_status,omitempty"`
	RecordingURL     string  `gorm:"type:text" json:"recording_url,omitempty"`

	Metadata datatypes.JSONType[SessionMetadata] `json:"metadata"`
	Version  int64                               `gorm:"not null;default:1" json:"version"`

	Participants []SessionParticipant `gorm:"foreignKey:SessionID" json:"participants,omitempty"`
}

// TableName pins the table name used by existing data.
func (VideoSession) TableName() string {
	return "video_sessions"
}

// ScheduledEnd returns the planned end of the session.
func (s *VideoSession) ScheduledEnd() time.Time {
	return s.ScheduledStartTime.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Recipients lists the teacher, student and parent ids that are set.
func (s *VideoSession) Recipients() []string {
	out := []string{s.TeacherID}
	if s.StudentID != nil && *s.StudentID != "" {
		out = append(out, *s.StudentID)
	}
	if s.ParentID != nil && *s.ParentID != "" {
		out = append(out, *s.ParentID)
	}
	return out
}

// SessionType returns the session type recorded in metadata, SOLO when unset.
func (s *VideoSession) SessionType() SessionType {
	if t := s.Metadata.Data().SessionType; t != "" {
		return t
	}
	return SessionTypeSolo
}

// StudentMayJoin applies the student binding: the roster for GROUP sessions, the single student otherwise.
func (s *VideoSession) StudentMayJoin(userID string) bool {
	if userID == "" {
		return false
	}
	if s.SessionType().IsGroup() {
		return slices.Contains(s.EnrolledStudentIDs, userID)
	}
	return deref(s.StudentID) == userID
}

// SessionParticipant is a join record owned by a VideoSession. A user has at most one row
// with a nil LeftAt per session.
type SessionParticipant struct {
	BaseModel

	SessionID       string          `gorm:"type:varchar(36);not null;index:idx_participant_session_user" json:"session_id"`
	UserID          string          `gorm:"type:varchar(128);not null;index:idx_participant_session_user" json:"user_id"`
	Role            ParticipantRole `gorm:"type:varchar(20);not null" json:"role"`
	StableRef       uint32          `gorm:"not null" json:"stable_ref"`
	JoinedAt        time.Time       `gorm:"not null;index" json:"joined_at"`
	LeftAt          *time.Time      `gorm:"index" json:"left_at,omitempty"`
	CameraEnabled   bool            `gorm:"not null;default:false" json:"camera_enabled"`
	MicEnabled      bool            `gorm:"not null;default:false" json:"mic_enabled"`
	ScreenSharing   bool            `gorm:"not null;default:false" json:"screen_sharing"`
	DurationMinutes *int            `json:"duration_minutes,omitempty"`
}

// TableName pins the participant table name.
func (SessionParticipant) TableName() string {
	return "video_session_participants"
}

// Active reports whether the participant has not left yet.
func (p *SessionParticipant) Active() bool {
	return p.LeftAt == nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// StringPtr returns nil for blank strings and a pointer otherwise.
func StringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
