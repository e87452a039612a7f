package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// WhiteboardRoom binds an external whiteboard room to a class session. Once closed it stays closed.
type WhiteboardRoom struct {
	BaseModel

	ClassSessionID string      `gorm:"type:varchar(128);not null;uniqueIndex" json:"class_session_id"`
	CourseID       string      `gorm:"type:varchar(128);index" json:"course_id,omitempty"`
	WhiteboardUUID string      `gorm:"type:varchar(128);not null;index" json:"whiteboard_uuid"`
	TeamUUID       string      `gorm:"type:varchar(128)" json:"team_uuid,omitempty"`
	AppUUID        string      `gorm:"type:varchar(128)" json:"app_uuid,omitempty"`
	TeacherID      string      `gorm:"type:varchar(128);not null;index" json:"teacher_id"`
	TeacherName    string      `gorm:"type:varchar(255)" json:"teacher_name,omitempty"`
	SessionType    SessionType `gorm:"type:varchar(16);not null" json:"session_type"`
	StudentID      *string     `gorm:"type:varchar(128)" json:"student_id,omitempty"`

	EnrolledStudentIDs datatypes.JSONSlice[string] `json:"enrolled_student_ids"`
	ActiveStudentIDs   datatypes.JSONSlice[string] `json:"active_student_ids"`

	Capacity           int        `gorm:"not null" json:"capacity"`
	IsActive           bool       `gorm:"not null;default:true;index" json:"is_active"`
	IsBanned           bool       `gorm:"not null;default:false" json:"is_banned"`
	SnapshotCount      int        `gorm:"not null;default:0" json:"snapshot_count"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	LastDisconnectTime *time.Time `gorm:"index" json:"last_disconnect_time,omitempty"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	// Version guards read-modify-write updates of the student id arrays.
	Version int64 `gorm:"not null;default:1" json:"version"`
}

// TableName pins the whiteboard room table name.
func (WhiteboardRoom) TableName() string {
	return "whiteboard_rooms"
}

// StudentCanWrite applies the session-type rule: one bound student for 1:1 sessions, the roster for groups.
func (r *WhiteboardRoom) StudentCanWrite(userID string) bool {
	if userID == "" {
		return false
	}
	if r.SessionType.IsGroup() {
		return slices.Contains(r.EnrolledStudentIDs, userID)
	}
	return r.StudentID != nil && *r.StudentID == userID
}

// AuthorizedStudents is the student set copied onto snapshots at save time.
func (r *WhiteboardRoom) AuthorizedStudents() []string {
	if r.SessionType.IsGroup() {
		return slices.Clone([]string(r.EnrolledStudentIDs))
	}
	if r.StudentID != nil && *r.StudentID != "" {
		return []string{*r.StudentID}
	}
	return []string{}
}

// WhiteboardSnapshot is an append-only capture of whiteboard content.
type WhiteboardSnapshot struct {
	BaseModel

	ClassSessionID       string                      `gorm:"type:varchar(128);not null;index" json:"class_session_id"`
	CourseID             string                      `gorm:"type:varchar(128);index" json:"course_id,omitempty"`
	WhiteboardUUID       string                      `gorm:"type:varchar(128);not null" json:"whiteboard_uuid"`
	SnapshotNumber       int                         `gorm:"not null" json:"snapshot_number"`
	SnapshotName         string                      `gorm:"type:varchar(255)" json:"snapshot_name"`
	SnapshotData         string                      `gorm:"type:text" json:"snapshot_data,omitempty"`
	ImageURL             string                      `gorm:"type:text" json:"image_url,omitempty"`
	TeacherID            string                      `gorm:"type:varchar(128);not null" json:"teacher_id"`
	TeacherName          string                      `gorm:"type:varchar(255)" json:"teacher_name,omitempty"`
	AuthorizedStudentIDs datatypes.JSONSlice[string] `json:"authorized_student_ids"`
}

// TableName pins the snapshot table name.
func (WhiteboardSnapshot) TableName() string {
	return "whiteboard_snapshots"
}

// VisibleTo reports whether userID may read the snapshot.
func (s *WhiteboardSnapshot) VisibleTo(userID string) bool {
	if userID == "" {
		return false
	}
	return s.TeacherID == userID || slices.Contains(s.AuthorizedStudentIDs, userID)
}
