// Package events carries cross-service events between the session engines and the rest of the
// platform: inbound booking, class and course events, and the outbound lifecycle stream.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"

	"github.com/charlesng35/liveclass/pkg/validator"
)

// Topics.
const (
	TopicBookingEvents      = "booking-events"
	TopicSessionEvents      = "session-events"
	TopicCourseEvents       = "course-events"
	TopicVideoSessionEvents = "video-session-events"
)

// Inbound event types.
const (
	TypeBookingConfirmed  = "BOOKING_CONFIRMED"
	TypeSessionCreated    = "SESSION_CREATED"
	TypeSessionCancelled  = "SESSION_CANCELLED"
	TypeStudentEnrolled   = "STUDENT_ENROLLED"
	TypeStudentUnenrolled = "STUDENT_UNENROLLED"
)

// ErrInvalidEvent is returned when an event payload cannot be decoded or fails validation.
var ErrInvalidEvent = errors.New("events: invalid event")

// Event is a flat camelCase event envelope. The eventType key names the event.
type Event map[string]any

// Type returns the eventType field.
func (e Event) Type() string {
	value, _ := e["eventType"].(string)
	return strings.TrimSpace(value)
}

// localDateTimeLayouts are accepted in addition to RFC 3339. Zone-less values are read as UTC.
var localDateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range localDateTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

func stringToTimeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		if data.(string) == "" {
			return time.Time{}, nil
		}
		return parseTimestamp(data.(string))
	}
}

// Decode maps the event onto out and validates it.
func Decode(event Event, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToTimeHook(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]any(event)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, event.Type(), err)
	}
	if err := validator.ValidateStruct(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, event.Type(), err)
	}
	return nil
}

// Encode flattens a json-tagged struct into an Event. Timestamps become RFC 3339 strings.
func Encode(value any) (Event, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("events: encode: %w", err)
	}
	var out Event
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("events: encode: %w", err)
	}
	return out, nil
}

// BookingConfirmed is published when a 1:1 booking is paid and confirmed.
type BookingConfirmed struct {
	ClassSessionID     string    `json:"classSessionId" validate:"required,notblank"`
	TeacherID          string    `json:"teacherId" validate:"required,notblank"`
	StudentID          string    `json:"studentId" validate:"required,notblank"`
	ParentID           string    `json:"parentId"`
	CourseID           string    `json:"courseId"`
	SessionType        string    `json:"sessionType"`
	ScheduledStartTime time.Time `json:"scheduledStartTime" validate:"required"`
	DurationMinutes    int       `json:"durationMinutes" validate:"gt=0"`
	Subject            string    `json:"subject"`
}

// SessionCreated is published when a class session, typically a group class, is scheduled.
type SessionCreated struct {
	SessionID          string    `json:"sessionId" validate:"required,notblank"`
	CourseID           string    `json:"courseId"`
	SessionType        string    `json:"sessionType"`
	TeacherID          string    `json:"teacherId" validate:"required,notblank"`
	StudentID          string    `json:"studentId"`
	EnrolledStudentIDs []string  `json:"enrolledStudentIds"`
	ScheduledStartTime time.Time `json:"scheduledStartTime" validate:"required"`
	DurationMinutes    int       `json:"durationMinutes" validate:"gt=0"`
	MaxParticipants    int       `json:"maxParticipants"`
	Title              string    `json:"title"`
}

// SessionCancelled is published when a class session is called off.
type SessionCancelled struct {
	SessionID string `json:"sessionId" validate:"required,notblank"`
	Reason    string `json:"reason"`
}

// Enrollment is published when a student joins or leaves a course.
type Enrollment struct {
	CourseID    string `json:"courseId" validate:"required,notblank"`
	StudentID   string `json:"studentId" validate:"required,notblank"`
	StudentName string `json:"studentName"`
}

// LifecycleNotice is the subset of the outbound lifecycle event listeners react to.
type LifecycleNotice struct {
	Type           string `json:"eventType" validate:"required"`
	SessionID      string `json:"sessionId" validate:"required"`
	ClassSessionID string `json:"classSessionId" validate:"required"`
}
