package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/cache"
	"github.com/charlesng35/liveclass/internal/database/testutil"
	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/provider/providertest"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 9, 2, 14, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (p *recordingPublisher) PublishLifecycle(_ context.Context, event LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

func (p *recordingPublisher) last(eventType string) (LifecycleEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == eventType {
			return p.events[i], true
		}
	}
	return LifecycleEvent{}, false
}

type engineFixture struct {
	db         *gorm.DB
	clock      *testClock
	rooms      *providertest.Rooms
	boards     *providertest.Boards
	publisher  *recordingPublisher
	store      *cache.MemoryStore
	video      *VideoSessionService
	whiteboard *WhiteboardService
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		db:        testutil.MustOpenTestDB(t, testutil.WithAutoMigrate()),
		clock:     newTestClock(),
		rooms:     &providertest.Rooms{},
		boards:    &providertest.Boards{},
		publisher: &recordingPublisher{},
	}
	f.store = cache.NewMemoryStore(f.clock.Now)
	locks := NewKeyedMutex()

	video, err := NewVideoSessionService(f.db, f.rooms,
		WithVideoClock(f.clock.Now),
		WithLifecyclePublisher(f.publisher),
		WithSessionLocks(locks),
	)
	require.NoError(t, err)
	f.video = video

	whiteboard, err := NewWhiteboardService(f.db, f.boards,
		WithWhiteboardClock(f.clock.Now),
		WithWhiteboardLocks(locks),
		WithCredentialCache(NewCredentialCache(f.store, time.Hour)),
		WithStateStore(f.store),
	)
	require.NoError(t, err)
	f.whiteboard = whiteboard

	return f
}

// createSolo schedules a 1:1 session for teacher T1 and student U1.
func (f *engineFixture) createSolo(t *testing.T, classID string, startsIn time.Duration) *models.VideoSession {
	t.Helper()
	session, err := f.video.CreateSession(context.Background(), CreateSessionParams{
		ClassSessionID:     classID,
		TeacherID:          "T1",
		StudentID:          "U1",
		ParentID:           "P1",
		ScheduledStartTime: f.clock.Now().Add(startsIn),
		DurationMinutes:    60,
		Metadata: models.SessionMetadata{
			Subject:           "Algebra",
			WhiteboardEnabled: true,
			ChatEnabled:       true,
		},
	})
	require.NoError(t, err)
	return session
}

// startSolo creates a 1:1 session and puts it in progress by joining the teacher.
func (f *engineFixture) startSolo(t *testing.T, classID string) *models.VideoSession {
	t.Helper()
	session := f.createSolo(t, classID, 5*time.Minute)
	result, err := f.video.JoinSession(context.Background(), session.ID, "T1", models.RoleTeacher)
	require.NoError(t, err)
	require.Equal(t, models.SessionInProgress, result.Session.Status)
	return result.Session
}

// startGroup creates a GROUP session with roster and puts it in progress.
func (f *engineFixture) startGroup(t *testing.T, classID string, roster []string) *models.VideoSession {
	t.Helper()
	ctx := context.Background()
	session, err := f.video.CreateSession(ctx, CreateSessionParams{
		ClassSessionID:     classID,
		CourseID:           "C1",
		TeacherID:          "T1",
		EnrolledStudentIDs: roster,
		ScheduledStartTime: f.clock.Now(),
		DurationMinutes:    45,
	})
	require.NoError(t, err)
	_, err = f.video.JoinSession(ctx, session.ID, "T1", models.RoleTeacher)
	require.NoError(t, err)
	return session
}

func (f *engineFixture) participantCount(t *testing.T, sessionID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.SessionParticipant{}).Where("session_id = ?", sessionID).Count(&count).Error)
	return count
}

var errBoom = errors.New("boom")
