package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/charlesng35/liveclass/internal/database/testutil"
	"github.com/charlesng35/liveclass/internal/models"
)

func seedNotification(t *testing.T, db *gorm.DB, userID string, readAt *time.Time) *models.Notification {
	t.Helper()
	n := &models.Notification{UserID: userID, Type: "SESSION_REMINDER", Title: "Reminder"}
	require.NoError(t, db.Create(n).Error)
	if readAt != nil {
		require.NoError(t, db.Model(n).Updates(map[string]any{"is_read": true, "read_at": *readAt}).Error)
	}
	return n
}

func seedRoom(t *testing.T, db *gorm.DB, classID string, closedAt *time.Time) *models.WhiteboardRoom {
	t.Helper()
	room := &models.WhiteboardRoom{
		ClassSessionID: classID,
		WhiteboardUUID: "wb-" + classID,
		TeacherID:      "T1",
		SessionType:    models.SessionTypeSolo,
		Capacity:       2,
	}
	require.NoError(t, db.Create(room).Error)
	if closedAt != nil {
		require.NoError(t, db.Model(room).Updates(map[string]any{"is_active": false, "closed_at": *closedAt}).Error)
	}
	return room
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestCleanupNotifications(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2024, 9, 2, 14, 0, 0, 0, time.UTC)

	old := now.AddDate(0, 0, -40)
	recent := now.AddDate(0, 0, -2)
	seedNotification(t, db, "U1", &old)
	kept := seedNotification(t, db, "U1", &recent)
	unread := seedNotification(t, db, "U2", nil)
	require.NoError(t, db.Model(unread).Update("created_at", old).Error)

	removed, err := CleanupNotifications(context.Background(), db, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	require.Equal(t, int64(2), count(t, db, &models.Notification{}))

	var remaining models.Notification
	require.NoError(t, db.First(&remaining, "id = ?", kept.ID).Error)
}

func TestCleanupRequiresDB(t *testing.T) {
	_, err := CleanupNotifications(context.Background(), nil, time.Now())
	require.Error(t, err)
	_, err = CleanupClosedWhiteboards(context.Background(), nil, time.Now())
	require.Error(t, err)
	require.Error(t, NewCleaner(nil).Start())
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := fixedClock{current: time.Date(2024, 9, 2, 14, 0, 0, 0, time.UTC)}

	longAgo := clock.Now().AddDate(0, 0, -120)
	lastWeek := clock.Now().AddDate(0, 0, -7)
	seedRoom(t, db, "C-old", &longAgo)
	seedRoom(t, db, "C-recent", &lastWeek)
	live := seedRoom(t, db, "C-live", nil)
	seedNotification(t, db, "U1", &lastWeek)

	c := NewCleaner(db,
		WithNow(clock.Now),
		WithNotificationRetentionDays(5),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	require.NoError(t, c.RunOnce(context.Background()))

	require.Equal(t, int64(0), count(t, db, &models.Notification{}))
	require.Equal(t, int64(2), count(t, db, &models.WhiteboardRoom{}))

	var room models.WhiteboardRoom
	require.ErrorIs(t, db.First(&room, "class_session_id = ?", "C-old").Error, gorm.ErrRecordNotFound)
	require.NoError(t, db.First(&room, "id = ?", live.ID).Error)
	require.True(t, room.IsActive)
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	c := NewCleaner(db, WithSchedule("not a spec"))
	require.ErrorContains(t, c.Start(), "not a spec")

	c = NewCleaner(db, WithSchedule("@every 1h"))
	require.NoError(t, c.Start())
	<-c.Stop().Done()
}

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}
