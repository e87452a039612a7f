package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/pkg/logger"
)

// ErrNotificationNotFound is returned when a notification does not exist for the user.
var ErrNotificationNotFound = errors.New("notification service: notification not found")

// Broadcaster pushes realtime messages to connected clients.
type Broadcaster interface {
	BroadcastToUser(stream, userID string, message realtime.Message)
	BroadcastStream(stream string, message realtime.Message)
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationService persists user notifications and relays them over the realtime hub.
// It implements Notifier.
type NotificationService struct {
	db      *gorm.DB
	hub     Broadcaster
	timeNow func() time.Time
	log     *zap.Logger
}

var _ Notifier = (*NotificationService)(nil)

// NewNotificationService constructs a NotificationService. hub may be nil, in which case
// notifications are only stored.
func NewNotificationService(db *gorm.DB, hub Broadcaster) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{
		db:      db,
		hub:     hub,
		timeNow: func() time.Time { return time.Now().UTC() },
		log:     logger.WithModule("notifications"),
	}, nil
}

// NotifyUser stores the notification in the user's inbox and pushes it to their open connections.
func (s *NotificationService) NotifyUser(ctx context.Context, userID string, notification Notification) error {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return invalidInput("notification user id is required")
	}
	if strings.TrimSpace(notification.Type) == "" {
		return invalidInput("notification type is required")
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = s.timeNow()
	}

	row := models.Notification{
		UserID:         userID,
		Type:           notification.Type,
		Title:          defaultIfEmpty(strings.TrimSpace(notification.Title), notification.Type),
		Message:        strings.TrimSpace(notification.Message),
		SessionID:      notification.SessionID,
		ClassSessionID: notification.ClassSessionID,
		Data:           datatypes.JSONMap(notification.Data),
	}
	row.CreatedAt = notification.CreatedAt
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("notification service: create notification: %w", err)
	}

	monitoring.RecordNotification(notification.Type)
	if s.hub != nil {
		s.hub.BroadcastToUser(realtime.StreamNotifications, userID, realtime.Message{
			Event: notification.Type,
			Data:  row,
		})
	}
	return nil
}

// BroadcastTopic pushes the notification to every subscriber of topic. Topic messages are not stored.
func (s *NotificationService) BroadcastTopic(_ context.Context, topic string, notification Notification) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return invalidInput("topic is required")
	}
	if s.hub == nil {
		return nil
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = s.timeNow()
	}
	s.hub.BroadcastStream(topic, realtime.Message{Event: notification.Type, Data: notification})
	s.log.Debug("topic broadcast", zap.String("topic", topic), zap.String("type", notification.Type))
	return nil
}

// ListForUser returns notifications for the supplied user ordered by recency.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]models.Notification, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, invalidInput("notification user id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if input.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(max(0, input.Offset)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}
	return rows, nil
}

// MarkRead sets the read flag on one of the user's notifications.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*models.Notification, error) {
	ctx = ensureContext(ctx)

	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}
	if notification.IsRead {
		return &notification, nil
	}

	now := s.timeNow()
	if err := s.db.WithContext(ctx).Model(&notification).
		Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
		return nil, fmt.Errorf("notification service: mark read: %w", err)
	}
	notification.IsRead = true
	notification.ReadAt = &now

	s.push(userID, "notification.read", map[string]any{"notification_id": notification.ID})
	return &notification, nil
}

// MarkAllRead marks every unread notification of the user as read and reports how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{"is_read": true, "read_at": s.timeNow()})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.push(userID, "notification.read_all", nil)
	}
	return result.RowsAffected, nil
}

func (s *NotificationService) push(userID, event string, data any) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastToUser(realtime.StreamNotifications, userID, realtime.Message{Event: event, Data: data})
}

func defaultIfEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
