package notification

import (
	"context"

	"log/slog"

	"github.com/flowwatch/flowwatch/internal/domain"
	"github.com/flowwatch/flowwatch/internal/repository"
)

// Service exposes the notification feed produced by the monitor.
type Service struct {
	notifications repository.NotificationRepository
	logger        *slog.Logger
}

// New constructs a notification service.
func New(notifications repository.NotificationRepository, logger *slog.Logger) Service {
	return Service{notifications: notifications, logger: logger}
}

// List returns recent non-dismissed notifications, newest first.
func (s Service) List(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	return s.notifications.ListNotifications(ctx, unreadOnly, limit)
}

// MarkRead flags a notification as read.
func (s Service) MarkRead(ctx context.Context, notificationID string) error {
	return s.notifications.MarkNotificationRead(ctx, notificationID)
}

// Dismiss hides a notification from the feed.
func (s Service) Dismiss(ctx context.Context, notificationID string) error {
	return s.notifications.DismissNotification(ctx, notificationID)
}
