// Package notify persists user notifications and pushes them to the open
// connections of the addressed user.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mintify/internal/event"
	"mintify/internal/log"
	"mintify/internal/metrics"
	"mintify/internal/storage"
)

// Store is the persistence surface the service needs.
type Store interface {
	CreateNotification(ctx context.Context, n storage.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]storage.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) (storage.Notification, error)
}

// Frame is the wire shape pushed to connections. Clients must tolerate
// additional fields inside data.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Service creates notifications and fans them out over the registry.
type Service struct {
	store    Store
	registry *Registry
	logger   *log.Logger
}

// NewService builds the notification service.
func NewService(store Store, registry *Registry, logger *log.Logger) *Service {
	return &Service{store: store, registry: registry, logger: logger}
}

// Create persists a notification and broadcasts it to the user's open
// connections. The record is durable regardless of delivery: a user with
// no connection simply finds it in the list later.
func (s *Service) Create(ctx context.Context, userID, typ, title, message string) (storage.Notification, error) {
	if typ == "" {
		typ = "info"
	}
	n := storage.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return storage.Notification{}, fmt.Errorf("persist notification: %w", err)
	}

	sent := s.registry.Broadcast(userID, Frame{Type: "NOTIFICATION", Data: n})
	s.logger.InfoContext(ctx, "Notification created",
		"user_id", userID,
		"notification_id", n.ID,
		"delivered", sent)
	return n, nil
}

// List returns the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]storage.Notification, error) {
	return s.store.ListNotifications(ctx, userID, unreadOnly, limit)
}

// MarkRead flags one notification as read and returns the updated record.
func (s *Service) MarkRead(ctx context.Context, userID, id string) (storage.Notification, error) {
	return s.store.MarkNotificationRead(ctx, userID, id)
}

// HandleSpendingRecorded turns a consumed spending event into a stored and
// pushed notification. Validation failures propagate so the delivery is
// dropped without requeue.
func (s *Service) HandleSpendingRecorded(ctx context.Context, evt *event.SpendingEvent) error {
	if evt.Type != event.TypeSpendingRecorded {
		s.logger.Debug("Ignoring event of foreign type", "type", evt.Type)
		return nil
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("unprocessable spending event: %w", err)
	}

	amount := strconv.FormatFloat(evt.Amount, 'f', -1, 64)
	message := fmt.Sprintf("You spent %s in %s.", amount, evt.Category)
	if _, err := s.Create(ctx, evt.UserID, "threshold", "New spending recorded", message); err != nil {
		return err
	}

	metrics.SpendingEventsConsumed.WithLabelValues("notify").Inc()
	return nil
}
