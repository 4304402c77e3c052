package app

import (
	"context"
	"fmt"
	"log/slog"

	"momflow/pkg/domain"
	"momflow/pkg/notify"
	"momflow/pkg/store"
)

// Notifier persists notifications and pushes them to connected clients.
type Notifier struct {
	store  store.Store
	hub    notify.Hub
	logger *slog.Logger
}

func NewNotifier(s store.Store, hub notify.Hub, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{store: s, hub: hub, logger: logger.With("component", "notifier")}
}

// Notify stores one notification per user. Live delivery is best effort and
// only logged on failure; the stored rows are what clients page through.
func (n *Notifier) Notify(ctx context.Context, userIDs []uint, message string, projectID uint, momID *uint, kind string) error {
	userIDs = uniqueIDs(userIDs)
	if len(userIDs) == 0 {
		return nil
	}
	items := make([]domain.Notification, 0, len(userIDs))
	for _, id := range userIDs {
		items = append(items, domain.Notification{
			UserID:    id,
			ProjectID: projectID,
			MomID:     momID,
			Type:      kind,
			Message:   message,
		})
	}
	saved, err := n.store.CreateNotifications(ctx, items)
	if err != nil {
		return fmt.Errorf("save notifications: %w", err)
	}
	for _, item := range saved {
		if err := n.hub.Publish(ctx, item); err != nil {
			n.logger.WarnContext(ctx, "notification_publish_failed", "user_id", item.UserID, "type", kind, "err", err)
		}
	}
	return nil
}

// ListNotifications pages through the actor's notifications, newest first.
func (a *App) ListNotifications(ctx context.Context, actor domain.User, page store.Page) ([]domain.Notification, int64, error) {
	return a.store.ListNotifications(ctx, actor.ID, page)
}

// MarkNotificationRead flags one of the actor's notifications as read.
func (a *App) MarkNotificationRead(ctx context.Context, actor domain.User, id uint) error {
	if err := a.store.MarkNotificationRead(ctx, id, actor.ID); err != nil {
		return fmt.Errorf("mark notification read: %w", classify(err))
	}
	return nil
}

// SubscribeNotifications streams the actor's new notifications until ctx ends.
func (a *App) SubscribeNotifications(ctx context.Context, actor domain.User) (<-chan domain.Notification, func(), error) {
	return a.hub.Subscribe(ctx, actor.ID)
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
