package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateNotification persists a new notification record.
func (r *Repository) CreateNotification(ctx context.Context, n Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListNotifications returns the user's notifications, newest first, capped
// at limit. With unreadOnly set, read notifications are skipped.
func (r *Repository) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, read, created_at
		FROM notifications WHERE user_id = ?`
	args := []any{userID}

	if unreadOnly {
		query += " AND read = 0"
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead sets read on the user's notification and returns the
// updated record, or ErrNotFound when the id does not exist or belongs to
// another user.
func (r *Repository) MarkNotificationRead(ctx context.Context, userID, id string) (Notification, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return Notification{}, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Notification{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return Notification{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, title, message, read, created_at
		FROM notifications WHERE id = ?`, id)

	var n Notification
	err = row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Read, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("reload notification: %w", err)
	}
	return n, nil
}
