package repository

import (
	"context"
	"fmt"

	"github.com/pimarket/reconciler/internal/domain"
)

type NotificationRepo struct {
	q querier
}

func NewNotificationRepo(db *DB) *NotificationRepo {
	return &NotificationRepo{q: db}
}

func (r *NotificationRepo) Insert(ctx context.Context, n *domain.Notification) error {
	_, err := r.q.exec(ctx,
		`INSERT INTO notifications (id, user_id, order_id, kind, title, body, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.UserID, nullableString(n.OrderID), n.Kind, n.Title, n.Body, formatTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepo) ListByUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	rows, err := r.q.query(ctx,
		`SELECT id, user_id, COALESCE(order_id, ''), kind, title, body, created_at
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var createdAt string
		if err := rows.Scan(&n.ID, &n.UserID, &n.OrderID, &n.Kind, &n.Title, &n.Body, &createdAt); err != nil {
			return nil, err
		}
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}
