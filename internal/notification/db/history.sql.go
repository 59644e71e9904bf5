package db

import (
	"context"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const createHistory = `
INSERT INTO notification_history (id, notification_id, user_id, action, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`

// CreateHistoryParams はCreateHistoryの引数。
type CreateHistoryParams struct {
	ID             string
	NotificationID string
	UserID         string
	Action         string
	Metadata       string
	Now            time.Time
}

// CreateHistory は通知の履歴を記録する。
func (q *Queries) CreateHistory(ctx context.Context, arg CreateHistoryParams) error {
	_, err := q.db.ExecContext(ctx, createHistory,
		arg.ID, arg.NotificationID, arg.UserID, arg.Action, arg.Metadata, database.FormatTime(arg.Now))
	return err
}

const listHistory = `
SELECT id, notification_id, user_id, action, metadata, created_at
FROM notification_history WHERE notification_id = ? ORDER BY created_at ASC, id ASC
`

// ListHistory は通知の履歴を古い順に返す。
func (q *Queries) ListHistory(ctx context.Context, notificationID string) ([]NotificationHistory, error) {
	return database.QueryAll(ctx, q.db, func(row database.Scanner) (NotificationHistory, error) {
		var (
			h         NotificationHistory
			createdAt string
		)
		if err := row.Scan(&h.ID, &h.NotificationID, &h.UserID, &h.Action, &h.Metadata, &createdAt); err != nil {
			return NotificationHistory{}, err
		}
		err := database.ScanTime(createdAt, &h.CreatedAt)
		return h, err
	}, listHistory, notificationID)
}
