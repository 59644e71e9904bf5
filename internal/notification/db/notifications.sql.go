package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const notificationColumns = `id, user_id, tenant_id, type, category, priority, priority_rank, title, message,
    action_url, action_label, metadata, is_read, read_at, expires_at, created_at`

func scanNotification(row database.Scanner) (Notification, error) {
	var (
		n         Notification
		readAt    sql.NullString
		expiresAt sql.NullString
		createdAt string
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.TenantID, &n.Type, &n.Category, &n.Priority, &n.PriorityRank,
		&n.Title, &n.Message, &n.ActionURL, &n.ActionLabel, &n.Metadata, &n.IsRead,
		&readAt, &expiresAt, &createdAt); err != nil {
		return Notification{}, err
	}
	var err error
	if n.ReadAt, err = database.ParseNullTime(readAt); err != nil {
		return Notification{}, err
	}
	if n.ExpiresAt, err = database.ParseNullTime(expiresAt); err != nil {
		return Notification{}, err
	}
	if err := database.ScanTime(createdAt, &n.CreatedAt); err != nil {
		return Notification{}, err
	}
	return n, nil
}

const createNotification = `
INSERT INTO notifications (id, user_id, tenant_id, type, category, priority, priority_rank, title, message,
    action_url, action_label, metadata, is_read, expires_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
`

// CreateNotificationParams はCreateNotificationの引数。
type CreateNotificationParams struct {
	ID           string
	UserID       string
	TenantID     string
	Type         string
	Category     string
	Priority     string
	PriorityRank int64
	Title        string
	Message      string
	ActionURL    string
	ActionLabel  string
	Metadata     string
	ExpiresAt    *time.Time
	Now          time.Time
}

// CreateNotification は通知を作成する。
func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) error {
	_, err := q.db.ExecContext(ctx, createNotification,
		arg.ID, arg.UserID, arg.TenantID, arg.Type, arg.Category, arg.Priority, arg.PriorityRank,
		arg.Title, arg.Message, arg.ActionURL, arg.ActionLabel, arg.Metadata,
		database.NullTime(arg.ExpiresAt), database.FormatTime(arg.Now))
	return err
}

const getNotification = `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`

// GetNotification は通知をIDで取得する。
func (q *Queries) GetNotification(ctx context.Context, id string) (Notification, error) {
	return scanNotification(q.db.QueryRowContext(ctx, getNotification, id))
}

const listNotifications = `
SELECT ` + notificationColumns + ` FROM notifications
WHERE user_id = ?1
  AND (expires_at IS NULL OR expires_at >= ?2)
  AND (?3 = '' OR category = ?3)
  AND (?4 < 0 OR is_read = ?4)
  AND (?5 = '' OR priority = ?5)
ORDER BY priority_rank DESC, created_at DESC, id ASC
LIMIT ?6 OFFSET ?7
`

// ListNotificationsParams はListNotificationsの引数。
type ListNotificationsParams struct {
	UserID   string
	Now      time.Time
	Category string
	// Read は0（未読）、1（既読）、-1（絞り込まない）のいずれか。
	Read     int64
	Priority string
	Limit    int64
	Offset   int64
}

// ListNotifications は期限切れを除く通知を優先度の高い順、新しい順に返す。
func (q *Queries) ListNotifications(ctx context.Context, arg ListNotificationsParams) ([]Notification, error) {
	return database.QueryAll(ctx, q.db, scanNotification, listNotifications,
		arg.UserID, database.FormatTime(arg.Now), arg.Category, arg.Read, arg.Priority, arg.Limit, arg.Offset)
}

const countUnread = `
SELECT COUNT(*) FROM notifications
WHERE user_id = ? AND is_read = 0 AND (expires_at IS NULL OR expires_at >= ?)
`

// CountUnread は期限切れを除く未読通知の件数を返す。
func (q *Queries) CountUnread(ctx context.Context, userID string, now time.Time) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countUnread, userID, database.FormatTime(now)).Scan(&n)
	return n, err
}

const markAsRead = `UPDATE notifications SET is_read = 1, read_at = ? WHERE id = ? AND is_read = 0`

// MarkAsRead は通知を既読にする。既読済みの場合は変更しない。
func (q *Queries) MarkAsRead(ctx context.Context, id string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, markAsRead, database.FormatTime(now), id)
	return err
}

const markAllAsRead = `UPDATE notifications SET is_read = 1, read_at = ? WHERE user_id = ? AND is_read = 0`

// MarkAllAsRead はユーザーの未読通知を全て既読にし、更新件数を返す。
func (q *Queries) MarkAllAsRead(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, markAllAsRead, database.FormatTime(now), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteNotification = `DELETE FROM notifications WHERE id = ?`

// DeleteNotification は通知を削除する。
func (q *Queries) DeleteNotification(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deleteNotification, id)
	return err
}

const deleteExpired = `DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < ?`

// DeleteExpired はnowより前に期限切れとなった通知を削除し、削除件数を返す。
func (q *Queries) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpired, database.FormatTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
