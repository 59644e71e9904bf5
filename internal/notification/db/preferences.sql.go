package db

import (
	"context"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const getPreference = `
SELECT user_id, email_enabled, push_enabled, sound_enabled, reservations, clients, seo, system, content, security,
    quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone, updated_at
FROM notification_preferences WHERE user_id = ?
`

// GetPreference はユーザーの通知設定を取得する。
func (q *Queries) GetPreference(ctx context.Context, userID string) (NotificationPreference, error) {
	var (
		p         NotificationPreference
		updatedAt string
	)
	if err := q.db.QueryRowContext(ctx, getPreference, userID).Scan(
		&p.UserID, &p.EmailEnabled, &p.PushEnabled, &p.SoundEnabled,
		&p.Reservations, &p.Clients, &p.SEO, &p.System, &p.Content, &p.Security,
		&p.QuietHoursEnabled, &p.QuietHoursStart, &p.QuietHoursEnd, &p.Timezone, &updatedAt,
	); err != nil {
		return NotificationPreference{}, err
	}
	if err := database.ScanTime(updatedAt, &p.UpdatedAt); err != nil {
		return NotificationPreference{}, err
	}
	return p, nil
}

const upsertPreference = `
INSERT INTO notification_preferences (user_id, email_enabled, push_enabled, sound_enabled,
    reservations, clients, seo, system, content, security,
    quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    email_enabled = excluded.email_enabled,
    push_enabled = excluded.push_enabled,
    sound_enabled = excluded.sound_enabled,
    reservations = excluded.reservations,
    clients = excluded.clients,
    seo = excluded.seo,
    system = excluded.system,
    content = excluded.content,
    security = excluded.security,
    quiet_hours_enabled = excluded.quiet_hours_enabled,
    quiet_hours_start = excluded.quiet_hours_start,
    quiet_hours_end = excluded.quiet_hours_end,
    timezone = excluded.timezone,
    updated_at = excluded.updated_at
`

// UpsertPreference はユーザーの通知設定を作成または置き換える。UpdatedAtには現在時刻を指定する。
func (q *Queries) UpsertPreference(ctx context.Context, p NotificationPreference) error {
	_, err := q.db.ExecContext(ctx, upsertPreference,
		p.UserID, p.EmailEnabled, p.PushEnabled, p.SoundEnabled,
		p.Reservations, p.Clients, p.SEO, p.System, p.Content, p.Security,
		p.QuietHoursEnabled, p.QuietHoursStart, p.QuietHoursEnd, p.Timezone, database.FormatTime(p.UpdatedAt))
	return err
}

const insertDefaultPreference = `
INSERT INTO notification_preferences (user_id, timezone, updated_at) VALUES (?, ?, ?)
ON CONFLICT (user_id) DO NOTHING
`

// InsertDefaultPreference は既定値の通知設定を作成する。既に存在する場合は何もしない。
func (q *Queries) InsertDefaultPreference(ctx context.Context, userID, timezone string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, insertDefaultPreference, userID, timezone, database.FormatTime(now))
	return err
}
