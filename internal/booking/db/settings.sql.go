package db

import (
	"context"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const getBookingSettings = `
SELECT tenant_id, minimum_notice_hours, max_advance_booking_days, allow_weekend_bookings,
    slot_minutes, opening_hour, closing_hour, timezone, updated_at
FROM booking_settings WHERE tenant_id = ?
`

// GetBookingSettings はテナントの予約設定を取得する。
func (q *Queries) GetBookingSettings(ctx context.Context, tenantID string) (BookingSettings, error) {
	var (
		s         BookingSettings
		updatedAt string
	)
	if err := q.db.QueryRowContext(ctx, getBookingSettings, tenantID).Scan(
		&s.TenantID, &s.MinimumNoticeHours, &s.MaxAdvanceBookingDays, &s.AllowWeekendBookings,
		&s.SlotMinutes, &s.OpeningHour, &s.ClosingHour, &s.Timezone, &updatedAt,
	); err != nil {
		return BookingSettings{}, err
	}
	if err := database.ScanTime(updatedAt, &s.UpdatedAt); err != nil {
		return BookingSettings{}, err
	}
	return s, nil
}

const upsertBookingSettings = `
INSERT INTO booking_settings (tenant_id, minimum_notice_hours, max_advance_booking_days, allow_weekend_bookings,
    slot_minutes, opening_hour, closing_hour, timezone, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id) DO UPDATE SET
    minimum_notice_hours = excluded.minimum_notice_hours,
    max_advance_booking_days = excluded.max_advance_booking_days,
    allow_weekend_bookings = excluded.allow_weekend_bookings,
    slot_minutes = excluded.slot_minutes,
    opening_hour = excluded.opening_hour,
    closing_hour = excluded.closing_hour,
    timezone = excluded.timezone,
    updated_at = excluded.updated_at
`

// UpsertBookingSettings はテナントの予約設定を作成または置き換える。
func (q *Queries) UpsertBookingSettings(ctx context.Context, s BookingSettings, now time.Time) error {
	_, err := q.db.ExecContext(ctx, upsertBookingSettings,
		s.TenantID, s.MinimumNoticeHours, s.MaxAdvanceBookingDays, s.AllowWeekendBookings,
		s.SlotMinutes, s.OpeningHour, s.ClosingHour, s.Timezone, database.FormatTime(now))
	return err
}
