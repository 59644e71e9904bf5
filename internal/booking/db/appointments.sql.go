package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const appointmentColumns = `id, tenant_id, client_id, client_name, client_email, client_phone, service_name,
    start_time, end_time, status, notes, source, created_at, updated_at`

func scanAppointment(row database.Scanner) (Appointment, error) {
	var (
		a                        Appointment
		clientID                 sql.NullString
		start, end, created, upd string
	)
	if err := row.Scan(&a.ID, &a.TenantID, &clientID, &a.ClientName, &a.ClientEmail, &a.ClientPhone, &a.ServiceName,
		&start, &end, &a.Status, &a.Notes, &a.Source, &created, &upd); err != nil {
		return Appointment{}, err
	}
	if clientID.Valid {
		a.ClientID = &clientID.String
	}
	for _, f := range []struct {
		src string
		dst *time.Time
	}{{start, &a.StartTime}, {end, &a.EndTime}, {created, &a.CreatedAt}, {upd, &a.UpdatedAt}} {
		if err := database.ScanTime(f.src, f.dst); err != nil {
			return Appointment{}, err
		}
	}
	return a, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// insertAppointmentIfFree は同一テナントのキャンセル以外の予約と重ならない場合のみ挿入する。
// 重なり判定と挿入を1文で行うため、同時予約でも二重予約にならない。
const insertAppointmentIfFree = `
INSERT INTO appointments (id, tenant_id, client_id, client_name, client_email, client_phone, service_name,
    start_time, end_time, status, notes, source, created_at, updated_at)
SELECT ?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?13, ?13
WHERE NOT EXISTS (
    SELECT 1 FROM appointments
    WHERE tenant_id = ?2 AND status <> 'CANCELLED' AND start_time < ?9 AND end_time > ?8
)
`

// InsertAppointmentParams はInsertAppointmentIfFreeの引数。
type InsertAppointmentParams struct {
	ID          string
	TenantID    string
	ClientID    *string
	ClientName  string
	ClientEmail string
	ClientPhone string
	ServiceName string
	StartTime   time.Time
	EndTime     time.Time
	Status      string
	Notes       string
	Source      string
	Now         time.Time
}

// InsertAppointmentIfFree は時間帯が空いている場合に予約を挿入し、挿入できたかを返す。
func (q *Queries) InsertAppointmentIfFree(ctx context.Context, arg InsertAppointmentParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertAppointmentIfFree,
		arg.ID, arg.TenantID, nullString(arg.ClientID), arg.ClientName, arg.ClientEmail, arg.ClientPhone, arg.ServiceName,
		database.FormatTime(arg.StartTime), database.FormatTime(arg.EndTime), arg.Status, arg.Notes, arg.Source,
		database.FormatTime(arg.Now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// updateAppointmentIfFree は自身を除くキャンセル以外の予約と重ならない場合のみ更新する。
const updateAppointmentIfFree = `
UPDATE appointments SET
    client_id = ?3, client_name = ?4, client_email = ?5, client_phone = ?6, service_name = ?7,
    start_time = ?8, end_time = ?9, notes = ?10, updated_at = ?11
WHERE id = ?1 AND tenant_id = ?2
  AND NOT EXISTS (
    SELECT 1 FROM appointments o
    WHERE o.tenant_id = ?2 AND o.id <> ?1 AND o.status <> 'CANCELLED' AND o.start_time < ?9 AND o.end_time > ?8
  )
`

// UpdateAppointmentParams はUpdateAppointmentIfFreeの引数。
type UpdateAppointmentParams struct {
	ID          string
	TenantID    string
	ClientID    *string
	ClientName  string
	ClientEmail string
	ClientPhone string
	ServiceName string
	StartTime   time.Time
	EndTime     time.Time
	Notes       string
	Now         time.Time
}

// UpdateAppointmentIfFree は時間帯が空いている場合に予約を更新し、更新できたかを返す。
func (q *Queries) UpdateAppointmentIfFree(ctx context.Context, arg UpdateAppointmentParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, updateAppointmentIfFree,
		arg.ID, arg.TenantID, nullString(arg.ClientID), arg.ClientName, arg.ClientEmail, arg.ClientPhone, arg.ServiceName,
		database.FormatTime(arg.StartTime), database.FormatTime(arg.EndTime), arg.Notes, database.FormatTime(arg.Now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

const updateAppointmentStatus = `
UPDATE appointments SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ? AND status = ?
`

// UpdateAppointmentStatus は現在のステータスがfromの場合のみステータスをtoへ変更し、変更できたかを返す。
func (q *Queries) UpdateAppointmentStatus(ctx context.Context, tenantID, id, from, to string, now time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, updateAppointmentStatus, to, database.FormatTime(now), tenantID, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

const getAppointment = `SELECT ` + appointmentColumns + ` FROM appointments WHERE tenant_id = ? AND id = ?`

// GetAppointment はテナント内の予約をIDで取得する。
func (q *Queries) GetAppointment(ctx context.Context, tenantID, id string) (Appointment, error) {
	return scanAppointment(q.db.QueryRowContext(ctx, getAppointment, tenantID, id))
}

const listAppointments = `
SELECT ` + appointmentColumns + ` FROM appointments
WHERE tenant_id = ?1
  AND (?2 = '' OR start_time >= ?2)
  AND (?3 = '' OR start_time < ?3)
  AND (?4 = '' OR status = ?4)
  AND (?5 = '' OR client_id = ?5)
ORDER BY start_time ASC, id ASC
`

// ListAppointmentsParams はListAppointmentsの引数。空のフィールドは絞り込まない。
type ListAppointmentsParams struct {
	TenantID string
	From     *time.Time
	To       *time.Time
	Status   string
	ClientID string
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return database.FormatTime(*t)
}

// ListAppointments はテナントの予約を開始時刻順に返す。
func (q *Queries) ListAppointments(ctx context.Context, arg ListAppointmentsParams) ([]Appointment, error) {
	return database.QueryAll(ctx, q.db, scanAppointment, listAppointments,
		arg.TenantID, optionalTime(arg.From), optionalTime(arg.To), arg.Status, arg.ClientID)
}

const listActiveAppointmentsBetween = `
SELECT ` + appointmentColumns + ` FROM appointments
WHERE tenant_id = ? AND status <> 'CANCELLED' AND start_time < ? AND end_time > ?
ORDER BY start_time ASC
`

// ListActiveAppointmentsBetween は[from, to)と重なるキャンセル以外の予約を返す。
func (q *Queries) ListActiveAppointmentsBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Appointment, error) {
	return database.QueryAll(ctx, q.db, scanAppointment, listActiveAppointmentsBetween,
		tenantID, database.FormatTime(to), database.FormatTime(from))
}

const deleteAppointment = `DELETE FROM appointments WHERE tenant_id = ? AND id = ?`

// DeleteAppointment は予約を削除し、削除件数を返す。
func (q *Queries) DeleteAppointment(ctx context.Context, tenantID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteAppointment, tenantID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countAppointmentsByStatus = `
SELECT status, COUNT(*) FROM appointments
WHERE tenant_id = ?1
  AND (?2 = '' OR start_time >= ?2)
  AND (?3 = '' OR start_time < ?3)
GROUP BY status
`

// StatusCount はステータスごとの予約数。
type StatusCount struct {
	Status string
	Count  int64
}

// CountAppointmentsByStatus は期間内の予約数をステータスごとに返す。
func (q *Queries) CountAppointmentsByStatus(ctx context.Context, tenantID string, from, to *time.Time) ([]StatusCount, error) {
	return database.QueryAll(ctx, q.db, func(row database.Scanner) (StatusCount, error) {
		var sc StatusCount
		err := row.Scan(&sc.Status, &sc.Count)
		return sc, err
	}, countAppointmentsByStatus, tenantID, optionalTime(from), optionalTime(to))
}

const countUpcomingAppointments = `
SELECT COUNT(*) FROM appointments
WHERE tenant_id = ? AND start_time >= ? AND status IN ('PENDING', 'CONFIRMED')
`

// CountUpcomingAppointments はnow以降に開始する保留中または確定済みの予約数を返す。
func (q *Queries) CountUpcomingAppointments(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countUpcomingAppointments, tenantID, database.FormatTime(now)).Scan(&n)
	return n, err
}
