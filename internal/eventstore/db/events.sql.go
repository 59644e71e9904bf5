package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const eventColumns = `seq, id, aggregate_id, aggregate_type, event_type, tenant_id, data, version, created_at`

const insertEvent = `
INSERT INTO events (id, aggregate_id, aggregate_type, event_type, tenant_id, data, version, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertEventParams はInsertEventの引数。
type InsertEventParams struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	TenantID      string
	Data          string
	Version       int64
	CreatedAt     time.Time
}

// InsertEvent はイベントを追記し、採番されたseqを返す。
func (q *Queries) InsertEvent(ctx context.Context, arg InsertEventParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertEvent,
		arg.ID,
		arg.AggregateID,
		arg.AggregateType,
		arg.EventType,
		arg.TenantID,
		arg.Data,
		arg.Version,
		database.FormatTime(arg.CreatedAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const getLatestVersion = `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`

// GetLatestVersion はAggregateの最新バージョンを返す。イベントが存在しない場合は0。
func (q *Queries) GetLatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	var v int64
	err := q.db.QueryRowContext(ctx, getLatestVersion, aggregateID).Scan(&v)
	return v, err
}

const getEventBySeq = `SELECT ` + eventColumns + ` FROM events WHERE seq = ?`

// GetEventBySeq はseqでイベントを取得する。
func (q *Queries) GetEventBySeq(ctx context.Context, seq int64) (Event, error) {
	return scanEvent(q.db.QueryRowContext(ctx, getEventBySeq, seq))
}

const listEventsByAggregateID = `SELECT ` + eventColumns + ` FROM events WHERE aggregate_id = ? ORDER BY version ASC`

// ListEventsByAggregateID はAggregateのイベントをバージョン順に返す。
func (q *Queries) ListEventsByAggregateID(ctx context.Context, aggregateID string) ([]Event, error) {
	return q.list(ctx, listEventsByAggregateID, aggregateID)
}

const listEventsByType = `SELECT ` + eventColumns + ` FROM events WHERE event_type = ? ORDER BY seq ASC LIMIT ?`

// ListEventsByType はイベントタイプに一致するイベントを追記順に返す。
func (q *Queries) ListEventsByType(ctx context.Context, eventType string, limit int64) ([]Event, error) {
	return q.list(ctx, listEventsByType, eventType, limit)
}

const listEventsSince = `SELECT ` + eventColumns + ` FROM events WHERE created_at >= ? ORDER BY seq ASC LIMIT ?`

// ListEventsSince は指定日時以降のイベントを追記順に返す。
func (q *Queries) ListEventsSince(ctx context.Context, since time.Time, limit int64) ([]Event, error) {
	return q.list(ctx, listEventsSince, database.FormatTime(since), limit)
}

const listEventsAfterSeq = `SELECT ` + eventColumns + ` FROM events WHERE seq > ? ORDER BY seq ASC LIMIT ?`

// ListEventsAfterSeq はseqより後のイベントを追記順に返す。
func (q *Queries) ListEventsAfterSeq(ctx context.Context, seq, limit int64) ([]Event, error) {
	return q.list(ctx, listEventsAfterSeq, seq, limit)
}

const listAllEvents = `SELECT ` + eventColumns + ` FROM events ORDER BY seq ASC LIMIT ? OFFSET ?`

// ListAllEvents は全イベントを追記順に返す。
func (q *Queries) ListAllEvents(ctx context.Context, limit, offset int64) ([]Event, error) {
	return q.list(ctx, listAllEvents, limit, offset)
}

const listTenantEvents = `
SELECT ` + eventColumns + ` FROM events
WHERE tenant_id = ?1 AND (?2 = '' OR event_type = ?2)
ORDER BY seq DESC
LIMIT ?3 OFFSET ?4
`

// ListTenantEventsParams はListTenantEventsの引数。
type ListTenantEventsParams struct {
	TenantID string
	// EventType が空の場合は全タイプを対象とする。
	EventType string
	Limit     int64
	Offset    int64
}

// ListTenantEvents はテナントのイベントを新しい順に返す。監査ログに使用する。
func (q *Queries) ListTenantEvents(ctx context.Context, arg ListTenantEventsParams) ([]Event, error) {
	return q.list(ctx, listTenantEvents, arg.TenantID, arg.EventType, arg.Limit, arg.Offset)
}

const countTenantEvents = `SELECT COUNT(*) FROM events WHERE tenant_id = ?1 AND (?2 = '' OR event_type = ?2)`

// CountTenantEvents はテナントのイベント件数を返す。
func (q *Queries) CountTenantEvents(ctx context.Context, tenantID, eventType string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countTenantEvents, tenantID, eventType).Scan(&n)
	return n, err
}

func (q *Queries) list(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// scanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (Event, error) {
	var (
		e         Event
		createdAt string
	)
	if err := row.Scan(
		&e.Seq,
		&e.ID,
		&e.AggregateID,
		&e.AggregateType,
		&e.EventType,
		&e.TenantID,
		&e.Data,
		&e.Version,
		&createdAt,
	); err != nil {
		return Event{}, err
	}
	t, err := database.ParseTime(createdAt)
	if err != nil {
		return Event{}, fmt.Errorf("created_atの解析に失敗: %w", err)
	}
	e.CreatedAt = t
	return e, nil
}

var _ scanner = (*sql.Row)(nil)
