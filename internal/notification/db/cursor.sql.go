package db

import (
	"context"
	"database/sql"
	"errors"
)

const getCursor = `SELECT last_seq FROM relay_cursor WHERE name = ?`

// GetCursor はカーソルの位置を返す。未登録の場合は0。
func (q *Queries) GetCursor(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, getCursor, name).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

const saveCursor = `
INSERT INTO relay_cursor (name, last_seq) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET last_seq = excluded.last_seq
`

// SaveCursor はカーソルの位置を保存する。
func (q *Queries) SaveCursor(ctx context.Context, name string, seq int64) error {
	_, err := q.db.ExecContext(ctx, saveCursor, name, seq)
	return err
}
