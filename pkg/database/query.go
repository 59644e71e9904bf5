package database

import (
	"context"
	"database/sql"
	"time"
)

// Scanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type Scanner interface {
	Scan(dest ...any) error
}

var (
	_ Scanner = (*sql.Row)(nil)
	_ Scanner = (*sql.Rows)(nil)
)

// Querier は複数行を返すクエリを実行できるDB接続。
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// QueryAll はクエリを実行し、各行をscanで変換したスライスを返す。結果が無い場合も空スライスを返す。
func QueryAll[T any](ctx context.Context, db Querier, scan func(Scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ScanTime は保存形式の時刻文字列を解析してdstに格納する。
func ScanTime(src string, dst *time.Time) error {
	t, err := ParseTime(src)
	if err != nil {
		return err
	}
	*dst = t
	return nil
}
