// Package db は予約サービスのクエリ層を提供する。
package db

import (
	"context"
	"database/sql"
)

// DBTX は*sql.DBと*sql.Txの共通インターフェース。
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// New は新しいQueriesを生成する。
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries は予約関連テーブルへのクエリを実行する。
type Queries struct {
	db DBTX
}

// WithTx はトランザクション上でクエリを実行するQueriesを返す。
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}
