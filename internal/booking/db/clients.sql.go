package db

import (
	"context"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const clientColumns = `id, tenant_id, first_name, last_name, email, phone, notes, created_at, updated_at`

func scanClient(row database.Scanner) (Client, error) {
	var (
		c                    Client
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Notes, &createdAt, &updatedAt); err != nil {
		return Client{}, err
	}
	if err := database.ScanTime(createdAt, &c.CreatedAt); err != nil {
		return Client{}, err
	}
	if err := database.ScanTime(updatedAt, &c.UpdatedAt); err != nil {
		return Client{}, err
	}
	return c, nil
}

const createClient = `
INSERT INTO clients (id, tenant_id, first_name, last_name, email, phone, notes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// CreateClientParams はCreateClientの引数。
type CreateClientParams struct {
	ID        string
	TenantID  string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Notes     string
	Now       time.Time
}

// CreateClient は顧客を作成する。
func (q *Queries) CreateClient(ctx context.Context, arg CreateClientParams) error {
	now := database.FormatTime(arg.Now)
	_, err := q.db.ExecContext(ctx, createClient,
		arg.ID, arg.TenantID, arg.FirstName, arg.LastName, arg.Email, arg.Phone, arg.Notes, now, now)
	return err
}

const getClient = `SELECT ` + clientColumns + ` FROM clients WHERE tenant_id = ? AND id = ?`

// GetClient はテナント内の顧客をIDで取得する。
func (q *Queries) GetClient(ctx context.Context, tenantID, id string) (Client, error) {
	return scanClient(q.db.QueryRowContext(ctx, getClient, tenantID, id))
}

const getClientByEmail = `SELECT ` + clientColumns + ` FROM clients WHERE tenant_id = ? AND email = ? AND email <> ''`

// GetClientByEmail はテナント内の顧客をメールアドレスで取得する。
func (q *Queries) GetClientByEmail(ctx context.Context, tenantID, email string) (Client, error) {
	return scanClient(q.db.QueryRowContext(ctx, getClientByEmail, tenantID, email))
}

const listClients = `
SELECT ` + clientColumns + ` FROM clients
WHERE tenant_id = ?1
  AND (?2 = '' OR first_name LIKE ?2 OR last_name LIKE ?2 OR email LIKE ?2)
ORDER BY last_name ASC, first_name ASC, id ASC
LIMIT ?3 OFFSET ?4
`

// ListClientsParams はListClientsの引数。Patternが空の場合は絞り込まない。
type ListClientsParams struct {
	TenantID string
	Pattern  string
	Limit    int64
	Offset   int64
}

// ListClients はテナントの顧客を姓名順に返す。
func (q *Queries) ListClients(ctx context.Context, arg ListClientsParams) ([]Client, error) {
	return database.QueryAll(ctx, q.db, scanClient, listClients, arg.TenantID, arg.Pattern, arg.Limit, arg.Offset)
}

const countClients = `
SELECT COUNT(*) FROM clients
WHERE tenant_id = ?1
  AND (?2 = '' OR first_name LIKE ?2 OR last_name LIKE ?2 OR email LIKE ?2)
`

// CountClients はテナントの顧客数を返す。
func (q *Queries) CountClients(ctx context.Context, tenantID, pattern string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countClients, tenantID, pattern).Scan(&n)
	return n, err
}

const updateClient = `
UPDATE clients SET first_name = ?, last_name = ?, email = ?, phone = ?, notes = ?, updated_at = ?
WHERE tenant_id = ? AND id = ?
`

// UpdateClientParams はUpdateClientの引数。
type UpdateClientParams struct {
	ID        string
	TenantID  string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Notes     string
	Now       time.Time
}

// UpdateClient は顧客を更新する。
func (q *Queries) UpdateClient(ctx context.Context, arg UpdateClientParams) error {
	_, err := q.db.ExecContext(ctx, updateClient,
		arg.FirstName, arg.LastName, arg.Email, arg.Phone, arg.Notes, database.FormatTime(arg.Now), arg.TenantID, arg.ID)
	return err
}

const deleteClient = `DELETE FROM clients WHERE tenant_id = ? AND id = ?`

// DeleteClient は顧客を削除し、削除件数を返す。予約のclient_idはNULLになる。
func (q *Queries) DeleteClient(ctx context.Context, tenantID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteClient, tenantID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
