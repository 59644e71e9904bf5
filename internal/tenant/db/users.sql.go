package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const userColumns = `id, tenant_id, email, password_hash, name, role, is_active, created_at, updated_at, last_login_at`

func scanUser(row database.Scanner) (TenantUser, error) {
	var (
		u                    TenantUser
		createdAt, updatedAt string
		lastLogin            sql.NullString
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.IsActive,
		&createdAt, &updatedAt, &lastLogin); err != nil {
		return TenantUser{}, err
	}
	if err := database.ScanTime(createdAt, &u.CreatedAt); err != nil {
		return TenantUser{}, err
	}
	if err := database.ScanTime(updatedAt, &u.UpdatedAt); err != nil {
		return TenantUser{}, err
	}
	t, err := database.ParseNullTime(lastLogin)
	if err != nil {
		return TenantUser{}, err
	}
	u.LastLoginAt = t
	return u, nil
}

const createUser = `
INSERT INTO tenant_users (id, tenant_id, email, password_hash, name, role, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
`

// CreateUserParams はCreateUserの引数。
type CreateUserParams struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	Now          time.Time
}

// CreateUser はテナントユーザーを作成する。
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	now := database.FormatTime(arg.Now)
	_, err := q.db.ExecContext(ctx, createUser, arg.ID, arg.TenantID, arg.Email, arg.PasswordHash, arg.Name, arg.Role, now, now)
	return err
}

const getUserByID = `SELECT ` + userColumns + ` FROM tenant_users WHERE id = ?`

// GetUserByID はIDでユーザーを取得する。
func (q *Queries) GetUserByID(ctx context.Context, id string) (TenantUser, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByID, id))
}

const getUserByEmail = `SELECT ` + userColumns + ` FROM tenant_users WHERE email = ?`

// GetUserByEmail はメールアドレスでユーザーを取得する。
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (TenantUser, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByEmail, email))
}

const listUsersByTenant = `SELECT ` + userColumns + ` FROM tenant_users WHERE tenant_id = ? ORDER BY created_at ASC, id ASC`

// ListUsersByTenant はテナントのユーザーを作成順に返す。
func (q *Queries) ListUsersByTenant(ctx context.Context, tenantID string) ([]TenantUser, error) {
	return database.QueryAll(ctx, q.db, scanUser, listUsersByTenant, tenantID)
}

const updateUser = `
UPDATE tenant_users SET name = ?, role = ?, is_active = ?, password_hash = ?, updated_at = ? WHERE id = ?
`

// UpdateUserParams はUpdateUserの引数。
type UpdateUserParams struct {
	ID           string
	Name         string
	Role         string
	IsActive     bool
	PasswordHash string
	Now          time.Time
}

// UpdateUser はユーザーの属性を更新する。
func (q *Queries) UpdateUser(ctx context.Context, arg UpdateUserParams) error {
	_, err := q.db.ExecContext(ctx, updateUser, arg.Name, arg.Role, arg.IsActive, arg.PasswordHash, database.FormatTime(arg.Now), arg.ID)
	return err
}

const deleteUser = `DELETE FROM tenant_users WHERE id = ?`

// DeleteUser はユーザーを削除する。
func (q *Queries) DeleteUser(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deleteUser, id)
	return err
}

const countActiveOwners = `SELECT COUNT(*) FROM tenant_users WHERE tenant_id = ? AND role = 'OWNER' AND is_active = 1`

// CountActiveOwners はテナントの有効なOWNERの数を返す。
func (q *Queries) CountActiveOwners(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countActiveOwners, tenantID).Scan(&n)
	return n, err
}

const touchLastLogin = `UPDATE tenant_users SET last_login_at = ? WHERE id = ?`

// TouchLastLogin は最終ログイン日時を更新する。
func (q *Queries) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := q.db.ExecContext(ctx, touchLastLogin, database.FormatTime(at), id)
	return err
}
