package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const superAdminColumns = `id, email, password_hash, name, is_active, totp_secret, totp_pending_secret, totp_enabled, created_at, last_login_at`

func scanSuperAdmin(row database.Scanner) (SuperAdmin, error) {
	var (
		a         SuperAdmin
		createdAt string
		lastLogin sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Name, &a.IsActive,
		&a.TOTPSecret, &a.TOTPPendingSecret, &a.TOTPEnabled, &createdAt, &lastLogin); err != nil {
		return SuperAdmin{}, err
	}
	if err := database.ScanTime(createdAt, &a.CreatedAt); err != nil {
		return SuperAdmin{}, err
	}
	t, err := database.ParseNullTime(lastLogin)
	if err != nil {
		return SuperAdmin{}, err
	}
	a.LastLoginAt = t
	return a, nil
}

const countSuperAdmins = `SELECT COUNT(*) FROM super_admins`

// CountSuperAdmins はスーパー管理者の人数を返す。
func (q *Queries) CountSuperAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countSuperAdmins).Scan(&n)
	return n, err
}

const createSuperAdmin = `
INSERT INTO super_admins (id, email, password_hash, name, is_active, created_at)
VALUES (?, ?, ?, ?, 1, ?)
`

// CreateSuperAdminParams はCreateSuperAdminの引数。
type CreateSuperAdminParams struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Now          time.Time
}

// CreateSuperAdmin はスーパー管理者を作成する。
func (q *Queries) CreateSuperAdmin(ctx context.Context, arg CreateSuperAdminParams) error {
	_, err := q.db.ExecContext(ctx, createSuperAdmin, arg.ID, arg.Email, arg.PasswordHash, arg.Name, database.FormatTime(arg.Now))
	return err
}

const getSuperAdminByID = `SELECT ` + superAdminColumns + ` FROM super_admins WHERE id = ?`

// GetSuperAdminByID はIDでスーパー管理者を取得する。
func (q *Queries) GetSuperAdminByID(ctx context.Context, id string) (SuperAdmin, error) {
	return scanSuperAdmin(q.db.QueryRowContext(ctx, getSuperAdminByID, id))
}

const getSuperAdminByEmail = `SELECT ` + superAdminColumns + ` FROM super_admins WHERE email = ?`

// GetSuperAdminByEmail はメールアドレスでスーパー管理者を取得する。
func (q *Queries) GetSuperAdminByEmail(ctx context.Context, email string) (SuperAdmin, error) {
	return scanSuperAdmin(q.db.QueryRowContext(ctx, getSuperAdminByEmail, email))
}

const getFirstSuperAdmin = `SELECT ` + superAdminColumns + ` FROM super_admins WHERE is_active = 1 ORDER BY created_at ASC, id ASC LIMIT 1`

// GetFirstSuperAdmin は最初に作成された有効なスーパー管理者を取得する。
func (q *Queries) GetFirstSuperAdmin(ctx context.Context) (SuperAdmin, error) {
	return scanSuperAdmin(q.db.QueryRowContext(ctx, getFirstSuperAdmin))
}

const touchSuperAdminLogin = `UPDATE super_admins SET last_login_at = ? WHERE id = ?`

// TouchLastLogin は最終ログイン日時を更新する。
func (q *Queries) TouchLastLogin(ctx context.Context, id string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, touchSuperAdminLogin, database.FormatTime(now), id)
	return err
}

const setPendingTOTP = `UPDATE super_admins SET totp_pending_secret = ? WHERE id = ?`

// SetPendingTOTP は確認待ちのTOTP秘密鍵を保存する。
func (q *Queries) SetPendingTOTP(ctx context.Context, id, secret string) error {
	_, err := q.db.ExecContext(ctx, setPendingTOTP, secret, id)
	return err
}

const enableTOTP = `
UPDATE super_admins SET totp_secret = totp_pending_secret, totp_pending_secret = '', totp_enabled = 1
WHERE id = ? AND totp_pending_secret != ''
`

// EnableTOTP は確認待ちの秘密鍵を有効化する。
func (q *Queries) EnableTOTP(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, enableTOTP, id)
	return err
}

const disableTOTP = `UPDATE super_admins SET totp_secret = '', totp_pending_secret = '', totp_enabled = 0 WHERE id = ?`

// DisableTOTP はTOTPを無効化する。
func (q *Queries) DisableTOTP(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, disableTOTP, id)
	return err
}
