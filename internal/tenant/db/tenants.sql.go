package db

import (
	"context"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const tenantColumns = `t.id, t.slug, t.name, t.email, t.domain, t.template_id, t.is_active, t.created_at, t.updated_at`

func scanTenantInto(row database.Scanner, t *Tenant, extra ...any) error {
	var createdAt, updatedAt string
	dest := []any{&t.ID, &t.Slug, &t.Name, &t.Email, &t.Domain, &t.TemplateID, &t.IsActive, &createdAt, &updatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	if err := database.ScanTime(createdAt, &t.CreatedAt); err != nil {
		return err
	}
	return database.ScanTime(updatedAt, &t.UpdatedAt)
}

func scanTenant(row database.Scanner) (Tenant, error) {
	var t Tenant
	err := scanTenantInto(row, &t)
	return t, err
}

func scanTenantWithStats(row database.Scanner) (TenantWithStats, error) {
	var t TenantWithStats
	err := scanTenantInto(row, &t.Tenant, &t.TemplateName, &t.UserCount)
	return t, err
}

const createTenant = `
INSERT INTO tenants (id, slug, name, email, domain, template_id, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
`

// CreateTenantParams はCreateTenantの引数。
type CreateTenantParams struct {
	ID         string
	Slug       string
	Name       string
	Email      string
	Domain     string
	TemplateID string
	Now        time.Time
}

// CreateTenant はテナントを作成する。
func (q *Queries) CreateTenant(ctx context.Context, arg CreateTenantParams) error {
	now := database.FormatTime(arg.Now)
	_, err := q.db.ExecContext(ctx, createTenant, arg.ID, arg.Slug, arg.Name, arg.Email, arg.Domain, arg.TemplateID, now, now)
	return err
}

const getTenantByID = `SELECT ` + tenantColumns + ` FROM tenants t WHERE t.id = ?`

// GetTenantByID はIDでテナントを取得する。
func (q *Queries) GetTenantByID(ctx context.Context, id string) (Tenant, error) {
	return scanTenant(q.db.QueryRowContext(ctx, getTenantByID, id))
}

const getTenantBySlug = `SELECT ` + tenantColumns + ` FROM tenants t WHERE t.slug = ?`

// GetTenantBySlug はスラッグでテナントを取得する。
func (q *Queries) GetTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	return scanTenant(q.db.QueryRowContext(ctx, getTenantBySlug, slug))
}

const listTenantsWithStats = `
SELECT ` + tenantColumns + `, tp.display_name,
    (SELECT COUNT(*) FROM tenant_users u WHERE u.tenant_id = t.id)
FROM tenants t
JOIN templates tp ON tp.id = t.template_id
ORDER BY t.created_at DESC, t.id ASC
`

// ListTenantsWithStats はテナントをユーザー数とテンプレート名付きで新しい順に返す。
func (q *Queries) ListTenantsWithStats(ctx context.Context) ([]TenantWithStats, error) {
	return database.QueryAll(ctx, q.db, scanTenantWithStats, listTenantsWithStats)
}

const updateTenant = `
UPDATE tenants SET name = ?, email = ?, domain = ?, is_active = ?, updated_at = ? WHERE id = ?
`

// UpdateTenantParams はUpdateTenantの引数。
type UpdateTenantParams struct {
	ID       string
	Name     string
	Email    string
	Domain   string
	IsActive bool
	Now      time.Time
}

// UpdateTenant はテナントの属性を更新する。
func (q *Queries) UpdateTenant(ctx context.Context, arg UpdateTenantParams) error {
	_, err := q.db.ExecContext(ctx, updateTenant, arg.Name, arg.Email, arg.Domain, arg.IsActive, database.FormatTime(arg.Now), arg.ID)
	return err
}

const updateTenantTemplate = `UPDATE tenants SET template_id = ?, updated_at = ? WHERE id = ?`

// UpdateTenantTemplate はテナントのテンプレートを切り替える。
func (q *Queries) UpdateTenantTemplate(ctx context.Context, id, templateID string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, updateTenantTemplate, templateID, database.FormatTime(now), id)
	return err
}

const deleteTenant = `DELETE FROM tenants WHERE id = ?`

// DeleteTenant はテナントを削除し、削除件数を返す。ユーザーと上書き設定は連鎖削除される。
func (q *Queries) DeleteTenant(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTenant, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
