package db

import (
	"context"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const listSidebarOverrides = `
SELECT tenant_id, element_id, action, label, icon, href, category, order_index, created_at
FROM tenant_sidebar_overrides WHERE tenant_id = ? ORDER BY element_id ASC
`

func scanSidebarOverride(row database.Scanner) (SidebarOverride, error) {
	var (
		o         SidebarOverride
		createdAt string
	)
	if err := row.Scan(&o.TenantID, &o.ElementID, &o.Action, &o.Label, &o.Icon, &o.Href, &o.Category, &o.OrderIndex, &createdAt); err != nil {
		return SidebarOverride{}, err
	}
	if err := database.ScanTime(createdAt, &o.CreatedAt); err != nil {
		return SidebarOverride{}, err
	}
	return o, nil
}

// ListSidebarOverrides はテナントのサイドバー上書き設定を返す。
func (q *Queries) ListSidebarOverrides(ctx context.Context, tenantID string) ([]SidebarOverride, error) {
	return database.QueryAll(ctx, q.db, scanSidebarOverride, listSidebarOverrides, tenantID)
}

const upsertSidebarOverride = `
INSERT INTO tenant_sidebar_overrides (tenant_id, element_id, action, label, icon, href, category, order_index, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, element_id) DO UPDATE SET
    action = excluded.action,
    label = excluded.label,
    icon = excluded.icon,
    href = excluded.href,
    category = excluded.category,
    order_index = excluded.order_index,
    created_at = excluded.created_at
`

// UpsertSidebarOverrideParams はUpsertSidebarOverrideの引数。
type UpsertSidebarOverrideParams struct {
	TenantID   string
	ElementID  string
	Action     string
	Label      string
	Icon       string
	Href       string
	Category   string
	OrderIndex int64
	Now        time.Time
}

// UpsertSidebarOverride はサイドバー上書き設定を作成または置き換える。
func (q *Queries) UpsertSidebarOverride(ctx context.Context, arg UpsertSidebarOverrideParams) error {
	_, err := q.db.ExecContext(ctx, upsertSidebarOverride,
		arg.TenantID, arg.ElementID, arg.Action, arg.Label, arg.Icon, arg.Href, arg.Category, arg.OrderIndex, database.FormatTime(arg.Now))
	return err
}

const deleteSidebarOverride = `DELETE FROM tenant_sidebar_overrides WHERE tenant_id = ? AND element_id = ?`

// DeleteSidebarOverride はサイドバー上書き設定を削除する。
func (q *Queries) DeleteSidebarOverride(ctx context.Context, tenantID, elementID string) error {
	_, err := q.db.ExecContext(ctx, deleteSidebarOverride, tenantID, elementID)
	return err
}
