package db

import (
	"context"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const templateColumns = `id, name, display_name, category, description, is_active, created_at`

func scanTemplate(row database.Scanner) (Template, error) {
	var (
		t         Template
		createdAt string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.DisplayName, &t.Category, &t.Description, &t.IsActive, &createdAt); err != nil {
		return Template{}, err
	}
	if err := database.ScanTime(createdAt, &t.CreatedAt); err != nil {
		return Template{}, err
	}
	return t, nil
}

const getTemplateByID = `SELECT ` + templateColumns + ` FROM templates WHERE id = ?`

// GetTemplateByID はIDでテンプレートを取得する。
func (q *Queries) GetTemplateByID(ctx context.Context, id string) (Template, error) {
	return scanTemplate(q.db.QueryRowContext(ctx, getTemplateByID, id))
}

const getTemplateByName = `SELECT ` + templateColumns + ` FROM templates WHERE name = ?`

// GetTemplateByName は名前でテンプレートを取得する。
func (q *Queries) GetTemplateByName(ctx context.Context, name string) (Template, error) {
	return scanTemplate(q.db.QueryRowContext(ctx, getTemplateByName, name))
}

const listActiveTemplates = `SELECT ` + templateColumns + ` FROM templates WHERE is_active = 1 ORDER BY display_name ASC`

// ListActiveTemplates は有効なテンプレートを表示名順に返す。
func (q *Queries) ListActiveTemplates(ctx context.Context) ([]Template, error) {
	return database.QueryAll(ctx, q.db, scanTemplate, listActiveTemplates)
}

const insertTemplate = `
INSERT INTO templates (id, name, display_name, category, description, is_active, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

// InsertTemplateParams はInsertTemplateの引数。
type InsertTemplateParams struct {
	ID          string
	Name        string
	DisplayName string
	Category    string
	Description string
	IsActive    bool
	CreatedAt   time.Time
}

// InsertTemplate はテンプレートを作成する。
func (q *Queries) InsertTemplate(ctx context.Context, arg InsertTemplateParams) error {
	_, err := q.db.ExecContext(ctx, insertTemplate,
		arg.ID, arg.Name, arg.DisplayName, arg.Category, arg.Description, arg.IsActive, database.FormatTime(arg.CreatedAt))
	return err
}

const updateTemplate = `
UPDATE templates SET display_name = ?, category = ?, description = ?, is_active = ? WHERE id = ?
`

// UpdateTemplateParams はUpdateTemplateの引数。
type UpdateTemplateParams struct {
	ID          string
	DisplayName string
	Category    string
	Description string
	IsActive    bool
}

// UpdateTemplate はテンプレートの属性を更新する。
func (q *Queries) UpdateTemplate(ctx context.Context, arg UpdateTemplateParams) error {
	_, err := q.db.ExecContext(ctx, updateTemplate, arg.DisplayName, arg.Category, arg.Description, arg.IsActive, arg.ID)
	return err
}

const deleteTemplatePages = `DELETE FROM template_pages WHERE template_id = ?`

// DeleteTemplatePages はテンプレートのページを全て削除する。
func (q *Queries) DeleteTemplatePages(ctx context.Context, templateID string) error {
	_, err := q.db.ExecContext(ctx, deleteTemplatePages, templateID)
	return err
}

const insertTemplatePage = `
INSERT INTO template_pages (id, template_id, slug, title, order_index) VALUES (?, ?, ?, ?, ?)
`

// InsertTemplatePage はテンプレートにページを追加する。
func (q *Queries) InsertTemplatePage(ctx context.Context, arg TemplatePage) error {
	_, err := q.db.ExecContext(ctx, insertTemplatePage, arg.ID, arg.TemplateID, arg.Slug, arg.Title, arg.OrderIndex)
	return err
}

const listTemplatePages = `
SELECT id, template_id, slug, title, order_index FROM template_pages
WHERE template_id = ? ORDER BY order_index ASC, slug ASC
`

func scanTemplatePage(row database.Scanner) (TemplatePage, error) {
	var p TemplatePage
	err := row.Scan(&p.ID, &p.TemplateID, &p.Slug, &p.Title, &p.OrderIndex)
	return p, err
}

// ListTemplatePages はテンプレートのページを表示順に返す。
func (q *Queries) ListTemplatePages(ctx context.Context, templateID string) ([]TemplatePage, error) {
	return database.QueryAll(ctx, q.db, scanTemplatePage, listTemplatePages, templateID)
}

const deleteTemplateSidebarConfigs = `DELETE FROM template_sidebar_configs WHERE template_id = ?`

// DeleteTemplateSidebarConfigs はテンプレートのサイドバー設定を全て削除する。
func (q *Queries) DeleteTemplateSidebarConfigs(ctx context.Context, templateID string) error {
	_, err := q.db.ExecContext(ctx, deleteTemplateSidebarConfigs, templateID)
	return err
}

const insertTemplateSidebarConfig = `
INSERT INTO template_sidebar_configs (id, template_id, element_id, label, icon, href, category, order_index, is_required)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertTemplateSidebarConfig はテンプレートにサイドバー要素を追加する。
func (q *Queries) InsertTemplateSidebarConfig(ctx context.Context, arg TemplateSidebarConfig) error {
	_, err := q.db.ExecContext(ctx, insertTemplateSidebarConfig,
		arg.ID, arg.TemplateID, arg.ElementID, arg.Label, arg.Icon, arg.Href, arg.Category, arg.OrderIndex, arg.IsRequired)
	return err
}

const listTemplateSidebarConfigs = `
SELECT id, template_id, element_id, label, icon, href, category, order_index, is_required
FROM template_sidebar_configs WHERE template_id = ? ORDER BY order_index ASC, element_id ASC
`

func scanTemplateSidebarConfig(row database.Scanner) (TemplateSidebarConfig, error) {
	var c TemplateSidebarConfig
	err := row.Scan(&c.ID, &c.TemplateID, &c.ElementID, &c.Label, &c.Icon, &c.Href, &c.Category, &c.OrderIndex, &c.IsRequired)
	return c, err
}

// ListTemplateSidebarConfigs はテンプレートのサイドバー設定を表示順に返す。
func (q *Queries) ListTemplateSidebarConfigs(ctx context.Context, templateID string) ([]TemplateSidebarConfig, error) {
	return database.QueryAll(ctx, q.db, scanTemplateSidebarConfig, listTemplateSidebarConfigs, templateID)
}
