package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/nao1215/tenantdesk/pkg/database"
)

const contentPageColumns = `id, tenant_id, slug, title, meta_title, meta_description, body, status, order_index, published_at, created_at, updated_at`

func scanContentPage(row database.Scanner) (ContentPage, error) {
	var (
		p                    ContentPage
		publishedAt          sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.Slug, &p.Title, &p.MetaTitle, &p.MetaDescription, &p.Body,
		&p.Status, &p.OrderIndex, &publishedAt, &createdAt, &updatedAt); err != nil {
		return ContentPage{}, err
	}
	t, err := database.ParseNullTime(publishedAt)
	if err != nil {
		return ContentPage{}, err
	}
	p.PublishedAt = t
	if err := database.ScanTime(createdAt, &p.CreatedAt); err != nil {
		return ContentPage{}, err
	}
	if err := database.ScanTime(updatedAt, &p.UpdatedAt); err != nil {
		return ContentPage{}, err
	}
	return p, nil
}

const createContentPage = `
INSERT INTO content_pages (id, tenant_id, slug, title, meta_title, meta_description, body, status, order_index, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 'DRAFT', ?, ?, ?)
`

// CreateContentPageParams はCreateContentPageの引数。
type CreateContentPageParams struct {
	ID              string
	TenantID        string
	Slug            string
	Title           string
	MetaTitle       string
	MetaDescription string
	Body            string
	OrderIndex      int64
	Now             time.Time
}

// CreateContentPage は下書き状態のページを作成する。
func (q *Queries) CreateContentPage(ctx context.Context, arg CreateContentPageParams) error {
	now := database.FormatTime(arg.Now)
	_, err := q.db.ExecContext(ctx, createContentPage, arg.ID, arg.TenantID, arg.Slug, arg.Title,
		arg.MetaTitle, arg.MetaDescription, arg.Body, arg.OrderIndex, now, now)
	return err
}

const getContentPage = `SELECT ` + contentPageColumns + ` FROM content_pages WHERE tenant_id = ? AND slug = ?`

// GetContentPage はテナント内のページをslugで取得する。
func (q *Queries) GetContentPage(ctx context.Context, tenantID, slug string) (ContentPage, error) {
	return scanContentPage(q.db.QueryRowContext(ctx, getContentPage, tenantID, slug))
}

const listContentPages = `SELECT ` + contentPageColumns + ` FROM content_pages WHERE tenant_id = ? ORDER BY order_index ASC, slug ASC`

// ListContentPages はテナントのページを表示順に返す。
func (q *Queries) ListContentPages(ctx context.Context, tenantID string) ([]ContentPage, error) {
	return database.QueryAll(ctx, q.db, scanContentPage, listContentPages, tenantID)
}

const updateContentPage = `
UPDATE content_pages
SET title = ?, meta_title = ?, meta_description = ?, body = ?, status = ?, order_index = ?, updated_at = ?
WHERE id = ?
`

// UpdateContentPageParams はUpdateContentPageの引数。
type UpdateContentPageParams struct {
	ID              string
	Title           string
	MetaTitle       string
	MetaDescription string
	Body            string
	Status          string
	OrderIndex      int64
	Now             time.Time
}

// UpdateContentPage はページの内容と状態を更新する。公開日時は変更しない。
func (q *Queries) UpdateContentPage(ctx context.Context, arg UpdateContentPageParams) error {
	_, err := q.db.ExecContext(ctx, updateContentPage, arg.Title, arg.MetaTitle, arg.MetaDescription, arg.Body,
		arg.Status, arg.OrderIndex, database.FormatTime(arg.Now), arg.ID)
	return err
}

const publishContentPage = `
UPDATE content_pages SET status = 'PUBLISHED', published_at = ?, updated_at = ? WHERE id = ?
`

// PublishContentPage はページを公開状態にし、公開日時を記録する。
func (q *Queries) PublishContentPage(ctx context.Context, id string, at time.Time) error {
	ts := database.FormatTime(at)
	_, err := q.db.ExecContext(ctx, publishContentPage, ts, ts, id)
	return err
}

const deleteContentPage = `DELETE FROM content_pages WHERE id = ?`

// DeleteContentPage はページを削除する。
func (q *Queries) DeleteContentPage(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deleteContentPage, id)
	return err
}
