package tenant

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	tenantdb "github.com/nao1215/tenantdesk/internal/tenant/db"
	"gopkg.in/yaml.v3"
)

//go:embed seeds/*.yaml
var seedsFS embed.FS

// templateSeed はseeds/templates.yamlの1テンプレート分。
type templateSeed struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
	Pages       []struct {
		Slug  string `yaml:"slug"`
		Title string `yaml:"title"`
	} `yaml:"pages"`
	Sidebar []struct {
		ElementID string `yaml:"element_id"`
		Label     string `yaml:"label"`
		Icon      string `yaml:"icon"`
		Href      string `yaml:"href"`
		Category  string `yaml:"category"`
		Required  bool   `yaml:"required"`
	} `yaml:"sidebar"`
}

// CatalogElement はスーパー管理者がテナントに追加できるサイドバー要素。
type CatalogElement struct {
	ID       string `yaml:"id" json:"id"`
	Label    string `yaml:"label" json:"label"`
	Icon     string `yaml:"icon" json:"icon"`
	Href     string `yaml:"href" json:"href"`
	Category string `yaml:"category" json:"category"`
}

// Catalog はサイドバー要素カタログ。
type Catalog struct {
	elements []CatalogElement
	byID     map[string]CatalogElement
}

// Elements はカタログの要素を定義順で返す。
func (c *Catalog) Elements() []CatalogElement {
	out := make([]CatalogElement, len(c.elements))
	copy(out, c.elements)
	return out
}

// Lookup はIDでカタログ要素を検索する。
func (c *Catalog) Lookup(id string) (CatalogElement, bool) {
	e, ok := c.byID[id]
	return e, ok
}

func loadTemplateSeeds() ([]templateSeed, error) {
	raw, err := seedsFS.ReadFile("seeds/templates.yaml")
	if err != nil {
		return nil, fmt.Errorf("テンプレート定義の読み込みに失敗: %w", err)
	}
	var seeds []templateSeed
	if err := yaml.Unmarshal(raw, &seeds); err != nil {
		return nil, fmt.Errorf("テンプレート定義の解析に失敗: %w", err)
	}
	for _, s := range seeds {
		if s.Name == "" || s.DisplayName == "" || s.Category == "" {
			return nil, fmt.Errorf("テンプレート定義が不完全です: %q", s.Name)
		}
	}
	return seeds, nil
}

// loadCatalog は埋め込みカタログを読み込む。categoriesに含まれないカテゴリはエラーとする。
func loadCatalog(categories map[string]bool) (*Catalog, error) {
	raw, err := seedsFS.ReadFile("seeds/sidebar_catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("サイドバーカタログの読み込みに失敗: %w", err)
	}
	return parseCatalog(raw, categories)
}

func parseCatalog(raw []byte, categories map[string]bool) (*Catalog, error) {
	var elements []CatalogElement
	if err := yaml.Unmarshal(raw, &elements); err != nil {
		return nil, fmt.Errorf("サイドバーカタログの解析に失敗: %w", err)
	}
	c := &Catalog{elements: elements, byID: make(map[string]CatalogElement, len(elements))}
	for _, e := range elements {
		if e.ID == "" || e.Href == "" {
			return nil, fmt.Errorf("カタログ要素が不完全です: %q", e.ID)
		}
		if !categories[e.Category] {
			return nil, fmt.Errorf("カタログ要素 %s のカテゴリが不明です: %s", e.ID, e.Category)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("カタログ要素が重複しています: %s", e.ID)
		}
		c.byID[e.ID] = e
	}
	return c, nil
}

func templateCategories(seeds []templateSeed) map[string]bool {
	m := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		m[s.Category] = true
	}
	return m
}

// seedTemplates はテンプレート定義をDBへ投入する。名前が一致する既存テンプレートは属性、
// ページ、サイドバー設定を置き換える。テナントの上書き設定は要素IDで参照するため影響しない。
func seedTemplates(ctx context.Context, sqlDB *sql.DB, seeds []templateSeed, now time.Time) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := tenantdb.New(tx)

	for _, s := range seeds {
		id, err := upsertTemplate(ctx, q, s, now)
		if err != nil {
			return err
		}
		if err := q.DeleteTemplatePages(ctx, id); err != nil {
			return fmt.Errorf("テンプレート %s のページ削除に失敗: %w", s.Name, err)
		}
		for i, p := range s.Pages {
			if err := q.InsertTemplatePage(ctx, tenantdb.TemplatePage{
				ID:         uuid.New().String(),
				TemplateID: id,
				Slug:       p.Slug,
				Title:      p.Title,
				OrderIndex: int64(i + 1),
			}); err != nil {
				return fmt.Errorf("テンプレート %s のページ %s の投入に失敗: %w", s.Name, p.Slug, err)
			}
		}
		if err := q.DeleteTemplateSidebarConfigs(ctx, id); err != nil {
			return fmt.Errorf("テンプレート %s のサイドバー設定削除に失敗: %w", s.Name, err)
		}
		for i, e := range s.Sidebar {
			if err := q.InsertTemplateSidebarConfig(ctx, tenantdb.TemplateSidebarConfig{
				ID:         uuid.New().String(),
				TemplateID: id,
				ElementID:  e.ElementID,
				Label:      e.Label,
				Icon:       e.Icon,
				Href:       e.Href,
				Category:   e.Category,
				OrderIndex: int64(i + 1),
				IsRequired: e.Required,
			}); err != nil {
				return fmt.Errorf("テンプレート %s のサイドバー要素 %s の投入に失敗: %w", s.Name, e.ElementID, err)
			}
		}
	}
	return tx.Commit()
}

func upsertTemplate(ctx context.Context, q *tenantdb.Queries, s templateSeed, now time.Time) (string, error) {
	existing, err := q.GetTemplateByName(ctx, s.Name)
	switch {
	case err == nil:
		if err := q.UpdateTemplate(ctx, tenantdb.UpdateTemplateParams{
			ID:          existing.ID,
			DisplayName: s.DisplayName,
			Category:    s.Category,
			Description: s.Description,
			IsActive:    true,
		}); err != nil {
			return "", fmt.Errorf("テンプレート %s の更新に失敗: %w", s.Name, err)
		}
		return existing.ID, nil
	case errors.Is(err, sql.ErrNoRows):
		id := uuid.New().String()
		if err := q.InsertTemplate(ctx, tenantdb.InsertTemplateParams{
			ID:          id,
			Name:        s.Name,
			DisplayName: s.DisplayName,
			Category:    s.Category,
			Description: s.Description,
			IsActive:    true,
			CreatedAt:   now,
		}); err != nil {
			return "", fmt.Errorf("テンプレート %s の作成に失敗: %w", s.Name, err)
		}
		return id, nil
	default:
		return "", fmt.Errorf("テンプレート %s の取得に失敗: %w", s.Name, err)
	}
}
