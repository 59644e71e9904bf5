package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	tenantdb "github.com/nao1215/tenantdesk/internal/tenant/db"
)

// templatePageResponse はテンプレートページのJSON表現。
type templatePageResponse struct {
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	OrderIndex int64  `json:"order_index"`
}

// templateSidebarResponse はテンプレートのサイドバー設定のJSON表現。
type templateSidebarResponse struct {
	ElementID  string `json:"element_id"`
	Label      string `json:"label"`
	Icon       string `json:"icon"`
	Href       string `json:"href"`
	Category   string `json:"category"`
	OrderIndex int64  `json:"order_index"`
	IsRequired bool   `json:"is_required"`
}

// templateResponse はテンプレートのJSON表現。
type templateResponse struct {
	ID             string                    `json:"id"`
	Name           string                    `json:"name"`
	DisplayName    string                    `json:"display_name"`
	Category       string                    `json:"category"`
	Description    string                    `json:"description"`
	Pages          []templatePageResponse    `json:"pages"`
	SidebarConfigs []templateSidebarResponse `json:"sidebar_configs"`
}

// loadTemplate はテンプレートをページとサイドバー設定付きで取得する。
func (s *Server) loadTemplate(ctx context.Context, t tenantdb.Template) (templateResponse, error) {
	pages, err := s.queries.ListTemplatePages(ctx, t.ID)
	if err != nil {
		return templateResponse{}, fmt.Errorf("テンプレートページの取得に失敗: %w", err)
	}
	configs, err := s.queries.ListTemplateSidebarConfigs(ctx, t.ID)
	if err != nil {
		return templateResponse{}, fmt.Errorf("テンプレートサイドバー設定の取得に失敗: %w", err)
	}

	resp := templateResponse{
		ID:             t.ID,
		Name:           t.Name,
		DisplayName:    t.DisplayName,
		Category:       t.Category,
		Description:    t.Description,
		Pages:          make([]templatePageResponse, 0, len(pages)),
		SidebarConfigs: make([]templateSidebarResponse, 0, len(configs)),
	}
	for _, p := range pages {
		resp.Pages = append(resp.Pages, templatePageResponse{Slug: p.Slug, Title: p.Title, OrderIndex: p.OrderIndex})
	}
	for _, c := range configs {
		resp.SidebarConfigs = append(resp.SidebarConfigs, templateSidebarResponse{
			ElementID:  c.ElementID,
			Label:      c.Label,
			Icon:       c.Icon,
			Href:       c.Href,
			Category:   c.Category,
			OrderIndex: c.OrderIndex,
			IsRequired: c.IsRequired,
		})
	}
	return resp, nil
}

// handleListTemplates は有効なテンプレート一覧を処理するハンドラを返す。
func (s *Server) handleListTemplates() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		templates, err := s.queries.ListActiveTemplates(ctx)
		if err != nil {
			s.log.Error("テンプレート一覧取得エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テンプレートの取得に失敗しました"})
			return
		}

		out := make([]templateResponse, 0, len(templates))
		for _, t := range templates {
			resp, err := s.loadTemplate(ctx, t)
			if err != nil {
				s.log.Error("テンプレート詳細取得エラー", "template_id", t.ID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "テンプレートの取得に失敗しました"})
				return
			}
			out = append(out, resp)
		}
		c.JSON(http.StatusOK, out)
	}
}

// handleGetTemplate はテンプレート詳細を処理するハンドラを返す。
func (s *Server) handleGetTemplate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		t, err := s.queries.GetTemplateByID(ctx, c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "テンプレートが見つかりません"})
			return
		}
		if err != nil {
			s.log.Error("テンプレート取得エラー", "template_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テンプレートの取得に失敗しました"})
			return
		}

		resp, err := s.loadTemplate(ctx, t)
		if err != nil {
			s.log.Error("テンプレート詳細取得エラー", "template_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テンプレートの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleGetCatalog はサイドバー要素カタログを返すハンドラを返す。
func (s *Server) handleGetCatalog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.catalog.Elements())
	}
}
