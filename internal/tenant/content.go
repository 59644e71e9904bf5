package tenant

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	tenantdb "github.com/nao1215/tenantdesk/internal/tenant/db"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// SEOチェックで使う文字数の目安。
const (
	seoTitleMin       = 30
	seoTitleMax       = 60
	seoDescriptionMin = 120
	seoDescriptionMax = 160
)

// contentPageResponse はコンテンツページのJSON表現。
type contentPageResponse struct {
	ID              string     `json:"id"`
	Slug            string     `json:"slug"`
	Title           string     `json:"title"`
	MetaTitle       string     `json:"meta_title"`
	MetaDescription string     `json:"meta_description"`
	Body            string     `json:"body"`
	Status          string     `json:"status"`
	OrderIndex      int64      `json:"order_index"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toContentPageResponse(p tenantdb.ContentPage) contentPageResponse {
	return contentPageResponse{
		ID:              p.ID,
		Slug:            p.Slug,
		Title:           p.Title,
		MetaTitle:       p.MetaTitle,
		MetaDescription: p.MetaDescription,
		Body:            p.Body,
		Status:          p.Status,
		OrderIndex:      p.OrderIndex,
		PublishedAt:     p.PublishedAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// SEOWarnings は公開ページのメタ情報の問題点を返す。問題がなければ空。
// メタタイトルが未設定の場合はページタイトルで判定する。
func SEOWarnings(p tenantdb.ContentPage) []string {
	warnings := []string{}

	title := strings.TrimSpace(p.MetaTitle)
	if title == "" {
		title = strings.TrimSpace(p.Title)
	}
	switch n := utf8.RuneCountInString(title); {
	case n < seoTitleMin:
		warnings = append(warnings, fmt.Sprintf("Titre trop court (min. %d caractères)", seoTitleMin))
	case n > seoTitleMax:
		warnings = append(warnings, fmt.Sprintf("Titre trop long (max. %d caractères)", seoTitleMax))
	}

	desc := strings.TrimSpace(p.MetaDescription)
	switch n := utf8.RuneCountInString(desc); {
	case n == 0:
		warnings = append(warnings, "Description requise")
	case n < seoDescriptionMin:
		warnings = append(warnings, fmt.Sprintf("Description trop courte (min. %d caractères)", seoDescriptionMin))
	case n > seoDescriptionMax:
		warnings = append(warnings, fmt.Sprintf("Description trop longue (max. %d caractères)", seoDescriptionMax))
	}
	return warnings
}

// findContentPage は呼び出し元テナントのページをslugで取得する。
func (s *Server) findContentPage(c *gin.Context) (tenantdb.ContentPage, bool) {
	tenantID := middleware.TenantID(c)
	p, err := s.queries.GetContentPage(c.Request.Context(), tenantID, c.Param("slug"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ページが見つかりません"})
		return tenantdb.ContentPage{}, false
	}
	if err != nil {
		s.log.Error("ページ取得エラー", "tenant_id", tenantID, "slug", c.Param("slug"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ページの取得に失敗しました"})
		return tenantdb.ContentPage{}, false
	}
	return p, true
}

// handleListContentPages はテナントのページ一覧を処理するハンドラを返す。
func (s *Server) handleListContentPages() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := middleware.TenantID(c)
		pages, err := s.queries.ListContentPages(c.Request.Context(), tenantID)
		if err != nil {
			s.log.Error("ページ一覧取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ページの取得に失敗しました"})
			return
		}
		out := make([]contentPageResponse, 0, len(pages))
		for _, p := range pages {
			out = append(out, toContentPageResponse(p))
		}
		c.JSON(http.StatusOK, out)
	}
}

// handleGetContentPage はページ取得を処理するハンドラを返す。
func (s *Server) handleGetContentPage() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := s.findContentPage(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toContentPageResponse(p))
	}
}

// createContentPageRequest はページ作成リクエストのJSON構造。
type createContentPageRequest struct {
	Slug            string `json:"slug" binding:"required"`
	Title           string `json:"title" binding:"required"`
	MetaTitle       string `json:"meta_title"`
	MetaDescription string `json:"meta_description"`
	Body            string `json:"body"`
	OrderIndex      int64  `json:"order_index"`
}

// handleCreateContentPage は下書きページの作成を処理するハンドラを返す。
func (s *Server) handleCreateContentPage() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createContentPageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "slugとtitleは必須です"})
			return
		}
		if !ValidSlug(req.Slug) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "slugの形式が不正です"})
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "slugとtitleは必須です"})
			return
		}

		ctx := c.Request.Context()
		tenantID := middleware.TenantID(c)
		if err := s.queries.CreateContentPage(ctx, tenantdb.CreateContentPageParams{
			ID:              uuid.New().String(),
			TenantID:        tenantID,
			Slug:            req.Slug,
			Title:           strings.TrimSpace(req.Title),
			MetaTitle:       strings.TrimSpace(req.MetaTitle),
			MetaDescription: strings.TrimSpace(req.MetaDescription),
			Body:            req.Body,
			OrderIndex:      req.OrderIndex,
			Now:             s.now(),
		}); err != nil {
			if database.IsUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "このslugのページは既に存在します"})
				return
			}
			s.log.Error("ページ作成エラー", "tenant_id", tenantID, "slug", req.Slug, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ページの作成に失敗しました"})
			return
		}

		p, err := s.queries.GetContentPage(ctx, tenantID, req.Slug)
		if err != nil {
			s.log.Error("ページ取得エラー", "tenant_id", tenantID, "slug", req.Slug, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ページの作成に失敗しました"})
			return
		}
		c.JSON(http.StatusCreated, toContentPageResponse(p))
	}
}

// updateContentPageRequest はページ更新リクエストのJSON構造。省略したフィールドは変更しない。
type updateContentPageRequest struct {
	Title           *string `json:"title"`
	MetaTitle       *string `json:"meta_title"`
	MetaDescription *string `json:"meta_description"`
	Body            *string `json:"body"`
	Status          *string `json:"status"`
	OrderIndex      *int64  `json:"order_index"`
}

// handleUpdateContentPage はページ更新を処理するハンドラを返す。
// 公開は専用のエンドポイントで行い、ここでは下書きへの戻しとアーカイブのみ受け付ける。
func (s *Server) handleUpdateContentPage() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateContentPageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		p, ok := s.findContentPage(c)
		if !ok {
			return
		}

		params := tenantdb.UpdateContentPageParams{
			ID:              p.ID,
			Title:           p.Title,
			MetaTitle:       p.MetaTitle,
			MetaDescription: p.MetaDescription,
			Body:            p.Body,
			Status:          p.Status,
			OrderIndex:      p.OrderIndex,
			Now:             s.now(),
		}
		if req.Title != nil {
			params.Title = strings.TrimSpace(*req.Title)
			if params.Title == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "titleは空にできません"})
				return
			}
		}
		if req.MetaTitle != nil {
			params.MetaTitle = strings.TrimSpace(*req.MetaTitle)
		}
		if req.MetaDescription != nil {
			params.MetaDescription = strings.TrimSpace(*req.MetaDescription)
		}
		if req.Body != nil {
			params.Body = *req.Body
		}
		if req.OrderIndex != nil {
			params.OrderIndex = *req.OrderIndex
		}
		if req.Status != nil {
			status := strings.ToUpper(*req.Status)
			switch status {
			case tenantdb.PageDraft, tenantdb.PageArchived:
				params.Status = status
			case tenantdb.PagePublished:
				c.JSON(http.StatusBadRequest, gin.H{"error": "公開はpublishエンドポイントで行ってください"})
				return
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未知のステータスです: %s", *req.Status)})
				return
			}
		}

		ctx := c.Request.Context()
		if err := s.queries.UpdateContentPage(ctx, params); err != nil {
			s.log.Error("ページ更新エラー", "page_id", p.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ページの更新に失敗しました"})
			return
		}
		updated, err := s.queries.GetContentPage(ctx, p.TenantID, p.Slug)
		if err != nil {
			s.log.Error("ページ取得エラー", "page_id", p.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ページの更新に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toContentPageResponse(updated))
	}
}

// handlePublishContentPage はページの公開を処理するハンドラを返す。
// 公開時にSEOチェックを行い、問題があればContentSEOWarningイベントも送信する。
func (s *Server) handlePublishContentPage() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := s.findContentPage(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		if err := s.queries.PublishContentPage(ctx, p.ID, s.now()); err != nil {
			s.log.Error("ページ公開エラー", "page_id", p.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ページの公開に失敗しました"})
			return
		}
		published, err := s.queries.GetContentPage(ctx, p.TenantID, p.Slug)
		if err != nil {
			s.log.Error("ページ取得エラー", "page_id", p.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ページの公開に失敗しました"})
			return
		}

		data := event.ContentPageData{PageID: published.ID, Slug: published.Slug, Title: published.Title}
		s.publisher.Emit(ctx, published.TenantID, published.ID, event.AggregateTypeContentPage, event.TypeContentPublished, data)

		warnings := SEOWarnings(published)
		if len(warnings) > 0 {
			data.Warnings = warnings
			s.publisher.Emit(ctx, published.TenantID, published.ID, event.AggregateTypeContentPage, event.TypeContentSEOWarning, data)
		}
		c.JSON(http.StatusOK, gin.H{
			"page":         toContentPageResponse(published),
			"seo_warnings": warnings,
		})
	}
}

// handleDeleteContentPage はページ削除を処理するハンドラを返す。
func (s *Server) handleDeleteContentPage() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := s.findContentPage(c)
		if !ok {
			return
		}
		if err := s.queries.DeleteContentPage(c.Request.Context(), p.ID); err != nil {
			s.log.Error("ページ削除エラー", "page_id", p.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ページの削除に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ページを削除しました"})
	}
}
