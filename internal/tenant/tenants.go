package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	tenantdb "github.com/nao1215/tenantdesk/internal/tenant/db"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// slugPattern はテナントスラッグの形式。
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,48}[a-z0-9]$`)

var (
	// ErrSlugTaken はスラッグが既に使用されていることを表す。
	ErrSlugTaken = errors.New("スラッグは既に使用されています")
	// ErrEmailTaken はメールアドレスが既に使用されていることを表す。
	ErrEmailTaken = errors.New("メールアドレスは既に使用されています")
	// ErrUnknownTemplate はテンプレートが存在しないことを表す。
	ErrUnknownTemplate = errors.New("テンプレートが存在しません")
)

// ValidSlug はスラッグが有効な形式かを返す。
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// tenantResponse はテナントのJSON表現。
type tenantResponse struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Domain       string    `json:"domain"`
	TemplateID   string    `json:"template_id"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	TemplateName string    `json:"template_name,omitempty"`
	UserCount    *int64    `json:"user_count,omitempty"`
}

func toTenantResponse(t tenantdb.Tenant) tenantResponse {
	return tenantResponse{
		ID:         t.ID,
		Slug:       t.Slug,
		Name:       t.Name,
		Email:      t.Email,
		Domain:     t.Domain,
		TemplateID: t.TemplateID,
		IsActive:   t.IsActive,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

// ownerRequest はテナント作成時に同時作成するオーナーの入力。
type ownerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// createTenantRequest はテナント作成リクエストのJSON構造。
type createTenantRequest struct {
	Name       string        `json:"name"`
	Email      string        `json:"email"`
	Slug       string        `json:"slug"`
	TemplateID string        `json:"template_id"`
	Domain     string        `json:"domain"`
	Owner      *ownerRequest `json:"owner"`
}

func (r createTenantRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Email) == "" || r.Slug == "" || r.TemplateID == "" {
		return errors.New("name, email, slug, template_idは必須です")
	}
	if !ValidSlug(r.Slug) {
		return errors.New("スラッグは英小文字・数字・ハイフンの3〜50文字で指定してください")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return errors.New("メールアドレスの形式が不正です")
	}
	if r.Owner != nil {
		if err := validateNewUser(r.Owner.Email, r.Owner.Password); err != nil {
			return err
		}
	}
	return nil
}

// CreateTenant はテナントを作成する。ownerが指定された場合は同一トランザクションでOWNERを作成する。
func (s *Server) CreateTenant(ctx context.Context, req createTenantRequest) (tenantdb.Tenant, *tenantdb.TenantUser, error) {
	var ownerHash string
	if req.Owner != nil {
		h, err := hashPassword(req.Owner.Password)
		if err != nil {
			return tenantdb.Tenant{}, nil, err
		}
		ownerHash = h
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tenantdb.Tenant{}, nil, fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.queries.WithTx(tx)

	if _, err := q.GetTemplateByID(ctx, req.TemplateID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tenantdb.Tenant{}, nil, ErrUnknownTemplate
		}
		return tenantdb.Tenant{}, nil, fmt.Errorf("テンプレートの取得に失敗: %w", err)
	}

	now := s.now()
	id := uuid.New().String()
	if err := q.CreateTenant(ctx, tenantdb.CreateTenantParams{
		ID:         id,
		Slug:       req.Slug,
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		Domain:     strings.TrimSpace(req.Domain),
		TemplateID: req.TemplateID,
		Now:        now,
	}); err != nil {
		if database.IsUniqueViolation(err) {
			return tenantdb.Tenant{}, nil, ErrSlugTaken
		}
		return tenantdb.Tenant{}, nil, fmt.Errorf("テナントの作成に失敗: %w", err)
	}

	var owner *tenantdb.TenantUser
	if req.Owner != nil {
		ownerID := uuid.New().String()
		if err := q.CreateUser(ctx, tenantdb.CreateUserParams{
			ID:           ownerID,
			TenantID:     id,
			Email:        normalizeEmail(req.Owner.Email),
			PasswordHash: ownerHash,
			Name:         strings.TrimSpace(req.Owner.Name),
			Role:         string(middleware.RoleOwner),
			Now:          now,
		}); err != nil {
			if database.IsUniqueViolation(err) {
				return tenantdb.Tenant{}, nil, ErrEmailTaken
			}
			return tenantdb.Tenant{}, nil, fmt.Errorf("オーナーの作成に失敗: %w", err)
		}
		u, err := q.GetUserByID(ctx, ownerID)
		if err != nil {
			return tenantdb.Tenant{}, nil, fmt.Errorf("作成したオーナーの取得に失敗: %w", err)
		}
		owner = &u
	}

	t, err := q.GetTenantByID(ctx, id)
	if err != nil {
		return tenantdb.Tenant{}, nil, fmt.Errorf("作成したテナントの取得に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return tenantdb.Tenant{}, nil, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return t, owner, nil
}

// handleListTenants はテナント一覧を処理するハンドラを返す。
func (s *Server) handleListTenants() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.ListTenantsWithStats(c.Request.Context())
		if err != nil {
			s.log.Error("テナント一覧取得エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テナントの取得に失敗しました"})
			return
		}
		out := make([]tenantResponse, 0, len(rows))
		for _, r := range rows {
			resp := toTenantResponse(r.Tenant)
			resp.TemplateName = r.TemplateName
			count := r.UserCount
			resp.UserCount = &count
			out = append(out, resp)
		}
		c.JSON(http.StatusOK, out)
	}
}

// handleCreateTenant はテナント作成を処理するハンドラを返す。
func (s *Server) handleCreateTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if err := req.validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		t, owner, err := s.CreateTenant(ctx, req)
		switch {
		case errors.Is(err, ErrUnknownTemplate):
			c.JSON(http.StatusBadRequest, gin.H{"error": "テンプレートが存在しません"})
			return
		case errors.Is(err, ErrSlugTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "スラッグは既に使用されています"})
			return
		case errors.Is(err, ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "メールアドレスは既に使用されています"})
			return
		case err != nil:
			s.log.Error("テナント作成エラー", "slug", req.Slug, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テナントの作成に失敗しました"})
			return
		}

		data := event.TenantCreatedData{Name: t.Name, Slug: t.Slug, Email: t.Email, TemplateID: t.TemplateID}
		if owner != nil {
			data.OwnerID = owner.ID
		}
		s.publisher.Emit(ctx, t.ID, t.ID, event.AggregateTypeTenant, event.TypeTenantCreated, data)
		if owner != nil {
			s.publisher.Emit(ctx, t.ID, owner.ID, event.AggregateTypeUser, event.TypeUserCreated,
				event.UserCreatedData{Email: owner.Email, Name: owner.Name, Role: owner.Role})
		}

		resp := gin.H{"tenant": toTenantResponse(t)}
		if owner != nil {
			resp["owner"] = toUserResponse(*owner)
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// handleGetTenant はテナント詳細を処理するハンドラを返す。
func (s *Server) handleGetTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := s.lookupTenant(c, c.Param("id"))
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toTenantResponse(t))
	}
}

// updateTenantRequest はテナント更新リクエストのJSON構造。省略したフィールドは変更しない。
type updateTenantRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Domain   *string `json:"domain"`
	IsActive *bool   `json:"is_active"`
}

// handleUpdateTenant はテナント更新を処理するハンドラを返す。
func (s *Server) handleUpdateTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		t, ok := s.lookupTenant(c, c.Param("id"))
		if !ok {
			return
		}

		params := tenantdb.UpdateTenantParams{
			ID:       t.ID,
			Name:     t.Name,
			Email:    t.Email,
			Domain:   t.Domain,
			IsActive: t.IsActive,
			Now:      s.now(),
		}
		if req.Name != nil {
			if strings.TrimSpace(*req.Name) == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "nameは空にできません"})
				return
			}
			params.Name = strings.TrimSpace(*req.Name)
		}
		if req.Email != nil {
			if _, err := mail.ParseAddress(*req.Email); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスの形式が不正です"})
				return
			}
			params.Email = strings.TrimSpace(*req.Email)
		}
		if req.Domain != nil {
			params.Domain = strings.TrimSpace(*req.Domain)
		}
		if req.IsActive != nil {
			params.IsActive = *req.IsActive
		}

		ctx := c.Request.Context()
		if err := s.queries.UpdateTenant(ctx, params); err != nil {
			s.log.Error("テナント更新エラー", "tenant_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テナントの更新に失敗しました"})
			return
		}
		updated, ok := s.lookupTenant(c, t.ID)
		if !ok {
			return
		}
		s.publisher.Emit(ctx, t.ID, t.ID, event.AggregateTypeTenant, event.TypeTenantUpdated,
			event.TenantUpdatedData{Name: updated.Name, Email: updated.Email, IsActive: updated.IsActive})
		c.JSON(http.StatusOK, toTenantResponse(updated))
	}
}

// handleDeleteTenant はテナント削除を処理するハンドラを返す。
func (s *Server) handleDeleteTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		n, err := s.queries.DeleteTenant(c.Request.Context(), id)
		if err != nil {
			s.log.Error("テナント削除エラー", "tenant_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テナントの削除に失敗しました"})
			return
		}
		if n == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "テナントが見つかりません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "テナントを削除しました"})
	}
}

// changeTemplateRequest はテンプレート切り替えリクエストのJSON構造。
type changeTemplateRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
}

// handleChangeTemplate はテナントのテンプレート切り替えを処理するハンドラを返す。
// テナントのサイドバー上書き設定はそのまま保持する。
func (s *Server) handleChangeTemplate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changeTemplateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "template_idが必要です"})
			return
		}
		t, ok := s.lookupTenant(c, c.Param("id"))
		if !ok {
			return
		}

		ctx := c.Request.Context()
		if _, err := s.queries.GetTemplateByID(ctx, req.TemplateID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "テンプレートが存在しません"})
				return
			}
			s.log.Error("テンプレート取得エラー", "template_id", req.TemplateID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テンプレートの切り替えに失敗しました"})
			return
		}
		if err := s.queries.UpdateTenantTemplate(ctx, t.ID, req.TemplateID, s.now()); err != nil {
			s.log.Error("テンプレート切り替えエラー", "tenant_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テンプレートの切り替えに失敗しました"})
			return
		}
		updated, ok := s.lookupTenant(c, t.ID)
		if !ok {
			return
		}
		s.publisher.Emit(ctx, t.ID, t.ID, event.AggregateTypeTenant, event.TypeTenantTemplateChanged,
			event.TenantTemplateChangedData{PreviousTemplateID: t.TemplateID, TemplateID: req.TemplateID})
		c.JSON(http.StatusOK, toTenantResponse(updated))
	}
}

// handleGetCurrentTenant は呼び出し元のテナントを返すハンドラを返す。
func (s *Server) handleGetCurrentTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := s.lookupTenant(c, middleware.TenantID(c))
		if !ok {
			return
		}
		tpl, err := s.queries.GetTemplateByID(c.Request.Context(), t.TemplateID)
		if err != nil {
			s.log.Error("テンプレート取得エラー", "tenant_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テナントの取得に失敗しました"})
			return
		}
		resp := toTenantResponse(t)
		resp.TemplateName = tpl.DisplayName
		c.JSON(http.StatusOK, resp)
	}
}
