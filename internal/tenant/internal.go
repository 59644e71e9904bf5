package tenant

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tenantdb "github.com/nao1215/tenantdesk/internal/tenant/db"
	"golang.org/x/crypto/bcrypt"
)

// authenticateRequest は内部認証リクエストのJSON構造。
type authenticateRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// authenticatedUser は内部認証に成功したユーザーのJSON表現。
type authenticatedUser struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	TenantID   string `json:"tenant_id"`
	TenantSlug string `json:"tenant_slug"`
}

// handleAuthenticate はテナントユーザーの資格情報を検証するハンドラを返す。
// 失敗理由に関わらず401と同一のメッセージを返す。
func (s *Server) handleAuthenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req authenticateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "emailとpasswordは必須です"})
			return
		}

		ctx := c.Request.Context()
		unauthorized := func() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "メールアドレスまたはパスワードが正しくありません"})
		}

		u, err := s.queries.GetUserByEmail(ctx, normalizeEmail(req.Email))
		if errors.Is(err, sql.ErrNoRows) {
			unauthorized()
			return
		}
		if err != nil {
			s.log.Error("ユーザー取得エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "認証に失敗しました"})
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil || !u.IsActive {
			unauthorized()
			return
		}
		t, err := s.queries.GetTenantByID(ctx, u.TenantID)
		if err != nil {
			s.log.Error("テナント取得エラー", "tenant_id", u.TenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "認証に失敗しました"})
			return
		}
		if !t.IsActive {
			unauthorized()
			return
		}

		if err := s.queries.TouchLastLogin(ctx, u.ID, s.now()); err != nil {
			s.log.Warn("最終ログイン日時の更新に失敗しました", "user_id", u.ID, "error", err)
		}
		c.JSON(http.StatusOK, authenticatedUser{
			ID:         u.ID,
			Email:      u.Email,
			Name:       u.Name,
			Role:       u.Role,
			TenantID:   t.ID,
			TenantSlug: t.Slug,
		})
	}
}

// handleInternalGetTenant はIDによるテナント参照を処理するハンドラを返す。
func (s *Server) handleInternalGetTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := s.lookupTenant(c, c.Param("id"))
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toTenantResponse(t))
	}
}

// handleInternalGetTenantBySlug はスラッグによるテナント参照を処理するハンドラを返す。
func (s *Server) handleInternalGetTenantBySlug() gin.HandlerFunc {
	return func(c *gin.Context) {
		slug := c.Param("slug")
		t, err := s.queries.GetTenantBySlug(c.Request.Context(), slug)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "テナントが見つかりません"})
			return
		}
		if err != nil {
			s.log.Error("テナント取得エラー", "slug", slug, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テナントの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toTenantResponse(t))
	}
}

// handleInternalListUsers はテナントの有効なユーザー一覧を返すハンドラを返す。
// rolesクエリパラメータ（カンマ区切り）でロールを絞り込める。
func (s *Server) handleInternalListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := s.lookupTenant(c, c.Param("id"))
		if !ok {
			return
		}
		users, err := s.queries.ListUsersByTenant(c.Request.Context(), t.ID)
		if err != nil {
			s.log.Error("ユーザー一覧取得エラー", "tenant_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toUserResponses(filterActiveUsers(users, c.Query("roles"))))
	}
}

// filterActiveUsers は有効なユーザーのうちrolesに含まれるロールのユーザーを返す。rolesが空なら全ロール。
func filterActiveUsers(users []tenantdb.TenantUser, roles string) []tenantdb.TenantUser {
	allowed := make(map[string]bool)
	for _, r := range strings.Split(roles, ",") {
		if r = strings.ToUpper(strings.TrimSpace(r)); r != "" {
			allowed[r] = true
		}
	}
	out := make([]tenantdb.TenantUser, 0, len(users))
	for _, u := range users {
		if !u.IsActive {
			continue
		}
		if len(allowed) > 0 && !allowed[u.Role] {
			continue
		}
		out = append(out, u)
	}
	return out
}
