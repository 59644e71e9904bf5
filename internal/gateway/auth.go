package gateway

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gatewaydb "github.com/nao1215/tenantdesk/internal/gateway/db"
	"github.com/nao1215/tenantdesk/pkg/httpclient"
	"github.com/nao1215/tenantdesk/pkg/middleware"
	"golang.org/x/crypto/bcrypt"
)

// errInvalidCredentials は資格情報の誤りに対して常に返すメッセージ。
const errInvalidCredentials = "メールアドレスまたはパスワードが正しくありません"

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code"`
}

// userResponse はトークンと一緒に返すユーザー情報。
type userResponse struct {
	ID             string              `json:"id"`
	Email          string              `json:"email"`
	Name           string              `json:"name"`
	UserType       middleware.UserType `json:"user_type"`
	TenantID       string              `json:"tenant_id,omitempty"`
	TenantSlug     string              `json:"tenant_slug,omitempty"`
	Role           middleware.Role     `json:"role,omitempty"`
	ImpersonatedBy string              `json:"impersonated_by,omitempty"`
}

// tokenResponse はトークン発行時のレスポンス。
type tokenResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// tenantUser はテナントサービスが返すユーザー情報。
type tenantUser struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	TenantID   string `json:"tenant_id"`
	TenantSlug string `json:"tenant_slug"`
}

func superAdminIdentity(a gatewaydb.SuperAdmin) middleware.Identity {
	return middleware.Identity{
		UserID:   a.ID,
		Email:    a.Email,
		UserType: middleware.UserTypeSuperAdmin,
	}
}

func tenantIdentity(u tenantUser) middleware.Identity {
	return middleware.Identity{
		UserID:     u.ID,
		Email:      u.Email,
		UserType:   middleware.UserTypeTenantUser,
		TenantID:   u.TenantID,
		TenantSlug: u.TenantSlug,
		Role:       middleware.Role(u.Role),
	}
}

// issue はIdentityからJWTを発行してレスポンスを返す。
func (s *Server) issue(c *gin.Context, id middleware.Identity, name string) {
	token, err := middleware.GenerateJWT(s.jwtSecret, id)
	if err != nil {
		s.log.Error("トークン生成エラー", "user_id", id.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの生成に失敗しました"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		Token: token,
		User: userResponse{
			ID:             id.UserID,
			Email:          id.Email,
			Name:           name,
			UserType:       id.UserType,
			TenantID:       id.TenantID,
			TenantSlug:     id.TenantSlug,
			Role:           id.Role,
			ImpersonatedBy: id.ImpersonatedBy,
		},
	})
}

// handleLogin はメールアドレスとパスワードでログインするハンドラを返す。
// スーパー管理者をローカルで確認し、該当しなければテナントサービスに問い合わせる。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスとパスワードは必須です"})
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))

		admin, err := s.queries.GetSuperAdminByEmail(c.Request.Context(), email)
		switch {
		case err == nil:
			s.loginSuperAdmin(c, admin, req)
			return
		case !errors.Is(err, sql.ErrNoRows):
			s.log.Error("スーパー管理者取得エラー", "email", email, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログインに失敗しました"})
			return
		}

		var user tenantUser
		err = s.tenants.PostJSON(c.Request.Context(), "/api/v1/internal/authenticate",
			map[string]string{"email": email, "password": req.Password}, &user)
		if err != nil {
			if httpclient.IsStatus(err, http.StatusUnauthorized) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": errInvalidCredentials})
				return
			}
			s.log.Error("テナント認証エラー", "email", email, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "認証サービスとの通信に失敗しました"})
			return
		}
		s.issue(c, tenantIdentity(user), user.Name)
	}
}

// loginSuperAdmin はスーパー管理者のパスワードとTOTPを検証してトークンを発行する。
func (s *Server) loginSuperAdmin(c *gin.Context, admin gatewaydb.SuperAdmin, req loginRequest) {
	if !admin.IsActive || bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errInvalidCredentials})
		return
	}
	if admin.TOTPEnabled {
		if req.TOTPCode == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":         "二要素認証コードが必要です",
				"totp_required": true,
			})
			return
		}
		if !s.validateTOTP(req.TOTPCode, admin.TOTPSecret) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "二要素認証コードが正しくありません"})
			return
		}
	}
	if err := s.queries.TouchLastLogin(c.Request.Context(), admin.ID, s.now()); err != nil {
		s.log.Warn("最終ログイン日時の更新に失敗", "user_id", admin.ID, "error", err)
	}
	s.issue(c, superAdminIdentity(admin), admin.Name)
}

// handleDevToken は開発環境向けにスーパー管理者のトークンを発行するハンドラを返す。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.development {
			c.JSON(http.StatusNotFound, gin.H{"error": "見つかりません"})
			return
		}
		admin, err := s.queries.GetFirstSuperAdmin(c.Request.Context())
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "スーパー管理者が登録されていません"})
			return
		}
		if err != nil {
			s.log.Error("スーパー管理者取得エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの生成に失敗しました"})
			return
		}
		s.issue(c, superAdminIdentity(admin), admin.Name)
	}
}

// profileResponse はスーパー管理者のプロフィール。
type profileResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	TOTPEnabled bool       `json:"totp_enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.GetIdentity(c)
		if !id.IsSuperAdmin() {
			c.JSON(http.StatusOK, gin.H{"identity": id})
			return
		}

		admin, err := s.queries.GetSuperAdminByID(c.Request.Context(), id.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			s.log.Error("スーパー管理者取得エラー", "user_id", id.UserID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"identity": id,
			"profile": profileResponse{
				ID:          admin.ID,
				Email:       admin.Email,
				Name:        admin.Name,
				TOTPEnabled: admin.TOTPEnabled,
				CreatedAt:   admin.CreatedAt,
				LastLoginAt: admin.LastLoginAt,
			},
		})
	}
}
