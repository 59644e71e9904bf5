package gateway

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/tenantdesk/pkg/httpclient"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// impersonateRequest はなりすまし対象のテナント指定。
type impersonateRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
}

// tenantSummary はテナントサービスが返すテナント情報のうち必要な項目。
type tenantSummary struct {
	ID       string `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// pickImpersonationTarget はOWNER、ADMIN、その他の順で最初のユーザーを選ぶ。
// usersは作成日時順で渡される前提。
func pickImpersonationTarget(users []tenantUser) (tenantUser, bool) {
	for _, role := range []middleware.Role{middleware.RoleOwner, middleware.RoleAdmin} {
		for _, u := range users {
			if middleware.Role(u.Role) == role {
				return u, true
			}
		}
	}
	if len(users) > 0 {
		return users[0], true
	}
	return tenantUser{}, false
}

// handleImpersonate はスーパー管理者がテナントユーザーとしてのトークンを取得するハンドラを返す。
func (s *Server) handleImpersonate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req impersonateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_idは必須です"})
			return
		}
		ctx := c.Request.Context()
		admin, _ := middleware.GetIdentity(c)
		path := "/api/v1/internal/tenants/" + url.PathEscape(req.TenantID)

		var tenant tenantSummary
		if err := s.tenants.GetJSON(ctx, path, &tenant); err != nil {
			if httpclient.IsStatus(err, http.StatusNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "テナントが見つかりません"})
				return
			}
			s.log.Error("テナント取得エラー", "tenant_id", req.TenantID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "テナントサービスとの通信に失敗しました"})
			return
		}
		if !tenant.IsActive {
			c.JSON(http.StatusForbidden, gin.H{"error": "テナントが無効化されています"})
			return
		}

		var users []tenantUser
		if err := s.tenants.GetJSON(ctx, path+"/users", &users); err != nil {
			s.log.Error("ユーザー一覧取得エラー", "tenant_id", tenant.ID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "テナントサービスとの通信に失敗しました"})
			return
		}
		target, ok := pickImpersonationTarget(users)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "テナントにユーザーが存在しません"})
			return
		}

		id := tenantIdentity(target)
		id.TenantID = tenant.ID
		id.TenantSlug = tenant.Slug
		id.ImpersonatedBy = admin.UserID
		s.log.Info("なりすましトークンを発行しました",
			"super_admin_id", admin.UserID, "tenant_id", tenant.ID, "user_id", target.ID)
		s.issue(c, id, target.Name)
	}
}
