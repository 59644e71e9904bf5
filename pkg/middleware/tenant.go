package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Role はテナント内のユーザーロール。
type Role string

const (
	// RoleOwner はテナントの所有者。
	RoleOwner Role = "OWNER"
	// RoleAdmin はテナントの管理者。
	RoleAdmin Role = "ADMIN"
	// RoleEditor はコンテンツ編集者。
	RoleEditor Role = "EDITOR"
	// RoleViewer は閲覧のみ可能なユーザー。
	RoleViewer Role = "VIEWER"
)

// roleRank はロールの序列。大きいほど強い権限を持つ。
var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// Valid は定義済みのロールかを返す。
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast はロールがfloor以上の権限を持つかを返す。
func (r Role) AtLeast(floor Role) bool {
	return roleRank[r] >= roleRank[floor]
}

// contextKeyTenantID は解決済みテナントIDのコンテキストキー。
const contextKeyTenantID = "tenant_id"

// ResolveTenant はリクエストの対象テナントを解決する。
// テナントユーザーは常に自身のテナント、スーパー管理者はtenant_idクエリパラメータ（未指定なら空）を返す。
func ResolveTenant(c *gin.Context) (tenantID string, isSuperAdmin bool) {
	id, ok := GetIdentity(c)
	if !ok {
		return "", false
	}
	if id.IsSuperAdmin() {
		return c.Query("tenant_id"), true
	}
	return id.TenantID, false
}

// RequireTenant は対象テナントが確定していることを要求するミドルウェアを返す。
// 解決したテナントIDはTenantIDで取得できる。
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetIdentity(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "認証が必要です"})
			return
		}
		tenantID, superAdmin := ResolveTenant(c)
		if tenantID == "" {
			if superAdmin {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tenant_idパラメータが必要です"})
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "テナントに所属していません"})
			return
		}
		c.Set(contextKeyTenantID, tenantID)
		c.Next()
	}
}

// TenantID はRequireTenantが解決したテナントIDを返す。
func TenantID(c *gin.Context) string {
	v, _ := c.Get(contextKeyTenantID)
	if id, ok := v.(string); ok {
		return id
	}
	return ""
}

// RequireSuperAdmin はスーパー管理者のみを通すミドルウェアを返す。
func RequireSuperAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "認証が必要です"})
			return
		}
		if !id.IsSuperAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "スーパー管理者権限が必要です"})
			return
		}
		c.Next()
	}
}

// RequireRole はテナントユーザーにfloor以上のロールを要求するミドルウェアを返す。
// スーパー管理者は常に通過する。
func RequireRole(floor Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "認証が必要です"})
			return
		}
		if !id.IsSuperAdmin() && !id.Role.AtLeast(floor) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "権限が不足しています"})
			return
		}
		c.Next()
	}
}
