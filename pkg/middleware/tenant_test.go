package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// serveWithIdentity はIdentityを注入したうえでmwを通し、ステータスコードと解決済みテナントIDを返す。
func serveWithIdentity(t *testing.T, id *Identity, mw gin.HandlerFunc, target string) (int, string) {
	t.Helper()

	var resolved string
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if id != nil {
			SetIdentity(c, *id)
		}
		c.Next()
	})
	router.Use(mw)
	router.GET("/test", func(c *gin.Context) {
		resolved = TenantID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w.Code, resolved
}

func TestRequireTenant(t *testing.T) {
	t.Parallel()

	tenantUser := tenantIdentity("u1", RoleViewer)
	orphan := Identity{UserID: "u2", UserType: UserTypeTenantUser, Role: RoleViewer}
	admin := superAdminIdentity()

	tests := []struct {
		name       string
		id         *Identity
		target     string
		wantStatus int
		wantTenant string
	}{
		{name: "テナントユーザーは自身のテナントに解決されること", id: &tenantUser, target: "/test?tenant_id=other", wantStatus: http.StatusOK, wantTenant: "tenant-1"},
		{name: "スーパー管理者はクエリのテナントに解決されること", id: &admin, target: "/test?tenant_id=tenant-9", wantStatus: http.StatusOK, wantTenant: "tenant-9"},
		{name: "スーパー管理者がtenant_idを省略すると400になること", id: &admin, target: "/test", wantStatus: http.StatusBadRequest},
		{name: "テナントを持たないテナントユーザーは403になること", id: &orphan, target: "/test", wantStatus: http.StatusForbidden},
		{name: "未認証は401になること", id: nil, target: "/test", wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status, tenant := serveWithIdentity(t, tt.id, RequireTenant(), tt.target)
			if status != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d", status, tt.wantStatus)
			}
			if tenant != tt.wantTenant {
				t.Errorf("TenantID = %q, want %q", tenant, tt.wantTenant)
			}
		})
	}
}

func TestRequireSuperAdmin(t *testing.T) {
	t.Parallel()

	admin := superAdminIdentity()
	owner := tenantIdentity("owner", RoleOwner)

	if status, _ := serveWithIdentity(t, &admin, RequireSuperAdmin(), "/test"); status != http.StatusOK {
		t.Errorf("スーパー管理者: ステータスコード = %d, want %d", status, http.StatusOK)
	}
	if status, _ := serveWithIdentity(t, &owner, RequireSuperAdmin(), "/test"); status != http.StatusForbidden {
		t.Errorf("テナントユーザー: ステータスコード = %d, want %d", status, http.StatusForbidden)
	}
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	admin := superAdminIdentity()
	tests := []struct {
		name       string
		id         Identity
		min        Role
		wantStatus int
	}{
		{name: "OWNERはADMIN要求を通過すること", id: tenantIdentity("o", RoleOwner), min: RoleAdmin, wantStatus: http.StatusOK},
		{name: "ADMINはADMIN要求を通過すること", id: tenantIdentity("a", RoleAdmin), min: RoleAdmin, wantStatus: http.StatusOK},
		{name: "EDITORはADMIN要求で403になること", id: tenantIdentity("e", RoleEditor), min: RoleAdmin, wantStatus: http.StatusForbidden},
		{name: "VIEWERはEDITOR要求で403になること", id: tenantIdentity("v", RoleViewer), min: RoleEditor, wantStatus: http.StatusForbidden},
		{name: "スーパー管理者はOWNER要求を通過すること", id: admin, min: RoleOwner, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status, _ := serveWithIdentity(t, &tt.id, RequireRole(tt.min), "/test")
			if status != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d", status, tt.wantStatus)
			}
		})
	}
}

func TestRoleValid(t *testing.T) {
	t.Parallel()

	for _, r := range []Role{RoleOwner, RoleAdmin, RoleEditor, RoleViewer} {
		if !r.Valid() {
			t.Errorf("%s.Valid() = false, want true", r)
		}
	}
	if Role("GUEST").Valid() {
		t.Error("未定義ロールはValidであってはならない")
	}
}
