package tenant

import (
	"net/http"
	"testing"

	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// TestAuthenticate は内部認証APIを検証する。
func TestAuthenticate(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	tenantID, ownerID := setupTenantWithOwner(t, s, "auth")

	t.Run("正しい資格情報", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/internal/authenticate", "", authenticateRequest{Email: "OWNER@auth.fr", Password: "password123"})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコードが200であるべき: got %d, body=%s", w.Code, w.Body.String())
		}
		var u authenticatedUser
		decode(t, w, &u)
		if u.ID != ownerID || u.TenantID != tenantID || u.TenantSlug != "auth" || u.Role != "OWNER" {
			t.Errorf("認証結果が不正: %+v", u)
		}
		stored, err := s.queries.GetUserByID(t.Context(), ownerID)
		if err != nil {
			t.Fatalf("ユーザーの取得に失敗: %v", err)
		}
		if stored.LastLoginAt == nil {
			t.Error("last_login_atが更新されるべき")
		}
	})

	t.Run("誤ったパスワードと未知のメールは401", func(t *testing.T) {
		for _, req := range []authenticateRequest{
			{Email: "owner@auth.fr", Password: "wrong-password"},
			{Email: "nobody@auth.fr", Password: "password123"},
		} {
			w := doJSON(t, s, http.MethodPost, "/api/v1/internal/authenticate", "", req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("%s: ステータスコードが401であるべき: got %d", req.Email, w.Code)
			}
		}
	})

	t.Run("無効なテナントは401", func(t *testing.T) {
		inactive := false
		if w := doJSON(t, s, http.MethodPut, "/api/v1/admin/tenants/"+tenantID, superAdminToken(t), updateTenantRequest{IsActive: &inactive}); w.Code != http.StatusOK {
			t.Fatalf("テナント無効化に失敗: %d", w.Code)
		}
		w := doJSON(t, s, http.MethodPost, "/api/v1/internal/authenticate", "", authenticateRequest{Email: "owner@auth.fr", Password: "password123"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコードが401であるべき: got %d", w.Code)
		}
	})
}

// TestInternalTenantLookup は内部テナント参照APIを検証する。
func TestInternalTenantLookup(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	tenantID, ownerID := setupTenantWithOwner(t, s, "lookup")
	ownerToken := memberToken(t, ownerID, tenantID, middleware.RoleOwner)
	createTestUser(t, s, ownerToken, "admin@lookup.fr", middleware.RoleAdmin)
	createTestUser(t, s, ownerToken, "viewer@lookup.fr", middleware.RoleViewer)

	w := doJSON(t, s, http.MethodGet, "/api/v1/internal/tenants/by-slug/lookup", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("スラッグ参照は200であるべき: got %d", w.Code)
	}
	var tn tenantResponse
	decode(t, w, &tn)
	if tn.ID != tenantID {
		t.Errorf("テナントIDが一致するべき: got %s", tn.ID)
	}

	if w := doJSON(t, s, http.MethodGet, "/api/v1/internal/tenants/by-slug/missing", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("未知のスラッグは404であるべき: got %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/api/v1/internal/tenants/"+tenantID, "", nil); w.Code != http.StatusOK {
		t.Errorf("ID参照は200であるべき: got %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/internal/tenants/"+tenantID+"/users?roles=OWNER,ADMIN", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ユーザー一覧は200であるべき: got %d", w.Code)
	}
	var users []userResponse
	decode(t, w, &users)
	if len(users) != 2 {
		t.Errorf("OWNERとADMINの2件であるべき: got %d", len(users))
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/internal/tenants/"+tenantID+"/users", "", nil)
	decode(t, w, &users)
	if len(users) != 3 {
		t.Errorf("ロール未指定は全有効ユーザーの3件であるべき: got %d", len(users))
	}
}
