package tenant

import (
	"net/http"
	"testing"

	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// setupTenantWithOwner はオーナー付きのテナントを作成し、テナントIDとオーナーIDを返す。
func setupTenantWithOwner(t *testing.T, s *Server, slug string) (tenantID, ownerID string) {
	t.Helper()
	email := "owner@" + slug + ".fr"
	tenantID = createTestTenant(t, s, slug, "beauty", &ownerRequest{Email: email, Password: "password123", Name: "Owner"})
	u, err := s.queries.GetUserByEmail(t.Context(), email)
	if err != nil {
		t.Fatalf("オーナーの取得に失敗: %v", err)
	}
	return tenantID, u.ID
}

// createTestUser はAPI経由でユーザーを作成し、レスポンスを返す。
func createTestUser(t *testing.T, s *Server, token, email string, role middleware.Role) userResponse {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/users", token, createUserRequest{
		Email: email, Password: "password123", Name: "User", Role: string(role),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("ユーザー作成に失敗: status=%d, body=%s", w.Code, w.Body.String())
	}
	var u userResponse
	decode(t, w, &u)
	return u
}

// TestCreateUser はユーザー作成の権限と検証を確認する。
func TestCreateUser(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	tenantID, ownerID := setupTenantWithOwner(t, s, "users")
	ownerToken := memberToken(t, ownerID, tenantID, middleware.RoleOwner)
	adminToken := memberToken(t, "admin-1", tenantID, middleware.RoleAdmin)
	editorToken := memberToken(t, "editor-1", tenantID, middleware.RoleEditor)

	t.Run("ロール省略はVIEWER", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/users", adminToken, createUserRequest{Email: "viewer@users.fr", Password: "password123"})
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコードが201であるべき: got %d, body=%s", w.Code, w.Body.String())
		}
		var u userResponse
		decode(t, w, &u)
		if u.Role != "VIEWER" || u.TenantID != tenantID {
			t.Errorf("作成したユーザーが不正: %+v", u)
		}
	})

	tests := []struct {
		name  string
		token string
		req   createUserRequest
		want  int
	}{
		{"EDITORは作成できない", editorToken, createUserRequest{Email: "e@users.fr", Password: "password123"}, http.StatusForbidden},
		{"ADMINはOWNERを作成できない", adminToken, createUserRequest{Email: "o2@users.fr", Password: "password123", Role: "OWNER"}, http.StatusForbidden},
		{"OWNERはOWNERを作成できる", ownerToken, createUserRequest{Email: "o3@users.fr", Password: "password123", Role: "OWNER"}, http.StatusCreated},
		{"短いパスワード", adminToken, createUserRequest{Email: "p@users.fr", Password: "1234567"}, http.StatusBadRequest},
		{"不正なメール", adminToken, createUserRequest{Email: "not-an-email", Password: "password123"}, http.StatusBadRequest},
		{"未知のロール", adminToken, createUserRequest{Email: "r@users.fr", Password: "password123", Role: "GOD"}, http.StatusBadRequest},
		{"メール重複", adminToken, createUserRequest{Email: "OWNER@users.fr", Password: "password123"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPost, "/api/v1/users", tt.token, tt.req)
			if w.Code != tt.want {
				t.Errorf("ステータスコードが%dであるべき: got %d, body=%s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

// TestListUsersIsTenantScoped はユーザー一覧がテナントで絞り込まれることを検証する。
func TestListUsersIsTenantScoped(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	tenantA, ownerA := setupTenantWithOwner(t, s, "tenant-a")
	tenantB, ownerB := setupTenantWithOwner(t, s, "tenant-b")
	createTestUser(t, s, memberToken(t, ownerB, tenantB, middleware.RoleOwner), "extra@tenant-b.fr", middleware.RoleEditor)

	w := doJSON(t, s, http.MethodGet, "/api/v1/users", memberToken(t, ownerA, tenantA, middleware.RoleViewer), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコードが200であるべき: got %d", w.Code)
	}
	var users []userResponse
	decode(t, w, &users)
	if len(users) != 1 || users[0].ID != ownerA {
		t.Errorf("自テナントのユーザーのみ返すべき: %+v", users)
	}
}

// TestUpdateUser はユーザー更新とオーナー保護を検証する。
func TestUpdateUser(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	tenantID, ownerID := setupTenantWithOwner(t, s, "update")
	ownerToken := memberToken(t, ownerID, tenantID, middleware.RoleOwner)
	adminToken := memberToken(t, "admin-1", tenantID, middleware.RoleAdmin)
	editor := createTestUser(t, s, ownerToken, "editor@update.fr", middleware.RoleEditor)

	demote := "ADMIN"
	w := doJSON(t, s, http.MethodPut, "/api/v1/users/"+ownerID, ownerToken, updateUserRequest{Role: &demote})
	if w.Code != http.StatusBadRequest {
		t.Errorf("最後のオーナーの降格は400であるべき: got %d", w.Code)
	}
	inactive := false
	w = doJSON(t, s, http.MethodPut, "/api/v1/users/"+ownerID, ownerToken, updateUserRequest{IsActive: &inactive})
	if w.Code != http.StatusBadRequest {
		t.Errorf("最後のオーナーの無効化は400であるべき: got %d", w.Code)
	}

	promote := "OWNER"
	w = doJSON(t, s, http.MethodPut, "/api/v1/users/"+editor.ID, adminToken, updateUserRequest{Role: &promote})
	if w.Code != http.StatusForbidden {
		t.Errorf("ADMINによるOWNER昇格は403であるべき: got %d", w.Code)
	}
	w = doJSON(t, s, http.MethodPut, "/api/v1/users/"+editor.ID, ownerToken, updateUserRequest{Role: &promote})
	if w.Code != http.StatusOK {
		t.Fatalf("OWNERによる昇格は200であるべき: got %d, body=%s", w.Code, w.Body.String())
	}

	// オーナーが2人になったので降格できる
	w = doJSON(t, s, http.MethodPut, "/api/v1/users/"+ownerID, ownerToken, updateUserRequest{Role: &demote})
	if w.Code != http.StatusOK {
		t.Fatalf("2人目のオーナーがいれば降格できるべき: got %d, body=%s", w.Code, w.Body.String())
	}
	var updated userResponse
	decode(t, w, &updated)
	if updated.Role != "ADMIN" {
		t.Errorf("ロールがADMINになるべき: got %s", updated.Role)
	}

	short := "short"
	w = doJSON(t, s, http.MethodPut, "/api/v1/users/"+editor.ID, ownerToken, updateUserRequest{Password: &short})
	if w.Code != http.StatusBadRequest {
		t.Errorf("短いパスワードは400であるべき: got %d", w.Code)
	}
}

// TestUpdateUserOtherTenant は別テナントのユーザーが404になることを検証する。
func TestUpdateUserOtherTenant(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	_, ownerA := setupTenantWithOwner(t, s, "other-a")
	tenantB, ownerB := setupTenantWithOwner(t, s, "other-b")

	name := "hijack"
	w := doJSON(t, s, http.MethodPut, "/api/v1/users/"+ownerA, memberToken(t, ownerB, tenantB, middleware.RoleOwner), updateUserRequest{Name: &name})
	if w.Code != http.StatusNotFound {
		t.Errorf("別テナントのユーザーは404であるべき: got %d", w.Code)
	}
}

// TestDeleteUser はユーザー削除と最後のオーナーの保護を検証する。
func TestDeleteUser(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	tenantID, ownerID := setupTenantWithOwner(t, s, "delete")
	ownerToken := memberToken(t, ownerID, tenantID, middleware.RoleOwner)
	viewer := createTestUser(t, s, ownerToken, "viewer@delete.fr", middleware.RoleViewer)

	if w := doJSON(t, s, http.MethodDelete, "/api/v1/users/"+ownerID, ownerToken, nil); w.Code != http.StatusBadRequest {
		t.Errorf("最後のオーナーの削除は400であるべき: got %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodDelete, "/api/v1/users/"+viewer.ID, ownerToken, nil); w.Code != http.StatusOK {
		t.Errorf("ユーザー削除は200であるべき: got %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodDelete, "/api/v1/users/"+viewer.ID, ownerToken, nil); w.Code != http.StatusNotFound {
		t.Errorf("削除済みユーザーは404であるべき: got %d", w.Code)
	}
}
