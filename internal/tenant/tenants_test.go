package tenant

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/httpclient"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// TestValidSlug はスラッグ形式の検証を確認する。
func TestValidSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		slug string
		want bool
	}{
		{"salon-paris", true},
		{"abc", true},
		{"a1b", true},
		{"ab", false},
		{"-salon", false},
		{"salon-", false},
		{"Salon", false},
		{"salon_paris", false},
		{"a23456789012345678901234567890123456789012345678z", true},
		{"a234567890123456789012345678901234567890123456789z", true},
		{"a2345678901234567890123456789012345678901234567890z", false},
	}
	for _, tt := range tests {
		if got := ValidSlug(tt.slug); got != tt.want {
			t.Errorf("ValidSlug(%q) = %v, want %v", tt.slug, got, tt.want)
		}
	}
}

// TestCreateTenant はテナント作成の検証とエラーを確認する。
func TestCreateTenant(t *testing.T) {
	t.Parallel()

	t.Run("オーナー付きで作成できる", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)
		w := doJSON(t, s, http.MethodPost, "/api/v1/admin/tenants", superAdminToken(t), createTenantRequest{
			Name:       "Salon Lumière",
			Email:      "contact@lumiere.fr",
			Slug:       "lumiere",
			TemplateID: templateID(t, s, "beauty"),
			Owner:      &ownerRequest{Email: "Owner@Lumiere.fr", Password: "password123", Name: "Alice"},
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコードが201であるべき: got %d, body=%s", w.Code, w.Body.String())
		}
		var resp struct {
			Tenant tenantResponse `json:"tenant"`
			Owner  userResponse   `json:"owner"`
		}
		decode(t, w, &resp)
		if resp.Tenant.Slug != "lumiere" || !resp.Tenant.IsActive {
			t.Errorf("作成したテナントが不正: %+v", resp.Tenant)
		}
		if resp.Owner.Role != "OWNER" || resp.Owner.Email != "owner@lumiere.fr" {
			t.Errorf("オーナーが不正: %+v", resp.Owner)
		}
	})

	t.Run("入力エラー", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)
		tplID := templateID(t, s, "corporate")
		tests := []struct {
			name string
			req  createTenantRequest
			want int
		}{
			{"必須項目不足", createTenantRequest{Name: "x", Slug: "abc", TemplateID: tplID}, http.StatusBadRequest},
			{"スラッグ形式不正", createTenantRequest{Name: "x", Email: "a@b.c", Slug: "A!", TemplateID: tplID}, http.StatusBadRequest},
			{"未知のテンプレート", createTenantRequest{Name: "x", Email: "a@b.c", Slug: "abc", TemplateID: "missing"}, http.StatusBadRequest},
			{"短いオーナーパスワード", createTenantRequest{Name: "x", Email: "a@b.c", Slug: "abc", TemplateID: tplID,
				Owner: &ownerRequest{Email: "o@b.c", Password: "short"}}, http.StatusBadRequest},
		}
		for _, tt := range tests {
			w := doJSON(t, s, http.MethodPost, "/api/v1/admin/tenants", superAdminToken(t), tt.req)
			if w.Code != tt.want {
				t.Errorf("%s: ステータスコードが%dであるべき: got %d", tt.name, tt.want, w.Code)
			}
		}
	})

	t.Run("スラッグ重複は409", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)
		createTestTenant(t, s, "dup-slug", "blog", nil)
		w := doJSON(t, s, http.MethodPost, "/api/v1/admin/tenants", superAdminToken(t), createTenantRequest{
			Name: "Other", Email: "other@example.com", Slug: "dup-slug", TemplateID: templateID(t, s, "blog"),
		})
		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコードが409であるべき: got %d", w.Code)
		}
	})

	t.Run("オーナーのメール重複は409でテナントも作られない", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)
		createTestTenant(t, s, "first", "blog", &ownerRequest{Email: "same@example.com", Password: "password123"})
		w := doJSON(t, s, http.MethodPost, "/api/v1/admin/tenants", superAdminToken(t), createTenantRequest{
			Name: "Second", Email: "second@example.com", Slug: "second", TemplateID: templateID(t, s, "blog"),
			Owner: &ownerRequest{Email: "same@example.com", Password: "password123"},
		})
		if w.Code != http.StatusConflict {
			t.Fatalf("ステータスコードが409であるべき: got %d", w.Code)
		}
		if _, err := s.queries.GetTenantBySlug(t.Context(), "second"); err == nil {
			t.Error("トランザクションがロールバックされテナントが存在しないべき")
		}
	})

	t.Run("テナントユーザーは403", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)
		w := doJSON(t, s, http.MethodPost, "/api/v1/admin/tenants", memberToken(t, "u1", "t1", middleware.RoleOwner), createTenantRequest{})
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコードが403であるべき: got %d", w.Code)
		}
	})
}

// TestCreateTenantPublishesEvents はテナント作成時のイベント送信を検証する。
func TestCreateTenantPublishesEvents(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []event.AppendRequest
	)
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req event.AppendRequest
		if err := json.Unmarshal(body, &req); err == nil {
			mu.Lock()
			received = append(received, req)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(store.Close)

	s := setupTestServerWithPublisher(t, event.NewPublisher(httpclient.New(store.URL), logger.NewNop()))
	tenantID := createTestTenant(t, s, "events", "beauty", &ownerRequest{Email: "o@events.fr", Password: "password123"})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("イベントが2件送信されるべき: got %d", len(received))
	}
	if received[0].EventType != event.TypeTenantCreated || received[0].TenantID != tenantID {
		t.Errorf("1件目がTenantCreatedであるべき: %+v", received[0])
	}
	if received[1].EventType != event.TypeUserCreated {
		t.Errorf("2件目がUserCreatedであるべき: %+v", received[1])
	}
}

// TestListTenants はユーザー数とテンプレート名付きの一覧取得を検証する。
func TestListTenants(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	createTestTenant(t, s, "alpha", "beauty", &ownerRequest{Email: "o@alpha.fr", Password: "password123"})
	createTestTenant(t, s, "beta", "blog", nil)

	w := doJSON(t, s, http.MethodGet, "/api/v1/admin/tenants", superAdminToken(t), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコードが200であるべき: got %d", w.Code)
	}
	var tenants []tenantResponse
	decode(t, w, &tenants)
	if len(tenants) != 2 {
		t.Fatalf("テナントが2件であるべき: got %d", len(tenants))
	}
	counts := map[string]int64{}
	for _, tn := range tenants {
		if tn.UserCount == nil || tn.TemplateName == "" {
			t.Fatalf("ユーザー数とテンプレート名が含まれるべき: %+v", tn)
		}
		counts[tn.Slug] = *tn.UserCount
	}
	if counts["alpha"] != 1 || counts["beta"] != 0 {
		t.Errorf("ユーザー数が不正: %v", counts)
	}
}

// TestUpdateAndDeleteTenant はテナントの更新と削除を検証する。
func TestUpdateAndDeleteTenant(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	token := superAdminToken(t)
	id := createTestTenant(t, s, "update-me", "corporate", nil)

	inactive := false
	name := "Renamed"
	w := doJSON(t, s, http.MethodPut, "/api/v1/admin/tenants/"+id, token, updateTenantRequest{Name: &name, IsActive: &inactive})
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコードが200であるべき: got %d, body=%s", w.Code, w.Body.String())
	}
	var updated tenantResponse
	decode(t, w, &updated)
	if updated.Name != "Renamed" || updated.IsActive || updated.Email != "update-me@example.com" {
		t.Errorf("指定したフィールドのみ更新されるべき: %+v", updated)
	}

	if w := doJSON(t, s, http.MethodDelete, "/api/v1/admin/tenants/"+id, token, nil); w.Code != http.StatusOK {
		t.Fatalf("削除のステータスコードが200であるべき: got %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/api/v1/admin/tenants/"+id, token, nil); w.Code != http.StatusNotFound {
		t.Errorf("削除後は404であるべき: got %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodDelete, "/api/v1/admin/tenants/"+id, token, nil); w.Code != http.StatusNotFound {
		t.Errorf("再削除は404であるべき: got %d", w.Code)
	}
}

// TestChangeTemplate はテンプレート切り替えで上書き設定が保持されることを検証する。
func TestChangeTemplate(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	token := superAdminToken(t)
	id := createTestTenant(t, s, "switcher", "corporate", nil)

	if w := doJSON(t, s, http.MethodPost, "/api/v1/admin/tenants/"+id+"/sidebar", token, sidebarElementRequest{ElementID: "galerie"}); w.Code != http.StatusCreated {
		t.Fatalf("要素追加に失敗: %d %s", w.Code, w.Body.String())
	}

	w := doJSON(t, s, http.MethodPut, "/api/v1/admin/tenants/"+id+"/template", token, changeTemplateRequest{TemplateID: templateID(t, s, "blog")})
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコードが200であるべき: got %d, body=%s", w.Code, w.Body.String())
	}

	overrides, err := s.queries.ListSidebarOverrides(t.Context(), id)
	if err != nil {
		t.Fatalf("上書き設定の取得に失敗: %v", err)
	}
	if len(overrides) != 1 || overrides[0].ElementID != "galerie" {
		t.Errorf("上書き設定が保持されるべき: %+v", overrides)
	}

	w = doJSON(t, s, http.MethodPut, "/api/v1/admin/tenants/"+id+"/template", token, changeTemplateRequest{TemplateID: "missing"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("未知のテンプレートは400であるべき: got %d", w.Code)
	}
}

// TestAddElementAfterTemplateChange はテンプレート変更前に削除した要素を変更後に追加すると
// カタログ要素として表示されることを検証する。
func TestAddElementAfterTemplateChange(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	token := superAdminToken(t)
	id := createTestTenant(t, s, "stale-remove", "corporate", nil)
	base := "/api/v1/admin/tenants/" + id + "/sidebar"

	if w := doJSON(t, s, http.MethodDelete, base+"?element_id=equipe", token, nil); w.Code != http.StatusOK {
		t.Fatalf("要素削除に失敗: %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, s, http.MethodPut, "/api/v1/admin/tenants/"+id+"/template", token, changeTemplateRequest{TemplateID: templateID(t, s, "blog")}); w.Code != http.StatusOK {
		t.Fatalf("テンプレート変更に失敗: %d %s", w.Code, w.Body.String())
	}

	w := doJSON(t, s, http.MethodPost, base, token, sidebarElementRequest{ElementID: "equipe"})
	if w.Code != http.StatusCreated {
		t.Fatalf("ステータスコードが201であるべき: got %d, body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		CurrentElements []SidebarElement `json:"current_elements"`
	}
	decode(t, w, &resp)
	found := false
	for _, e := range resp.CurrentElements {
		if e.ID == "equipe" {
			found = true
			if e.IsFromTemplate {
				t.Error("カタログから追加した要素はテンプレート要素ではないべき")
			}
		}
	}
	if !found {
		t.Fatalf("追加した要素がサイドバーに含まれるべき: %+v", resp.CurrentElements)
	}

	overrides, err := s.queries.ListSidebarOverrides(t.Context(), id)
	if err != nil {
		t.Fatalf("上書き設定の取得に失敗: %v", err)
	}
	if len(overrides) != 1 || overrides[0].Action != "ADD" {
		t.Errorf("REMOVE上書きがADD上書きに置き換わるべき: %+v", overrides)
	}

	if w := doJSON(t, s, http.MethodPost, base, token, sidebarElementRequest{ElementID: "equipe"}); w.Code != http.StatusBadRequest {
		t.Errorf("再追加は400であるべき: got %d", w.Code)
	}
}

// TestGetCurrentTenant は呼び出し元テナントの取得を検証する。
func TestGetCurrentTenant(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)
	id := createTestTenant(t, s, "current", "wellness", nil)

	w := doJSON(t, s, http.MethodGet, "/api/v1/tenant/current", memberToken(t, "u1", id, middleware.RoleViewer), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコードが200であるべき: got %d", w.Code)
	}
	var resp tenantResponse
	decode(t, w, &resp)
	if resp.ID != id || resp.TemplateName != "Bien-être & Fitness" {
		t.Errorf("テナント情報が不正: %+v", resp)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/tenant/current", superAdminToken(t), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("tenant_idのないスーパー管理者は400であるべき: got %d", w.Code)
	}
	w = doJSON(t, s, http.MethodGet, "/api/v1/tenant/current?tenant_id="+id, superAdminToken(t), nil)
	if w.Code != http.StatusOK {
		t.Errorf("tenant_id指定のスーパー管理者は200であるべき: got %d", w.Code)
	}
}
