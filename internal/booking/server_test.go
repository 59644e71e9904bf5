package booking

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/httpclient"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// testSecret はテスト用のJWTシークレット。
const testSecret = "booking-test-secret"

// testNow はテストで固定する現在時刻。2026-03-02（月）08:00 UTC。
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はテスト用のサーバーをインメモリSQLiteで構築するヘルパー関数。
func setupTestServer(t *testing.T) *Server {
	t.Helper()
	return setupTestServerWithDeps(t, dependencies{tenants: httpclient.New("http://127.0.0.1:0")})
}

// setupTestServerWithDeps は依存サービスを指定してテスト用サーバーを構築する。
func setupTestServerWithDeps(t *testing.T, deps dependencies) *Server {
	t.Helper()

	sqlDB, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("インメモリSQLiteの接続に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}
	s := newServer(sqlDB, &config.Config{Port: "0", JWTSecret: testSecret}, logger.NewNop(), deps)
	s.now = func() time.Time { return testNow }
	return s
}

// memberToken はテナントユーザーのJWTを生成する。
func memberToken(t *testing.T, tenantID string, role middleware.Role) string {
	t.Helper()
	tok, err := middleware.GenerateJWT(testSecret, middleware.Identity{
		UserID:   "user-" + strings.ToLower(string(role)),
		Email:    "staff@example.com",
		UserType: middleware.UserTypeTenantUser,
		TenantID: tenantID,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("JWTの生成に失敗: %v", err)
	}
	return tok
}

// doJSON はJSONボディ付きのリクエストを実行する。bodyがnilの場合はボディを付けない。
func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	reader := bytes.NewReader(nil)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("リクエストボディのJSON変換に失敗: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// decode はレスポンスボディをvにデコードする。
func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("レスポンスのJSONデコードに失敗: %v, body=%s", err, w.Body.String())
	}
}

// expectStatus はステータスコードを検証する。
func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("ステータスコードが不正: got=%d, want=%d, body=%s", w.Code, want, w.Body.String())
	}
}

// at は2026-03-04（水）のUTC時刻を返す。パリの営業時間は08:00〜17:00 UTC。
func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 4, hour, minute, 0, 0, time.UTC)
}

// bookTestAppointment はAPI経由で予約を作成し、レスポンスを返す。
func bookTestAppointment(t *testing.T, s *Server, token, name string, start, end time.Time) appointmentResponse {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/appointments", token, map[string]any{
		"client_name": name,
		"start_time":  start,
		"end_time":    end,
	})
	expectStatus(t, w, http.StatusCreated)
	var resp appointmentResponse
	decode(t, w, &resp)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	s := setupTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	expectStatus(t, w, http.StatusOK)

	var resp map[string]string
	decode(t, w, &resp)
	if resp["service"] != "booking" {
		t.Errorf("serviceが不正: got=%s", resp["service"])
	}
}

func TestScopedRoutesRequireTenant(t *testing.T) {
	s := setupTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/clients", "", nil)
	expectStatus(t, w, http.StatusUnauthorized)

	superTok, err := middleware.GenerateJWT(testSecret, middleware.Identity{UserID: "root", UserType: middleware.UserTypeSuperAdmin})
	if err != nil {
		t.Fatalf("JWTの生成に失敗: %v", err)
	}
	w = doJSON(t, s, http.MethodGet, "/api/v1/clients", superTok, nil)
	expectStatus(t, w, http.StatusBadRequest)

	w = doJSON(t, s, http.MethodGet, "/api/v1/clients?tenant_id=t1", superTok, nil)
	expectStatus(t, w, http.StatusOK)
}
