package eventstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// testSecret はテスト用のJWTシークレット。
const testSecret = "eventstore-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はテスト用のサーバーをインメモリSQLiteで構築するヘルパー関数。
// 各テストケースで独立したデータベースを使用するため、テスト間の干渉が発生しない。
func setupTestServer(t *testing.T) *Server {
	t.Helper()
	return setupTestServerWithToken(t, "")
}

// setupTestServerWithToken は内部トークンを設定したテスト用サーバーを構築する。
func setupTestServerWithToken(t *testing.T, internalToken string) *Server {
	t.Helper()

	sqlDB, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("インメモリSQLiteの接続に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	return newServer(sqlDB, &config.Config{
		Port:          "0",
		JWTSecret:     testSecret,
		InternalToken: internalToken,
	}, logger.NewNop())
}

// appendTestEvent はテスト用にイベントをPOSTするヘルパー関数。
func appendTestEvent(t *testing.T, s *Server, tenantID, aggregateID string, eventType event.Type, data map[string]any) *httptest.ResponseRecorder {
	t.Helper()

	dataJSON, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("テストデータのJSON変換に失敗: %v", err)
	}
	return postEvent(t, s, appendEventRequest{
		AggregateID:   aggregateID,
		AggregateType: string(event.AggregateTypeAppointment),
		EventType:     string(eventType),
		TenantID:      tenantID,
		Data:          dataJSON,
	})
}

// postEvent は任意の追記リクエストをPOSTする。
func postEvent(t *testing.T, s *Server, reqBody any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("リクエストボディのJSON変換に失敗: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// doGet はGETリクエストを実行する。tokenが空でない場合はBearerトークンを付与する。
func doGet(s *Server, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// decodeEvents はレスポンスをイベント配列にデコードする。
func decodeEvents(t *testing.T, w *httptest.ResponseRecorder) []event.Event {
	t.Helper()
	var events []event.Event
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("レスポンスのJSONデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return events
}

// tokenFor はテスト用のJWTを生成する。
func tokenFor(t *testing.T, id middleware.Identity) string {
	t.Helper()
	tok, err := middleware.GenerateJWT(testSecret, id)
	if err != nil {
		t.Fatalf("JWTの生成に失敗: %v", err)
	}
	return tok
}

// TestHealthCheck はヘルスチェックエンドポイントの正常動作を検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	w := doGet(s, "/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
	}
	if resp["status"] != "ok" || resp["service"] != "eventstore" {
		t.Errorf("resp = %v", resp)
	}
}

// TestHandleAppendEvent はイベント追記ハンドラの各パターンを検証する。
func TestHandleAppendEvent(t *testing.T) {
	t.Parallel()

	t.Run("正常にイベントを追記できる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		w := appendTestEvent(t, s, "tenant-1", "appt-1", event.TypeAppointmentBooked, map[string]any{
			"appointment_id": "appt-1",
			"client_name":    "Jeanne",
		})

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d; 期待値 = %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}
		var resp event.Event
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
		}
		if resp.AggregateID != "appt-1" || resp.TenantID != "tenant-1" {
			t.Errorf("resp = %+v", resp)
		}
		if resp.Version != 1 || resp.Seq != 1 {
			t.Errorf("version = %d, seq = %d; 期待値 = 1, 1", resp.Version, resp.Seq)
		}
		if resp.ID == "" || resp.CreatedAt.IsZero() {
			t.Error("id または created_at が設定されていない")
		}
		var data map[string]any
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			t.Fatalf("dataのデコードに失敗: %v", err)
		}
		if data["client_name"] != "Jeanne" {
			t.Errorf("data = %v", data)
		}
	})

	t.Run("バージョンはAggregateごとに自動インクリメントされる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		appendTestEvent(t, s, "t", "agg-a", event.TypeAppointmentBooked, map[string]any{})
		appendTestEvent(t, s, "t", "agg-b", event.TypeAppointmentBooked, map[string]any{})
		w := appendTestEvent(t, s, "t", "agg-a", event.TypeAppointmentConfirmed, map[string]any{})

		var resp event.Event
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
		}
		if resp.Version != 2 {
			t.Errorf("version = %d; 期待値 = 2", resp.Version)
		}
		if resp.Seq != 3 {
			t.Errorf("seq = %d; 期待値 = 3", resp.Seq)
		}
	})

	t.Run("expected_versionが一致する場合は追記できる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		v := int64(1)
		w := postEvent(t, s, appendEventRequest{
			AggregateID: "c-1", AggregateType: "Client", EventType: "ClientCreated",
			Data: json.RawMessage(`{}`), ExpectedVersion: &v,
		})
		if w.Code != http.StatusCreated {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusCreated)
		}
	})

	t.Run("expected_versionが競合する場合は409を返す", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		appendTestEvent(t, s, "t", "agg-1", event.TypeAppointmentBooked, map[string]any{})

		v := int64(1)
		w := postEvent(t, s, appendEventRequest{
			AggregateID: "agg-1", AggregateType: "Appointment", EventType: "AppointmentConfirmed",
			Data: json.RawMessage(`{}`), ExpectedVersion: &v,
		})
		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusConflict)
		}

		latest := doGet(s, "/api/v1/events/aggregate/agg-1/version", "")
		var body map[string]any
		_ = json.Unmarshal(latest.Body.Bytes(), &body)
		if body["version"] != float64(1) {
			t.Errorf("競合後のversion = %v; 期待値 = 1", body["version"])
		}
	})

	t.Run("必須フィールドが欠けている場合は400エラーを返す", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			body map[string]any
		}{
			{name: "aggregate_idなし", body: map[string]any{"aggregate_type": "Client", "event_type": "ClientCreated", "data": map[string]any{}}},
			{name: "aggregate_typeなし", body: map[string]any{"aggregate_id": "a", "event_type": "ClientCreated", "data": map[string]any{}}},
			{name: "event_typeなし", body: map[string]any{"aggregate_id": "a", "aggregate_type": "Client", "data": map[string]any{}}},
			{name: "dataなし", body: map[string]any{"aggregate_id": "a", "aggregate_type": "Client", "event_type": "ClientCreated"}},
			{name: "未知のaggregate_type", body: map[string]any{"aggregate_id": "a", "aggregate_type": "Album", "event_type": "X", "data": map[string]any{}}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				s := setupTestServer(t)
				w := postEvent(t, s, tc.body)
				if w.Code != http.StatusBadRequest {
					t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusBadRequest)
				}
			})
		}
	})

	t.Run("内部トークンが一致しない場合は401を返す", func(t *testing.T) {
		t.Parallel()

		s := setupTestServerWithToken(t, "internal-secret")
		w := appendTestEvent(t, s, "t", "agg-1", event.TypeClientCreated, map[string]any{})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestQueryEndpoints はイベント取得系エンドポイントを検証する。
func TestQueryEndpoints(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) *Server {
		t.Helper()
		s := setupTestServer(t)
		appendTestEvent(t, s, "tenant-1", "appt-1", event.TypeAppointmentBooked, map[string]any{"n": 1})
		appendTestEvent(t, s, "tenant-1", "appt-1", event.TypeAppointmentConfirmed, map[string]any{"n": 2})
		appendTestEvent(t, s, "tenant-2", "appt-2", event.TypeAppointmentBooked, map[string]any{"n": 3})
		return s
	}

	t.Run("AggregateIDに紐づくイベントをバージョン順に取得できる", func(t *testing.T) {
		t.Parallel()

		events := decodeEvents(t, doGet(setup(t), "/api/v1/events/aggregate/appt-1", ""))
		if len(events) != 2 {
			t.Fatalf("イベント数 = %d; 期待値 = 2", len(events))
		}
		if events[0].Version != 1 || events[1].Version != 2 {
			t.Errorf("versions = %d, %d", events[0].Version, events[1].Version)
		}
	})

	t.Run("存在しないAggregateIDの場合は空配列を返す", func(t *testing.T) {
		t.Parallel()

		w := doGet(setup(t), "/api/v1/events/aggregate/missing", "")
		if w.Body.String() != "[]" {
			t.Errorf("body = %s; 期待値 = []", w.Body.String())
		}
	})

	t.Run("イベントタイプで複数Aggregateにまたがって取得できる", func(t *testing.T) {
		t.Parallel()

		events := decodeEvents(t, doGet(setup(t), "/api/v1/events/type/AppointmentBooked", ""))
		if len(events) != 2 {
			t.Fatalf("イベント数 = %d; 期待値 = 2", len(events))
		}
	})

	t.Run("seq以降のイベントを取得できる", func(t *testing.T) {
		t.Parallel()

		events := decodeEvents(t, doGet(setup(t), "/api/v1/events/after?seq=1", ""))
		if len(events) != 2 {
			t.Fatalf("イベント数 = %d; 期待値 = 2", len(events))
		}
		if events[0].Seq != 2 || events[1].Seq != 3 {
			t.Errorf("seqs = %d, %d", events[0].Seq, events[1].Seq)
		}
	})

	t.Run("limitで件数を制限できる", func(t *testing.T) {
		t.Parallel()

		events := decodeEvents(t, doGet(setup(t), "/api/v1/events/after?seq=0&limit=1", ""))
		if len(events) != 1 || events[0].Seq != 1 {
			t.Errorf("events = %+v", events)
		}
	})

	t.Run("不正なseqやlimitは400を返す", func(t *testing.T) {
		t.Parallel()

		s := setup(t)
		for _, path := range []string{"/api/v1/events/after?seq=-1", "/api/v1/events/after?seq=x", "/api/v1/events/after?limit=0"} {
			if w := doGet(s, path, ""); w.Code != http.StatusBadRequest {
				t.Errorf("%s: ステータスコード = %d; 期待値 = %d", path, w.Code, http.StatusBadRequest)
			}
		}
	})

	t.Run("指定日時以降のイベントを取得できる", func(t *testing.T) {
		t.Parallel()

		s := setup(t)
		past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
		if events := decodeEvents(t, doGet(s, "/api/v1/events/since?since="+past, "")); len(events) != 3 {
			t.Errorf("イベント数 = %d; 期待値 = 3", len(events))
		}
		future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		if events := decodeEvents(t, doGet(s, "/api/v1/events/since?since="+future, "")); len(events) != 0 {
			t.Errorf("イベント数 = %d; 期待値 = 0", len(events))
		}
	})

	t.Run("sinceパラメータが欠けているか不正な場合は400を返す", func(t *testing.T) {
		t.Parallel()

		s := setup(t)
		for _, path := range []string{"/api/v1/events/since", "/api/v1/events/since?since=2024-01-01"} {
			if w := doGet(s, path, ""); w.Code != http.StatusBadRequest {
				t.Errorf("%s: ステータスコード = %d; 期待値 = %d", path, w.Code, http.StatusBadRequest)
			}
		}
	})

	t.Run("イベントが存在しないAggregateIDのバージョンは0を返す", func(t *testing.T) {
		t.Parallel()

		var body map[string]any
		if err := json.Unmarshal(doGet(setup(t), "/api/v1/events/aggregate/none/version", "").Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
		}
		if body["version"] != float64(0) {
			t.Errorf("version = %v; 期待値 = 0", body["version"])
		}
	})

	t.Run("全イベントをseq昇順で取得できる", func(t *testing.T) {
		t.Parallel()

		events := decodeEvents(t, doGet(setup(t), "/api/v1/events", ""))
		if len(events) != 3 {
			t.Fatalf("イベント数 = %d; 期待値 = 3", len(events))
		}
		for i, e := range events {
			if e.Seq != int64(i+1) {
				t.Errorf("events[%d].Seq = %d", i, e.Seq)
			}
		}
	})
}

// TestHandleListAudit は監査ログ一覧を検証する。
func TestHandleListAudit(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	for i := range 3 {
		appendTestEvent(t, s, "tenant-1", fmt.Sprintf("c-%d", i), event.TypeClientCreated, map[string]any{})
	}
	appendTestEvent(t, s, "tenant-1", "c-0", event.TypeClientUpdated, map[string]any{})
	appendTestEvent(t, s, "tenant-2", "c-9", event.TypeClientCreated, map[string]any{})

	owner := middleware.Identity{UserID: "u", UserType: middleware.UserTypeTenantUser, TenantID: "tenant-1", Role: middleware.RoleOwner}
	admin := middleware.Identity{UserID: "sa", UserType: middleware.UserTypeSuperAdmin}

	t.Run("自テナントのイベントのみ新しい順に返る", func(t *testing.T) {
		t.Parallel()

		w := doGet(s, "/api/v1/audit", tokenFor(t, owner))
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusOK)
		}
		var resp auditResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
		}
		if resp.Total != 4 || len(resp.Items) != 4 {
			t.Fatalf("total = %d, items = %d; 期待値 = 4", resp.Total, len(resp.Items))
		}
		if resp.Items[0].EventType != event.TypeClientUpdated {
			t.Errorf("先頭のevent_type = %q; 期待値 = %q", resp.Items[0].EventType, event.TypeClientUpdated)
		}
		for _, e := range resp.Items {
			if e.TenantID != "tenant-1" {
				t.Errorf("他テナントのイベントが含まれている: %+v", e)
			}
		}
	})

	t.Run("event_typeで絞り込める", func(t *testing.T) {
		t.Parallel()

		var resp auditResponse
		_ = json.Unmarshal(doGet(s, "/api/v1/audit?event_type=ClientCreated&limit=2", tokenFor(t, owner)).Body.Bytes(), &resp)
		if resp.Total != 3 || len(resp.Items) != 2 || resp.Limit != 2 {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("スーパー管理者はtenant_idを指定して参照できる", func(t *testing.T) {
		t.Parallel()

		var resp auditResponse
		_ = json.Unmarshal(doGet(s, "/api/v1/audit?tenant_id=tenant-2", tokenFor(t, admin)).Body.Bytes(), &resp)
		if resp.Total != 1 {
			t.Errorf("total = %d; 期待値 = 1", resp.Total)
		}
	})

	t.Run("スーパー管理者がtenant_idを省略すると400を返す", func(t *testing.T) {
		t.Parallel()

		if w := doGet(s, "/api/v1/audit", tokenFor(t, admin)); w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("トークンがない場合は401を返す", func(t *testing.T) {
		t.Parallel()

		if w := doGet(s, "/api/v1/audit", ""); w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestInitSchema はマイグレーションの適用を検証する。
func TestInitSchema(t *testing.T) {
	t.Parallel()

	sqlDB, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("インメモリSQLiteの接続に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("initSchema()でエラーが発生: %v", err)
	}
	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("二重初期化でエラーが発生: %v", err)
	}
	var v uint
	if err := sqlDB.QueryRow("SELECT version FROM schema_migrations").Scan(&v); err != nil {
		t.Fatalf("マイグレーションバージョンの取得に失敗: %v", err)
	}
	if v != 1 {
		t.Errorf("version = %d; 期待値 = 1", v)
	}
}
