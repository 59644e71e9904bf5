package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	eventstoredb "github.com/nao1215/tenantdesk/internal/eventstore/db"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/httpserver"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

const (
	// defaultListLimit は一覧取得の既定件数。
	defaultListLimit = 100
	// maxListLimit は一覧取得の最大件数。
	maxListLimit = 500
)

// ErrVersionConflict は期待バージョンが最新バージョン+1と一致しないことを表す。
var ErrVersionConflict = errors.New("バージョンが競合しています")

// Server はイベントストアサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はイベントテーブルへのクエリ実行オブジェクト。
	queries *eventstoredb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// log はサービスのロガー。
	log *logger.Logger
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// internalToken はサービス間通信用トークン。
	internalToken string
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewServer は新しいイベントストアサーバーを生成する。
// SQLiteデータベースの初期化とマイグレーションを行う。
func NewServer(cfg *config.Config, log *logger.Logger) (*Server, error) {
	sqlDB, err := database.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return newServer(sqlDB, cfg, log), nil
}

// newServer は初期化済みのDBからサーバーを組み立てる。
func newServer(sqlDB *sql.DB, cfg *config.Config, log *logger.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log))

	s := &Server{
		router:        router,
		port:          cfg.Port,
		queries:       eventstoredb.New(sqlDB),
		db:            sqlDB,
		log:           log,
		jwtSecret:     cfg.JWTSecret,
		internalToken: cfg.InternalToken,
		now:           func() time.Time { return time.Now().UTC() },
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまで処理する。
func (s *Server) Run(ctx context.Context) error {
	return httpserver.Serve(ctx, fmt.Sprintf(":%s", s.port), s.router, s.log)
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		events := api.Group("/events")
		events.Use(middleware.InternalAuth(s.internalToken))
		{
			// イベントの追記
			events.POST("", s.handleAppendEvent())
			// 全イベント取得
			events.GET("", s.handleGetAllEvents())
			// AggregateIDによるイベント取得
			events.GET("/aggregate/:aggregate_id", s.handleGetEventsByAggregateID())
			// AggregateIDの最新バージョン取得
			events.GET("/aggregate/:aggregate_id/version", s.handleGetLatestVersion())
			// イベントタイプによるイベント取得
			events.GET("/type/:event_type", s.handleGetEventsByType())
			// 日時指定によるイベント取得（クエリパラメータ: since）
			events.GET("/since", s.handleGetEventsSince())
			// 通番指定によるイベント取得（クエリパラメータ: seq）
			events.GET("/after", s.handleGetEventsAfter())
		}

		audit := api.Group("/audit")
		audit.Use(middleware.JWTAuth(s.jwtSecret), middleware.RequireTenant())
		{
			audit.GET("", s.handleListAudit())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "eventstore"})
	})
}

// appendEventRequest はイベント追記リクエストのJSON構造。
type appendEventRequest struct {
	AggregateID     string          `json:"aggregate_id" binding:"required"`
	AggregateType   string          `json:"aggregate_type" binding:"required"`
	EventType       string          `json:"event_type" binding:"required"`
	TenantID        string          `json:"tenant_id"`
	Data            json.RawMessage `json:"data" binding:"required"`
	ExpectedVersion *int64          `json:"expected_version"`
}

// toEvent はDB行をイベントに変換する。
func toEvent(row eventstoredb.Event) event.Event {
	return event.Event{
		Seq:           row.Seq,
		ID:            row.ID,
		AggregateID:   row.AggregateID,
		AggregateType: event.AggregateType(row.AggregateType),
		EventType:     event.Type(row.EventType),
		TenantID:      row.TenantID,
		Data:          json.RawMessage(row.Data),
		Version:       row.Version,
		CreatedAt:     row.CreatedAt,
	}
}

// toEvents はDB行のスライスをイベントのスライスに変換する。空の場合も空スライスを返す。
func toEvents(rows []eventstoredb.Event) []event.Event {
	out := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, toEvent(r))
	}
	return out
}

// Append はイベントを追記する。
// expectedVersionが指定された場合、最新バージョン+1と一致しなければErrVersionConflictを返す。
func (s *Server) Append(ctx context.Context, req appendEventRequest) (eventstoredb.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eventstoredb.Event{}, fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := s.queries.WithTx(tx)
	latest, err := q.GetLatestVersion(ctx, req.AggregateID)
	if err != nil {
		return eventstoredb.Event{}, fmt.Errorf("最新バージョンの取得に失敗: %w", err)
	}
	next := latest + 1
	if req.ExpectedVersion != nil && *req.ExpectedVersion != next {
		return eventstoredb.Event{}, ErrVersionConflict
	}

	seq, err := q.InsertEvent(ctx, eventstoredb.InsertEventParams{
		ID:            uuid.New().String(),
		AggregateID:   req.AggregateID,
		AggregateType: req.AggregateType,
		EventType:     req.EventType,
		TenantID:      req.TenantID,
		Data:          string(req.Data),
		Version:       next,
		CreatedAt:     s.now(),
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return eventstoredb.Event{}, ErrVersionConflict
		}
		return eventstoredb.Event{}, fmt.Errorf("イベントの追記に失敗: %w", err)
	}

	row, err := q.GetEventBySeq(ctx, seq)
	if err != nil {
		return eventstoredb.Event{}, fmt.Errorf("追記したイベントの取得に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return eventstoredb.Event{}, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return row, nil
}

// handleAppendEvent はイベントの追記を処理するハンドラを返す。
func (s *Server) handleAppendEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req appendEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if !json.Valid(req.Data) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dataは有効なJSONである必要があります"})
			return
		}
		if !event.AggregateType(req.AggregateType).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未知のaggregate_typeです: %s", req.AggregateType)})
			return
		}

		row, err := s.Append(c.Request.Context(), req)
		if errors.Is(err, ErrVersionConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "バージョンが競合しています"})
			return
		}
		if err != nil {
			s.log.Error("イベント追記エラー", "aggregate_id", req.AggregateID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの追記に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, toEvent(row))
	}
}

// handleGetAllEvents は全イベントの取得を処理するハンドラを返す。
func (s *Server) handleGetAllEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset, ok := pagination(c)
		if !ok {
			return
		}
		rows, err := s.queries.ListAllEvents(c.Request.Context(), limit, offset)
		s.respondEvents(c, rows, err)
	}
}

// handleGetEventsByAggregateID はAggregateIDによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByAggregateID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.ListEventsByAggregateID(c.Request.Context(), c.Param("aggregate_id"))
		s.respondEvents(c, rows, err)
	}
}

// handleGetEventsByType はイベントタイプによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByType() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _, ok := pagination(c)
		if !ok {
			return
		}
		rows, err := s.queries.ListEventsByType(c.Request.Context(), c.Param("event_type"), limit)
		s.respondEvents(c, rows, err)
	}
}

// handleGetEventsSince は日時指定によるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsSince() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("since")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceパラメータが必要です"})
			return
		}
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceはRFC3339形式で指定してください"})
			return
		}
		limit, _, ok := pagination(c)
		if !ok {
			return
		}
		rows, err := s.queries.ListEventsSince(c.Request.Context(), since, limit)
		s.respondEvents(c, rows, err)
	}
}

// handleGetEventsAfter は通番指定によるイベント取得を処理するハンドラを返す。
// 通知リレーがカーソル以降のイベントを取得するために使用する。
func (s *Server) handleGetEventsAfter() gin.HandlerFunc {
	return func(c *gin.Context) {
		seq, err := strconv.ParseInt(c.DefaultQuery("seq", "0"), 10, 64)
		if err != nil || seq < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "seqは0以上の整数で指定してください"})
			return
		}
		limit, _, ok := pagination(c)
		if !ok {
			return
		}
		rows, err := s.queries.ListEventsAfterSeq(c.Request.Context(), seq, limit)
		s.respondEvents(c, rows, err)
	}
}

// handleGetLatestVersion はAggregateIDの最新バージョン取得を処理するハンドラを返す。
func (s *Server) handleGetLatestVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		aggregateID := c.Param("aggregate_id")
		v, err := s.queries.GetLatestVersion(c.Request.Context(), aggregateID)
		if err != nil {
			s.log.Error("最新バージョン取得エラー", "aggregate_id", aggregateID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "最新バージョンの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"aggregate_id": aggregateID, "version": v})
	}
}

// auditResponse は監査ログ一覧のJSONレスポンス。
type auditResponse struct {
	Items  []event.Event `json:"items"`
	Total  int64         `json:"total"`
	Limit  int64         `json:"limit"`
	Offset int64         `json:"offset"`
}

// handleListAudit はテナントの監査ログ一覧を処理するハンドラを返す。
func (s *Server) handleListAudit() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset, ok := pagination(c)
		if !ok {
			return
		}
		tenantID := middleware.TenantID(c)
		eventType := c.Query("event_type")

		rows, err := s.queries.ListTenantEvents(c.Request.Context(), eventstoredb.ListTenantEventsParams{
			TenantID:  tenantID,
			EventType: eventType,
			Limit:     limit,
			Offset:    offset,
		})
		if err != nil {
			s.log.Error("監査ログ取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "監査ログの取得に失敗しました"})
			return
		}
		total, err := s.queries.CountTenantEvents(c.Request.Context(), tenantID, eventType)
		if err != nil {
			s.log.Error("監査ログ件数取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "監査ログの取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, auditResponse{
			Items:  toEvents(rows),
			Total:  total,
			Limit:  limit,
			Offset: offset,
		})
	}
}

// respondEvents はイベント一覧を返す共通処理。
func (s *Server) respondEvents(c *gin.Context, rows []eventstoredb.Event, err error) {
	if err != nil {
		s.log.Error("イベント取得エラー", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
		return
	}
	c.JSON(http.StatusOK, toEvents(rows))
}

// pagination はlimitとoffsetのクエリパラメータを解釈する。不正な場合は400を返しfalseを返す。
func pagination(c *gin.Context) (limit, offset int64, ok bool) {
	limit = defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limitは1以上の整数で指定してください"})
			return 0, 0, false
		}
		limit = min(v, maxListLimit)
	}
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offsetは0以上の整数で指定してください"})
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}
