package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/httpclient"
	"github.com/nao1215/tenantdesk/pkg/httpserver"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"github.com/nao1215/tenantdesk/pkg/mailer"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// log はサービスのロガー。
	log *logger.Logger
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// internalToken はサービス間通信用トークン。
	internalToken string
	// svc は通知の作成と管理を行う。
	svc *Service
	// hub はWebSocket接続を管理する。
	hub *Hub
	// broker はプッシュメッセージをHubへ中継する。
	broker Broker
	// relay はEvent Storeのイベントを通知に変換する。Event Storeが未設定の場合はnil。
	relay *Relay
	// cleaner は期限切れ通知を定期的に削除する。
	cleaner *Cleaner
}

// dependencies はサーバーが呼び出す外部サービス。
type dependencies struct {
	mailer    mailer.Mailer
	publisher *event.Publisher
	// events と tenants はリレーが使用する。eventsがnilの場合はリレーを起動しない。
	events  *httpclient.Client
	tenants *httpclient.Client
	// redisURL が空の場合はプロセス内のBrokerを使う。
	redisURL string
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Server, error) {
	sqlDB, err := database.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	m, err := mailer.New(cfg.GetOr("SENDGRID_API_KEY", ""), cfg.GetOr("MAIL_FROM_EMAIL", ""), cfg.GetOr("MAIL_FROM_NAME", "TenantDesk"))
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("メール送信の初期化に失敗: %w", err)
	}
	deps := dependencies{
		mailer:   m,
		tenants:  httpclient.New(cfg.GetOr("TENANT_URL", "http://localhost:8081"), httpclient.WithInternalToken(cfg.InternalToken)),
		redisURL: cfg.GetOr("REDIS_URL", ""),
	}
	if url := cfg.GetOr("EVENTSTORE_URL", ""); url != "" {
		deps.events = httpclient.New(url, httpclient.WithInternalToken(cfg.InternalToken))
		deps.publisher = event.NewPublisher(deps.events, log)
	}
	s, err := newServer(ctx, sqlDB, cfg, log, deps)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// newServer は初期化済みのDBからサーバーを組み立てる。
func newServer(ctx context.Context, sqlDB *sql.DB, cfg *config.Config, log *logger.Logger, deps dependencies) (*Server, error) {
	hub := NewHub(log)
	var broker Broker = NewMemoryBroker(hub)
	if deps.redisURL != "" {
		rb, err := NewRedisBroker(ctx, deps.redisURL, hub, log)
		if err != nil {
			return nil, err
		}
		broker = rb
	}

	svc := NewService(sqlDB, log, broker, deps.mailer, deps.publisher, cfg.GetOr("NOTIFICATION_DEFAULT_TIMEZONE", "Europe/Paris"))
	cleaner, err := NewCleaner(svc, cfg.GetOr("CLEANUP_SCHEDULE", DefaultCleanupSchedule), log)
	if err != nil {
		_ = broker.Close()
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log))

	s := &Server{
		router:        router,
		port:          cfg.Port,
		db:            sqlDB,
		log:           log,
		jwtSecret:     cfg.JWTSecret,
		internalToken: cfg.InternalToken,
		svc:           svc,
		hub:           hub,
		broker:        broker,
		cleaner:       cleaner,
	}
	if deps.events != nil {
		s.relay = NewRelay(svc, deps.events, deps.tenants, cfg.DurationOr("RELAY_INTERVAL", 3*time.Second), log)
	}
	s.setupRoutes()
	return s, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまで処理する。
func (s *Server) Run(ctx context.Context) error {
	return httpserver.Serve(ctx, fmt.Sprintf(":%s", s.port), s.router, s.log)
}

// Jobs はHTTPサーバーと並行して実行するバックグラウンド処理を返す。
func (s *Server) Jobs() []func(context.Context) error {
	jobs := []func(context.Context) error{s.broker.Run, s.cleaner.Run}
	if s.relay != nil {
		jobs = append(jobs, s.relay.Run)
	}
	return jobs
}

// Close はWebSocket接続とデータベース接続を閉じる。
func (s *Server) Close() error {
	s.hub.Close()
	return errors.Join(s.broker.Close(), s.db.Close())
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")

	// WebSocketはヘッダーを付けられないためクエリのトークンも受け付ける
	api.GET("/notifications/stream", middleware.JWTAuthWithQuery(s.jwtSecret, "access_token"), s.handleStream())

	notifications := api.Group("/notifications")
	notifications.Use(middleware.JWTAuth(s.jwtSecret))
	{
		notifications.GET("", s.handleList())
		notifications.GET("/unread", s.handleListUnread())
		notifications.GET("/unread/count", s.handleUnreadCount())
		notifications.PUT("/read-all", s.handleMarkAllAsRead())
		notifications.PUT("/:id/read", s.handleMarkAsRead())
		notifications.DELETE("/:id", s.handleDelete())
		notifications.POST("/test", s.handleSendTest())
		notifications.GET("/preferences", s.handleGetPreferences())
		notifications.PUT("/preferences", s.handleUpdatePreferences())
	}

	// 内部API（他サービスから呼び出される）
	internal := api.Group("/internal")
	internal.Use(middleware.InternalAuth(s.internalToken))
	{
		internal.POST("/send", s.handleSend())
		internal.POST("/cleanup", s.handleCleanup())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// listResponse は通知一覧のJSONレスポンス。
type listResponse struct {
	Items       []Notification `json:"items"`
	UnreadCount int64          `json:"unread_count"`
	Limit       int            `json:"limit"`
	Offset      int            `json:"offset"`
}

// parseListFilter はクエリパラメータを一覧の絞り込み条件に変換する。不正な場合は400を返しfalseを返す。
func parseListFilter(c *gin.Context) (ListFilter, bool) {
	f := ListFilter{UserID: middleware.GetUserID(c), Limit: defaultListLimit}
	bad := func(msg string) (ListFilter, bool) {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return ListFilter{}, false
	}

	if raw := c.Query("category"); raw != "" {
		f.Category = Category(strings.ToUpper(raw))
		if !f.Category.Valid() {
			return bad(fmt.Sprintf("不明なカテゴリです: %s", raw))
		}
	}
	if raw := c.Query("priority"); raw != "" {
		f.Priority = Priority(strings.ToUpper(raw))
		if !f.Priority.Valid() {
			return bad(fmt.Sprintf("不明な優先度です: %s", raw))
		}
	}
	if raw := c.Query("read"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return bad("readはtrueまたはfalseで指定してください")
		}
		f.Read = &v
	}
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return bad("limitは整数で指定してください")
		}
		f.Limit = min(max(v, 1), maxListLimit)
	}
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return bad("offsetは0以上の整数で指定してください")
		}
		f.Offset = v
	}
	return f, true
}

// respondList は絞り込み条件で通知一覧を返す。
func (s *Server) respondList(c *gin.Context, f ListFilter) {
	ctx := c.Request.Context()
	items, err := s.svc.List(ctx, f)
	if err != nil {
		s.log.Error("通知一覧取得エラー", "user_id", f.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
		return
	}
	unread, err := s.svc.UnreadCount(ctx, f.UserID)
	if err != nil {
		s.log.Error("未読件数取得エラー", "user_id", f.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
		return
	}
	c.JSON(http.StatusOK, listResponse{Items: items, UnreadCount: unread, Limit: f.Limit, Offset: f.Offset})
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		f, ok := parseListFilter(c)
		if !ok {
			return
		}
		s.respondList(c, f)
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		f, ok := parseListFilter(c)
		if !ok {
			return
		}
		unread := false
		f.Read = &unread
		s.respondList(c, f)
	}
}

// handleUnreadCount は未読通知の件数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		n, err := s.svc.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			s.log.Error("未読件数取得エラー", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読件数の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

// respondOwnershipError は所有者確認のエラーをレスポンスに変換する。
func (s *Server) respondOwnershipError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
	default:
		s.log.Error("通知"+action+"エラー", "notification_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("通知の%sに失敗しました", action)})
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.svc.MarkAsRead(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
			s.respondOwnershipError(c, err, "既読処理")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		n, err := s.svc.MarkAllAsRead(c.Request.Context(), userID)
		if err != nil {
			s.log.Error("全通知既読処理エラー", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました", "updated": n})
	}
}

// handleDelete は指定された通知を削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.svc.Delete(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
			s.respondOwnershipError(c, err, "削除")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を削除しました"})
	}
}

// respondCreated は通知作成の結果をレスポンスに変換する。
func (s *Server) respondCreated(c *gin.Context, n *Notification, decision Decision, err error) {
	var inputErr *InputError
	switch {
	case errors.As(err, &inputErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": inputErr.Error()})
	case err != nil:
		s.log.Error("通知作成エラー", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
	case n == nil:
		c.JSON(http.StatusOK, gin.H{"suppressed": decision})
	default:
		c.JSON(http.StatusCreated, gin.H{"id": n.ID, "notification": n})
	}
}

// handleSendTest は自分宛てのテスト通知を送るハンドラ。
func (s *Server) handleSendTest() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.GetIdentity(c)
		n, decision, err := s.svc.Create(c.Request.Context(), TestNotification(Recipient{
			UserID:   id.UserID,
			TenantID: id.TenantID,
			Email:    id.Email,
		}))
		s.respondCreated(c, n, decision, err)
	}
}

// handleGetPreferences は通知設定を返すハンドラ。
func (s *Server) handleGetPreferences() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		p, err := s.svc.GetPreferences(c.Request.Context(), userID)
		if err != nil {
			s.log.Error("通知設定取得エラー", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知設定の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// handleUpdatePreferences は通知設定を部分更新するハンドラ。
func (s *Server) handleUpdatePreferences() gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch PreferencesPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		userID := middleware.GetUserID(c)
		p, err := s.svc.UpdatePreferences(c.Request.Context(), userID, patch)
		var inputErr *InputError
		if errors.As(err, &inputErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": inputErr.Error()})
			return
		}
		if err != nil {
			s.log.Error("通知設定更新エラー", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知設定の更新に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// handleStream はWebSocketで通知をプッシュ配信するハンドラ。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		hello, err := json.Marshal(pushMessage{Type: pushTypeConnected})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "接続の初期化に失敗しました"})
			return
		}
		// アップグレードに失敗した場合はupgraderがエラーレスポンスを書き込む
		if err := s.hub.Serve(c.Writer, c.Request, userID, hello); err != nil {
			s.log.Warn("WebSocketのアップグレードに失敗しました", "user_id", userID, "error", err)
		}
	}
}

// handleSend は通知を作成し配信する内部APIのハンドラ。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in Input
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		n, decision, err := s.svc.Create(c.Request.Context(), in)
		s.respondCreated(c, n, decision, err)
	}
}

// handleCleanup は期限切れ通知を削除する内部APIのハンドラ。
func (s *Server) handleCleanup() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.svc.CleanupExpired(c.Request.Context())
		if err != nil {
			s.log.Error("期限切れ通知削除エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "期限切れ通知の削除に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	}
}
