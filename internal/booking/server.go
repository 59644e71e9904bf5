package booking

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	bookingdb "github.com/nao1215/tenantdesk/internal/booking/db"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/httpclient"
	"github.com/nao1215/tenantdesk/pkg/httpserver"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// Server は予約サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries は予約関連テーブルへのクエリ実行オブジェクト。
	queries *bookingdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// log はサービスのロガー。
	log *logger.Logger
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// tenants はテナントサービスの内部APIクライアント。公開予約でスラッグを解決する。
	tenants *httpclient.Client
	// publisher はEvent Storeへのイベント送信を行う。
	publisher *event.Publisher
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// dependencies はサーバーが呼び出す外部サービス。
type dependencies struct {
	tenants   *httpclient.Client
	publisher *event.Publisher
}

// NewServer は新しい予約サーバーを生成する。
func NewServer(cfg *config.Config, log *logger.Logger) (*Server, error) {
	sqlDB, err := database.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	deps := dependencies{
		tenants: httpclient.New(cfg.GetOr("TENANT_URL", "http://localhost:8081"),
			httpclient.WithInternalToken(cfg.InternalToken)),
	}
	if url := cfg.GetOr("EVENTSTORE_URL", ""); url != "" {
		deps.publisher = event.NewPublisher(httpclient.New(url, httpclient.WithInternalToken(cfg.InternalToken)), log)
	}
	return newServer(sqlDB, cfg, log, deps), nil
}

// newServer は初期化済みのDBからサーバーを組み立てる。
func newServer(sqlDB *sql.DB, cfg *config.Config, log *logger.Logger, deps dependencies) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log))

	s := &Server{
		router:    router,
		port:      cfg.Port,
		queries:   bookingdb.New(sqlDB),
		db:        sqlDB,
		log:       log,
		jwtSecret: cfg.JWTSecret,
		tenants:   deps.tenants,
		publisher: deps.publisher,
		now:       func() time.Time { return time.Now().UTC() },
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

	scoped := api.Group("")
	scoped.Use(middleware.JWTAuth(s.jwtSecret), middleware.RequireTenant())
	editor := middleware.RequireRole(middleware.RoleEditor)
	{
		// 顧客
		scoped.GET("/clients", s.handleListClients())
		scoped.POST("/clients", editor, s.handleCreateClient())
		scoped.GET("/clients/:id", s.handleGetClient())
		scoped.PUT("/clients/:id", editor, s.handleUpdateClient())
		scoped.DELETE("/clients/:id", editor, s.handleDeleteClient())

		// 予約
		scoped.GET("/appointments", s.handleListAppointments())
		scoped.POST("/appointments", editor, s.handleCreateAppointment())
		scoped.GET("/appointments/:id", s.handleGetAppointment())
		scoped.PUT("/appointments/:id", editor, s.handleUpdateAppointment())
		scoped.PATCH("/appointments/:id/status", editor, s.handleUpdateAppointmentStatus())
		scoped.DELETE("/appointments/:id", editor, s.handleDeleteAppointment())

		// 予約設定と空き枠
		scoped.GET("/booking/settings", s.handleGetSettings())
		scoped.PUT("/booking/settings", middleware.RequireRole(middleware.RoleAdmin), s.handleUpdateSettings())
		scoped.GET("/booking/availability", s.handleGetAvailability())
		scoped.POST("/booking/availability", s.handleGetAvailabilityBatch())
		scoped.GET("/booking/stats", s.handleGetStats())
	}

	// 公開予約（認証不要）
	public := api.Group("/public/:slug")
	{
		public.GET("/availability", s.handlePublicAvailability())
		public.POST("/reservations", s.handlePublicReservation())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "booking"})
	})
}
