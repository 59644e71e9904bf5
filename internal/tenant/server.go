package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tenantdb "github.com/nao1215/tenantdesk/internal/tenant/db"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/httpclient"
	"github.com/nao1215/tenantdesk/pkg/httpserver"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// Server はテナントサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はテナント関連テーブルへのクエリ実行オブジェクト。
	queries *tenantdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// log はサービスのロガー。
	log *logger.Logger
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// internalToken はサービス間通信用トークン。
	internalToken string
	// catalog はサイドバー要素カタログ。
	catalog *Catalog
	// publisher はEvent Storeへのイベント送信を行う。
	publisher *event.Publisher
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewServer は新しいテナントサーバーを生成する。
// SQLiteデータベースの初期化、マイグレーション、テンプレートの投入を行う。
func NewServer(cfg *config.Config, log *logger.Logger) (*Server, error) {
	sqlDB, err := database.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	var publisher *event.Publisher
	if url := cfg.GetOr("EVENTSTORE_URL", ""); url != "" {
		publisher = event.NewPublisher(httpclient.New(url, httpclient.WithInternalToken(cfg.InternalToken)), log)
	}

	s, err := newServer(sqlDB, cfg, log, publisher)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// newServer は初期化済みのDBからサーバーを組み立てる。テンプレート定義はここで投入する。
func newServer(sqlDB *sql.DB, cfg *config.Config, log *logger.Logger, publisher *event.Publisher) (*Server, error) {
	seeds, err := loadTemplateSeeds()
	if err != nil {
		return nil, err
	}
	catalog, err := loadCatalog(templateCategories(seeds))
	if err != nil {
		return nil, err
	}
	now := func() time.Time { return time.Now().UTC() }
	if err := seedTemplates(context.Background(), sqlDB, seeds, now()); err != nil {
		return nil, fmt.Errorf("テンプレートの投入に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log))

	s := &Server{
		router:        router,
		port:          cfg.Port,
		queries:       tenantdb.New(sqlDB),
		db:            sqlDB,
		log:           log,
		jwtSecret:     cfg.JWTSecret,
		internalToken: cfg.InternalToken,
		catalog:       catalog,
		publisher:     publisher,
		now:           now,
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

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")

	authed := api.Group("")
	authed.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// テンプレート
		authed.GET("/templates", s.handleListTemplates())
		authed.GET("/templates/:id", s.handleGetTemplate())
		// サイドバー要素カタログ
		authed.GET("/sidebar/catalog", s.handleGetCatalog())
	}

	admin := api.Group("/admin/tenants")
	admin.Use(middleware.JWTAuth(s.jwtSecret), middleware.RequireSuperAdmin())
	{
		admin.GET("", s.handleListTenants())
		admin.POST("", s.handleCreateTenant())
		admin.GET("/:id", s.handleGetTenant())
		admin.PUT("/:id", s.handleUpdateTenant())
		admin.DELETE("/:id", s.handleDeleteTenant())
		admin.PUT("/:id/template", s.handleChangeTemplate())
		admin.GET("/:id/sidebar", s.handleGetTenantSidebarAdmin())
		admin.POST("/:id/sidebar", s.handleAddSidebarElement())
		admin.DELETE("/:id/sidebar", s.handleRemoveSidebarElement())
	}

	scoped := api.Group("")
	scoped.Use(middleware.JWTAuth(s.jwtSecret), middleware.RequireTenant())
	{
		scoped.GET("/tenant/current", s.handleGetCurrentTenant())
		scoped.GET("/tenant/sidebar", s.handleGetTenantSidebar())

		scoped.GET("/users", s.handleListUsers())
		writes := scoped.Group("/users")
		writes.Use(middleware.RequireRole(middleware.RoleAdmin))
		{
			writes.POST("", s.handleCreateUser())
			writes.PUT("/:id", s.handleUpdateUser())
			writes.DELETE("/:id", s.handleDeleteUser())
		}

		scoped.GET("/content/pages", s.handleListContentPages())
		scoped.GET("/content/pages/:slug", s.handleGetContentPage())
		content := scoped.Group("/content/pages")
		content.Use(middleware.RequireRole(middleware.RoleEditor))
		{
			content.POST("", s.handleCreateContentPage())
			content.PUT("/:slug", s.handleUpdateContentPage())
			content.DELETE("/:slug", s.handleDeleteContentPage())
			content.POST("/:slug/publish", s.handlePublishContentPage())
		}
	}

	internal := api.Group("/internal")
	internal.Use(middleware.InternalAuth(s.internalToken))
	{
		internal.POST("/authenticate", s.handleAuthenticate())
		internal.GET("/tenants/:id", s.handleInternalGetTenant())
		internal.GET("/tenants/by-slug/:slug", s.handleInternalGetTenantBySlug())
		internal.GET("/tenants/:id/users", s.handleInternalListUsers())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "tenant"})
	})
}
