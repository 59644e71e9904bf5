package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gatewaydb "github.com/nao1215/tenantdesk/internal/gateway/db"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/httpclient"
	"github.com/nao1215/tenantdesk/pkg/httpserver"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"github.com/nao1215/tenantdesk/pkg/middleware"
	"golang.org/x/crypto/bcrypt"
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はスーパー管理者テーブルへのクエリ実行オブジェクト。
	queries *gatewaydb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// log はサービスのロガー。
	log *logger.Logger
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// development は開発環境で動作しているか。開発用トークンの発行可否に使う。
	development bool
	// tenants はテナントサービスの内部APIクライアント。
	tenants *httpclient.Client
	// upstreams は内部サービスのURL。
	upstreams upstreams
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// upstreams はプロキシ先となる内部サービスのURL。
type upstreams struct {
	Tenant       string
	Booking      string
	Notification string
	EventStore   string
}

// bootstrapAdmin は初回起動時に作成するスーパー管理者。
type bootstrapAdmin struct {
	Email    string
	Password string
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Server, error) {
	sqlDB, err := database.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	ups := upstreams{
		Tenant:       cfg.GetOr("TENANT_URL", "http://localhost:8081"),
		Booking:      cfg.GetOr("BOOKING_URL", "http://localhost:8082"),
		Notification: cfg.GetOr("NOTIFICATION_URL", "http://localhost:8083"),
		EventStore:   cfg.GetOr("EVENTSTORE_URL", "http://localhost:8084"),
	}
	s := newServer(sqlDB, cfg, log, ups)
	admin := bootstrapAdmin{
		Email:    cfg.GetOr("SUPER_ADMIN_EMAIL", ""),
		Password: cfg.GetOr("SUPER_ADMIN_PASSWORD", ""),
	}
	if err := s.bootstrap(ctx, admin); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// newServer は初期化済みのDBからサーバーを組み立てる。
func newServer(sqlDB *sql.DB, cfg *config.Config, log *logger.Logger, ups upstreams) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS(strings.Split(cfg.GetOr("FRONTEND_URL", "http://localhost:3000"), ",")))

	s := &Server{
		router:      router,
		port:        cfg.Port,
		queries:     gatewaydb.New(sqlDB),
		db:          sqlDB,
		log:         log,
		jwtSecret:   cfg.JWTSecret,
		development: cfg.IsDevelopment(),
		tenants:     httpclient.New(ups.Tenant, httpclient.WithInternalToken(cfg.InternalToken)),
		upstreams:   ups,
		now:         func() time.Time { return time.Now().UTC() },
	}
	s.setupRoutes()
	return s
}

// bootstrap はスーパー管理者が一人もいない場合に設定のアカウントを作成する。
func (s *Server) bootstrap(ctx context.Context, admin bootstrapAdmin) error {
	if admin.Email == "" || admin.Password == "" {
		return nil
	}
	n, err := s.queries.CountSuperAdmins(ctx)
	if err != nil {
		return fmt.Errorf("スーパー管理者の確認に失敗: %w", err)
	}
	if n > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	email := strings.ToLower(strings.TrimSpace(admin.Email))
	if err := s.queries.CreateSuperAdmin(ctx, gatewaydb.CreateSuperAdminParams{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         "Super Admin",
		Now:          s.now(),
	}); err != nil {
		return fmt.Errorf("スーパー管理者の作成に失敗: %w", err)
	}
	s.log.Info("スーパー管理者を作成しました", "email", email)
	return nil
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
	// 認証エンドポイント（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/login", s.handleLogin())
		// 開発用トークン発行
		auth.POST("/dev-token", s.handleDevToken())
	}

	api := s.router.Group("/api/v1")

	authed := api.Group("")
	authed.Use(middleware.JWTAuth(s.jwtSecret))
	{
		authed.GET("/me", s.handleGetCurrentUser())

		totp := authed.Group("/auth/totp")
		totp.Use(middleware.RequireSuperAdmin())
		{
			totp.POST("/setup", s.handleTOTPSetup())
			totp.POST("/verify", s.handleTOTPVerify())
			totp.DELETE("", s.handleTOTPDisable())
		}

		authed.POST("/admin/impersonate", middleware.RequireSuperAdmin(), s.handleImpersonate())
	}

	s.setupProxyRoutes(api)

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}
