package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// route はプロキシ対象のパスプレフィックスと転送先。
type route struct {
	prefix string
	target string
	// queryToken はaccess_tokenクエリでの認証を許可するか。WebSocket用。
	queryToken bool
}

// routes はプレフィックスごとの転送先一覧を返す。
func (s *Server) routes() []route {
	return []route{
		{prefix: "/templates", target: s.upstreams.Tenant},
		{prefix: "/sidebar", target: s.upstreams.Tenant},
		{prefix: "/admin/tenants", target: s.upstreams.Tenant},
		{prefix: "/tenant", target: s.upstreams.Tenant},
		{prefix: "/users", target: s.upstreams.Tenant},
		{prefix: "/content", target: s.upstreams.Tenant},
		{prefix: "/clients", target: s.upstreams.Booking},
		{prefix: "/appointments", target: s.upstreams.Booking},
		{prefix: "/booking", target: s.upstreams.Booking},
		{prefix: "/notifications", target: s.upstreams.Notification, queryToken: true},
		{prefix: "/audit", target: s.upstreams.EventStore},
	}
}

// setupProxyRoutes は内部サービスへのプロキシルートを登録する。
// ginはワイルドカードとプレフィックス自身を別ルートとして扱うため両方を登録する。
func (s *Server) setupProxyRoutes(api *gin.RouterGroup) {
	for _, r := range s.routes() {
		auth := middleware.JWTAuth(s.jwtSecret)
		if r.queryToken {
			auth = middleware.JWTAuthWithQuery(s.jwtSecret, "access_token")
		}
		h := s.handleProxy(r.target)
		api.Any(r.prefix, auth, h)
		api.Any(r.prefix+"/*path", auth, h)
	}

	// 公開予約APIは認証なしで通す
	public := s.handleProxy(s.upstreams.Booking)
	api.Any("/public/*path", public)
}

// handleProxy は受け取ったリクエストをパスを変えずにtargetへ転送するハンドラを返す。
func (s *Server) handleProxy(target string) gin.HandlerFunc {
	proxy, err := s.newReverseProxy(target)
	if err != nil {
		s.log.Error("プロキシ先URLが不正です", "target", target, "error", err)
		return func(c *gin.Context) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		}
	}
	return func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	}
}

// newReverseProxy はtarget向けのリバースプロキシを生成する。
// 外部から送られた内部トークンヘッダーは転送前に取り除く。
func (s *Server) newReverseProxy(target string) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(u)
			r.SetXForwarded()
			r.Out.Header.Del(middleware.HeaderInternalToken)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Error("プロキシエラー", "url", r.URL.String(), "error", err)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"内部サービスとの通信に失敗しました"}`))
		},
	}, nil
}
