package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestInternalAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured string
		sent       string
		wantStatus int
	}{
		{name: "一致するトークンは通過すること", configured: "s3cret", sent: "s3cret", wantStatus: http.StatusOK},
		{name: "トークンが異なる場合401になること", configured: "s3cret", sent: "nope", wantStatus: http.StatusUnauthorized},
		{name: "トークンが無い場合401になること", configured: "s3cret", sent: "", wantStatus: http.StatusUnauthorized},
		{name: "未設定の場合は検証しないこと", configured: "", sent: "", wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := gin.New()
			router.Use(InternalAuth(tt.configured))
			router.GET("/internal", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/internal", nil)
			if tt.sent != "" {
				req.Header.Set(HeaderInternalToken, tt.sent)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
