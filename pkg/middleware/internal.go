package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderInternalToken はサービス間通信用トークンのHTTPヘッダーキー。
const HeaderInternalToken = "X-Internal-Token"

// InternalAuth はサービス間通信用トークンを検証するミドルウェアを返す。
// tokenが空の場合は検証を行わない。
func InternalAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(HeaderInternalToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "内部トークンが無効です"})
			return
		}
		c.Next()
	}
}
