package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/tenantdesk/pkg/logger"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にログを出力し、500エラーを返す。
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("パニックが発生しました",
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"panic", r,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "内部サーバーエラーが発生しました",
				})
			}
		}()
		c.Next()
	}
}

// RequestLogger はリクエストごとのアクセスログを出力するGinミドルウェアを返す。
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if userID := GetUserID(c); userID != "" {
			kv = append(kv, "user_id", userID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("リクエスト", kv...)
		case status >= http.StatusBadRequest:
			log.Warn("リクエスト", kv...)
		default:
			log.Info("リクエスト", kv...)
		}
	}
}
