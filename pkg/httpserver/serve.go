// Package httpserver はHTTPサーバーの起動とグレースフルシャットダウンを提供する。
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nao1215/tenantdesk/pkg/logger"
)

// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
const ShutdownTimeout = 10 * time.Second

// Serve はaddrでhandlerを公開し、ctxがキャンセルされるとグレースフルに停止する。
// 正常停止時はnilを返す。
func Serve(ctx context.Context, addr string, handler http.Handler, log *logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTPサーバーを起動します", "addr", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	log.Info("HTTPサーバーを停止します", "addr", addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}
