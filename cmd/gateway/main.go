// API Gatewayサービスのエントリポイント。
// ログインとJWT発行、なりすまし、内部サービスへのリクエストルーティングを担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/tenantdesk/internal/gateway"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Gatewayサービスの起動に失敗: %v", err)
	}
}

func run() error {
	cfg, err := config.Load("gateway", "8080")
	if err != nil {
		return err
	}
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := gateway.NewServer(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			lg.Warn("終了処理に失敗", "error", err)
		}
	}()

	lg.Info("Gatewayサービスを起動します", "port", cfg.Port, "env", cfg.Env)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	return g.Wait()
}
