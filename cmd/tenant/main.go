// テナントサービスのエントリポイント。
// テナント、テンプレート、サイドバー構成、テナントユーザーを管理する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/tenantdesk/internal/tenant"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("テナントサービスの起動に失敗: %v", err)
	}
}

func run() error {
	cfg, err := config.Load("tenant", "8081")
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

	server, err := tenant.NewServer(cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			lg.Warn("終了処理に失敗", "error", err)
		}
	}()

	lg.Info("テナントサービスを起動します", "port", cfg.Port, "env", cfg.Env)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	return g.Wait()
}
