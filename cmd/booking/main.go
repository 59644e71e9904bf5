// 予約サービスのエントリポイント。
// 顧客、予約、予約設定、公開予約APIを提供する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/tenantdesk/internal/booking"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("予約サービスの起動に失敗: %v", err)
	}
}

func run() error {
	cfg, err := config.Load("booking", "8082")
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

	server, err := booking.NewServer(cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			lg.Warn("終了処理に失敗", "error", err)
		}
	}()

	lg.Info("予約サービスを起動します", "port", cfg.Port, "env", cfg.Env)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	return g.Wait()
}
