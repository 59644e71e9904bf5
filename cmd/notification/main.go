// 通知サービスのエントリポイント。
// 通知の保存とWebSocket配信、イベントからの通知生成、期限切れ通知の定期削除を行う。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/tenantdesk/internal/notification"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
}

func run() error {
	cfg, err := config.Load("notification", "8083")
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

	server, err := notification.NewServer(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			lg.Warn("終了処理に失敗", "error", err)
		}
	}()

	lg.Info("通知サービスを起動します", "port", cfg.Port, "env", cfg.Env)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	for _, job := range server.Jobs() {
		g.Go(func() error { return job(ctx) })
	}
	return g.Wait()
}
