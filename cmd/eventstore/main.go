// イベントストアサービスのエントリポイント。
// すべてのサービスの状態変更をイベントとして永続化し、配信する。
// Event Sourcingの中核となるサービスであり、唯一の「真実の源泉」として機能する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/tenantdesk/internal/eventstore"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("イベントストアサービスの起動に失敗: %v", err)
	}
}

func run() error {
	cfg, err := config.Load("eventstore", "8084")
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

	server, err := eventstore.NewServer(cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			lg.Warn("終了処理に失敗", "error", err)
		}
	}()

	lg.Info("イベントストアサービスを起動します", "port", cfg.Port, "env", cfg.Env)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	return g.Wait()
}
