package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/tenantdesk/pkg/logger"
	"github.com/robfig/cron/v3"
)

// DefaultCleanupSchedule は期限切れ通知を削除する既定のスケジュール。
const DefaultCleanupSchedule = "@every 1h"

// cleanupTimeout は1回の削除処理のタイムアウト。
const cleanupTimeout = time.Minute

// Cleaner はcronスケジュールに従って期限切れ通知を削除する。
type Cleaner struct {
	svc  *Service
	cron *cron.Cron
	log  *logger.Logger
}

// NewCleaner はscheduleで削除処理を実行するCleanerを生成する。scheduleは5フィールドのcron式か"@every 1h"のような記述子。
func NewCleaner(svc *Service, schedule string, log *logger.Logger) (*Cleaner, error) {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	c := &Cleaner{
		svc:  svc,
		cron: cron.New(cron.WithLocation(time.UTC)),
		log:  log,
	}
	if _, err := c.cron.AddFunc(schedule, c.runOnce); err != nil {
		return nil, fmt.Errorf("CLEANUP_SCHEDULEが不正です: %q: %w", schedule, err)
	}
	return c, nil
}

func (c *Cleaner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if _, err := c.svc.CleanupExpired(ctx); err != nil {
		c.log.Error("期限切れ通知の削除に失敗しました", "error", err)
	}
}

// Run はctxがキャンセルされるまでスケジュールを実行する。実行中のジョブの完了を待って戻る。
func (c *Cleaner) Run(ctx context.Context) error {
	c.cron.Start()
	<-ctx.Done()
	<-c.cron.Stop().Done()
	return nil
}
