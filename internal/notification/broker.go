package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/tenantdesk/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// redisChannel は通知のプッシュに使うRedisのチャネル名。
const redisChannel = "tenantdesk:notifications"

// Push はユーザーへ届けるWebSocketメッセージ。
type Push struct {
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// Broker はプッシュメッセージを接続中のクライアントへ中継する。
type Broker interface {
	// Publish はメッセージを配信する。
	Publish(ctx context.Context, p Push) error
	// Run はctxがキャンセルされるまで受信したメッセージをHubへ転送する。
	Run(ctx context.Context) error
	// Close は接続を閉じる。
	Close() error
}

// MemoryBroker は同一プロセスのHubへ直接配信するBroker。
type MemoryBroker struct {
	hub *Hub
}

// NewMemoryBroker は新しいMemoryBrokerを生成する。
func NewMemoryBroker(hub *Hub) *MemoryBroker {
	return &MemoryBroker{hub: hub}
}

// Publish はHubへ直接送信する。
func (b *MemoryBroker) Publish(_ context.Context, p Push) error {
	b.hub.Send(p.UserID, p.Payload)
	return nil
}

// Run はctxがキャンセルされるまで待つ。
func (b *MemoryBroker) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Close は何もしない。
func (b *MemoryBroker) Close() error { return nil }

// RedisBroker はRedisのPub/Subを介して複数インスタンスのHubへ配信するBroker。
type RedisBroker struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	log     *logger.Logger
}

// NewRedisBroker はredisURLに接続するRedisBrokerを生成する。
func NewRedisBroker(ctx context.Context, redisURL string, hub *Hub, log *logger.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLが不正です: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return &RedisBroker{
		rdb:     rdb,
		channel: redisChannel,
		hub:     hub,
		log:     log,
	}, nil
}

// Publish はメッセージをRedisのチャネルへ送信する。
func (b *RedisBroker) Publish(ctx context.Context, p Push) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Run はチャネルを購読し、受信したメッセージをHubへ転送する。
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("Redisの購読に失敗: %w", err)
	}
	b.log.Info("Redisの購読を開始しました", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var p Push
			if err := json.Unmarshal([]byte(m.Payload), &p); err != nil {
				b.log.Warn("不正なプッシュメッセージを受信しました", "error", err)
				continue
			}
			b.hub.Send(p.UserID, p.Payload)
		}
	}
}

// Close はRedisへの接続を閉じる。
func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
