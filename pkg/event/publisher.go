package event

import (
	"context"
	"fmt"

	"github.com/nao1215/tenantdesk/pkg/httpclient"
	"github.com/nao1215/tenantdesk/pkg/logger"
)

// Publisher はEvent Storeへイベントを送信する。
type Publisher struct {
	client *httpclient.Client
	log    *logger.Logger
}

// NewPublisher は新しいPublisherを生成する。clientがnilの場合は送信しない。
func NewPublisher(client *httpclient.Client, log *logger.Logger) *Publisher {
	return &Publisher{client: client, log: log}
}

// Publish はイベントをEvent Storeに追記する。
func (p *Publisher) Publish(ctx context.Context, tenantID, aggregateID string, aggregateType AggregateType, eventType Type, data any) error {
	if p == nil || p.client == nil {
		return nil
	}
	req, err := NewAppendRequest(tenantID, aggregateID, aggregateType, eventType, data)
	if err != nil {
		return err
	}
	if err := p.client.PostJSON(ctx, "/api/v1/events", req, nil); err != nil {
		return fmt.Errorf("Event Storeへのイベント送信に失敗: %w", err)
	}
	return nil
}

// Emit はPublishと同様にイベントを送信するが、失敗はログに記録するのみで呼び出し元には返さない。
func (p *Publisher) Emit(ctx context.Context, tenantID, aggregateID string, aggregateType AggregateType, eventType Type, data any) {
	if err := p.Publish(ctx, tenantID, aggregateID, aggregateType, eventType, data); err != nil && p.log != nil {
		p.log.Warn("イベントの送信に失敗しました",
			"event_type", string(eventType),
			"aggregate_id", aggregateID,
			"error", err,
		)
	}
}
