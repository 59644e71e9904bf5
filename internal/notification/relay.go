package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	notificationdb "github.com/nao1215/tenantdesk/internal/notification/db"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/httpclient"
	"github.com/nao1215/tenantdesk/pkg/logger"
)

// relayCursorName はEvent Storeの読み取り位置を保存するカーソル名。
const relayCursorName = "eventstore"

// relayBatchSize は1回のポーリングで取得するイベント数の上限。
const relayBatchSize = 100

// recipientRoles は業務イベントの通知を受け取るロール。
const recipientRoles = "OWNER,ADMIN"

// errSkipEvent はイベントデータを解釈できず、通知せずに読み飛ばすことを表す。
var errSkipEvent = errors.New("通知対象外のイベント")

// Relay はEvent Storeをポーリングし、業務イベントをテナント管理者への通知に変換する。
// 読み取り位置はイベントごとにDBへ保存するため、再起動しても同じイベントを二度通知しない。
type Relay struct {
	svc      *Service
	queries  *notificationdb.Queries
	events   *httpclient.Client
	tenants  *httpclient.Client
	log      *logger.Logger
	interval time.Duration
	// loc は通知文中の日時を表示するタイムゾーン。
	loc *time.Location
}

// NewRelay は新しいRelayを生成する。
func NewRelay(svc *Service, events, tenants *httpclient.Client, interval time.Duration, log *logger.Logger) *Relay {
	loc, err := time.LoadLocation(svc.defaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	return &Relay{
		svc:      svc,
		queries:  svc.queries,
		events:   events,
		tenants:  tenants,
		log:      log,
		interval: interval,
		loc:      loc,
	}
}

// Run はctxがキャンセルされるまでinterval間隔でポーリングを繰り返す。
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("通知リレーを開始します", "interval", r.interval.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Poll(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("通知リレーのポーリングに失敗しました", "error", err)
			}
		}
	}
}

// Poll はカーソル以降のイベントを取得して処理し、処理したイベント数を返す。
// 受信者の取得に失敗した場合はそのイベントの手前で止め、次回のポーリングで再試行する。
func (r *Relay) Poll(ctx context.Context) (int, error) {
	cursor, err := r.queries.GetCursor(ctx, relayCursorName)
	if err != nil {
		return 0, fmt.Errorf("カーソルの取得に失敗: %w", err)
	}

	var events []event.Event
	path := fmt.Sprintf("/api/v1/events/after?seq=%d&limit=%d", cursor, relayBatchSize)
	if err := r.events.GetJSON(ctx, path, &events); err != nil {
		return 0, fmt.Errorf("イベントの取得に失敗: %w", err)
	}

	processed := 0
	for i := range events {
		e := &events[i]
		if err := r.handle(ctx, e); err != nil {
			if !errors.Is(err, errSkipEvent) {
				return processed, fmt.Errorf("イベントの処理に失敗: seq=%d: %w", e.Seq, err)
			}
			r.log.Warn("イベントを読み飛ばしました", "seq", e.Seq, "event_type", string(e.EventType), "error", err)
		}
		if err := r.queries.SaveCursor(ctx, relayCursorName, e.Seq); err != nil {
			return processed, fmt.Errorf("カーソルの保存に失敗: %w", err)
		}
		processed++
	}
	return processed, nil
}

// builder はイベントから受信者ごとの通知入力を組み立てる関数を返す。通知対象外のイベントはnil。
func (r *Relay) builder(e *event.Event) (func(Recipient) Input, error) {
	switch e.EventType {
	case event.TypeAppointmentBooked, event.TypeAppointmentConfirmed, event.TypeAppointmentCancelled:
		d, err := event.DecodeData[event.AppointmentData](e)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errSkipEvent, err)
		}
		switch e.EventType {
		case event.TypeAppointmentBooked:
			return func(rc Recipient) Input { return NewReservation(rc, *d, r.loc) }, nil
		case event.TypeAppointmentConfirmed:
			return func(rc Recipient) Input { return ReservationConfirmed(rc, *d) }, nil
		default:
			return func(rc Recipient) Input { return ReservationCancelled(rc, *d) }, nil
		}
	case event.TypeClientCreated, event.TypeClientUpdated:
		d, err := event.DecodeData[event.ClientData](e)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errSkipEvent, err)
		}
		if e.EventType == event.TypeClientCreated {
			return func(rc Recipient) Input { return NewClient(rc, *d) }, nil
		}
		return func(rc Recipient) Input { return ClientUpdated(rc, *d) }, nil
	case event.TypeContentPublished, event.TypeContentSEOWarning:
		d, err := event.DecodeData[event.ContentPageData](e)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errSkipEvent, err)
		}
		if e.EventType == event.TypeContentPublished {
			return func(rc Recipient) Input { return ContentPublished(rc, d.Title, d.Slug) }, nil
		}
		return func(rc Recipient) Input { return PageSEOAlert(rc, *d) }, nil
	case event.TypeTenantCreated:
		d, err := event.DecodeData[event.TenantCreatedData](e)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errSkipEvent, err)
		}
		return func(rc Recipient) Input { return TenantWelcome(rc, *d) }, nil
	}
	return nil, nil
}

// handle は1件のイベントを通知に変換し、テナントの管理者全員へ送る。
func (r *Relay) handle(ctx context.Context, e *event.Event) error {
	build, err := r.builder(e)
	if err != nil || build == nil {
		return err
	}
	if e.TenantID == "" {
		return fmt.Errorf("%w: tenant_idがありません", errSkipEvent)
	}

	recipients, err := r.recipients(ctx, e.TenantID)
	if err != nil {
		return err
	}
	for _, rc := range recipients {
		n, decision, err := r.svc.Create(ctx, build(rc))
		if err != nil {
			r.log.Error("通知の作成に失敗しました", "seq", e.Seq, "user_id", rc.UserID, "error", err)
			continue
		}
		if n != nil {
			r.log.Debug("イベントを通知しました", "seq", e.Seq, "user_id", rc.UserID, "notification_id", n.ID)
		} else {
			r.log.Debug("イベントの通知は抑止されました", "seq", e.Seq, "user_id", rc.UserID, "reason", string(decision))
		}
	}
	return nil
}

// recipients はテナントの通知受信者を取得する。テナントが存在しない場合は読み飛ばす。
func (r *Relay) recipients(ctx context.Context, tenantID string) ([]Recipient, error) {
	var out []Recipient
	path := fmt.Sprintf("/api/v1/internal/tenants/%s/users?roles=%s", url.PathEscape(tenantID), recipientRoles)
	if err := r.tenants.GetJSON(ctx, path, &out); err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: テナントが見つかりません: %s", errSkipEvent, tenantID)
		}
		return nil, fmt.Errorf("受信者の取得に失敗: %w", err)
	}
	return out, nil
}
