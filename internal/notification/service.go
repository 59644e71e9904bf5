package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	notificationdb "github.com/nao1215/tenantdesk/internal/notification/db"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/logger"
	"github.com/nao1215/tenantdesk/pkg/mailer"
)

var (
	// ErrNotFound は通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は他のユーザーの通知を操作しようとしたことを表す。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
)

// InputError は入力値の検証エラー。
type InputError struct {
	msg string
}

func (e *InputError) Error() string { return e.msg }

// 一覧取得の件数。
const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// 履歴のアクション。
const (
	historySent = "sent"
	historyRead = "read"
)

// Notification は通知のJSON表現。
type Notification struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	TenantID    string          `json:"tenant_id,omitempty"`
	Type        Type            `json:"type"`
	Category    Category        `json:"category"`
	Priority    Priority        `json:"priority"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	ActionURL   string          `json:"action_url,omitempty"`
	ActionLabel string          `json:"action_label,omitempty"`
	Metadata    json.RawMessage `json:"metadata"`
	IsRead      bool            `json:"is_read"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toNotification(n notificationdb.Notification) Notification {
	meta := json.RawMessage(n.Metadata)
	if !json.Valid(meta) {
		meta = json.RawMessage("{}")
	}
	return Notification{
		ID:          n.ID,
		UserID:      n.UserID,
		TenantID:    n.TenantID,
		Type:        Type(n.Type),
		Category:    Category(n.Category),
		Priority:    Priority(n.Priority),
		Title:       n.Title,
		Message:     n.Message,
		ActionURL:   n.ActionURL,
		ActionLabel: n.ActionLabel,
		Metadata:    meta,
		IsRead:      n.IsRead,
		ReadAt:      n.ReadAt,
		ExpiresAt:   n.ExpiresAt,
		CreatedAt:   n.CreatedAt,
	}
}

// Input は通知作成の入力。
type Input struct {
	UserID   string `json:"user_id" binding:"required"`
	TenantID string `json:"tenant_id"`
	// Email と Name はメール配信の宛先。空の場合はメールを送らない。
	Email       string         `json:"email"`
	Name        string         `json:"name"`
	Type        Type           `json:"type"`
	Category    Category       `json:"category" binding:"required"`
	Priority    Priority       `json:"priority"`
	Title       string         `json:"title" binding:"required"`
	Message     string         `json:"message" binding:"required"`
	ActionURL   string         `json:"action_url"`
	ActionLabel string         `json:"action_label"`
	Metadata    map[string]any `json:"metadata"`
	ExpiresAt   *time.Time     `json:"expires_at"`
}

// normalize は既定値を補い、値を検証する。
func (in *Input) normalize() error {
	if strings.TrimSpace(in.UserID) == "" {
		return &InputError{msg: "user_idは必須です"}
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Message) == "" {
		return &InputError{msg: "titleとmessageは必須です"}
	}
	in.Type = Type(strings.ToUpper(string(in.Type)))
	in.Category = Category(strings.ToUpper(string(in.Category)))
	in.Priority = Priority(strings.ToUpper(string(in.Priority)))
	if in.Type == "" {
		in.Type = TypeInfo
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Type.Valid() {
		return &InputError{msg: fmt.Sprintf("不明な通知種別です: %s", in.Type)}
	}
	if !in.Category.Valid() {
		return &InputError{msg: fmt.Sprintf("不明なカテゴリです: %s", in.Category)}
	}
	if !in.Priority.Valid() {
		return &InputError{msg: fmt.Sprintf("不明な優先度です: %s", in.Priority)}
	}
	return nil
}

// Service は通知の作成・配信・管理を行う。
type Service struct {
	queries   *notificationdb.Queries
	log       *logger.Logger
	broker    Broker
	mailer    mailer.Mailer
	publisher *event.Publisher
	// defaultTimezone は通知設定を自動作成するときのタイムゾーン。
	defaultTimezone string
	now             func() time.Time
}

// NewService は通知サービスを生成する。mailerがnilの場合はメールを送らない。
func NewService(sqlDB *sql.DB, log *logger.Logger, broker Broker, m mailer.Mailer, publisher *event.Publisher, defaultTimezone string) *Service {
	if m == nil {
		m = mailer.Noop{}
	}
	if defaultTimezone == "" {
		defaultTimezone = "Europe/Paris"
	}
	return &Service{
		queries:         notificationdb.New(sqlDB),
		log:             log,
		broker:          broker,
		mailer:          m,
		publisher:       publisher,
		defaultTimezone: defaultTimezone,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Create は設定に従って通知を作成し配信する。
// 設定により抑止された場合は通知を保存せず、nilと抑止理由を返す。
func (s *Service) Create(ctx context.Context, in Input) (*Notification, Decision, error) {
	if err := in.normalize(); err != nil {
		return nil, "", err
	}

	prefs, err := s.GetPreferences(ctx, in.UserID)
	if err != nil {
		return nil, "", err
	}
	now := s.now()
	if decision := Evaluate(prefs, in.Category, now); !decision.Delivered() {
		s.log.Info("通知を抑止しました",
			"user_id", in.UserID,
			"category", string(in.Category),
			"reason", string(decision),
		)
		return nil, decision, nil
	}

	metadata := "{}"
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, "", &InputError{msg: fmt.Sprintf("metadataが不正です: %v", err)}
		}
		metadata = string(raw)
	}

	id := uuid.New().String()
	if err := s.queries.CreateNotification(ctx, notificationdb.CreateNotificationParams{
		ID:           id,
		UserID:       in.UserID,
		TenantID:     in.TenantID,
		Type:         string(in.Type),
		Category:     string(in.Category),
		Priority:     string(in.Priority),
		PriorityRank: int64(in.Priority.Rank()),
		Title:        in.Title,
		Message:      in.Message,
		ActionURL:    in.ActionURL,
		ActionLabel:  in.ActionLabel,
		Metadata:     metadata,
		ExpiresAt:    in.ExpiresAt,
		Now:          now,
	}); err != nil {
		return nil, "", fmt.Errorf("通知の作成に失敗: %w", err)
	}
	row, err := s.queries.GetNotification(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("作成した通知の取得に失敗: %w", err)
	}
	n := toNotification(row)

	s.recordHistory(ctx, n.ID, n.UserID, historySent, map[string]any{"priority": n.Priority})
	s.deliver(ctx, n, prefs, in)
	s.publisher.Emit(ctx, in.TenantID, n.ID, event.AggregateTypeNotification, event.TypeNotificationSent,
		event.NotificationSentData{UserID: n.UserID, Title: n.Title, Category: string(n.Category)})
	return &n, DecisionDeliver, nil
}

// deliver はWebSocketとメールで通知を届ける。失敗はログに記録するのみ。
func (s *Service) deliver(ctx context.Context, n Notification, prefs Preferences, in Input) {
	if prefs.PushEnabled && s.broker != nil {
		payload, err := json.Marshal(pushMessage{Type: pushTypeNotification, Notification: &n, Sound: prefs.SoundEnabled})
		if err == nil {
			err = s.broker.Publish(ctx, Push{UserID: n.UserID, Payload: payload})
		}
		if err != nil {
			s.log.Warn("プッシュ通知の配信に失敗しました", "notification_id", n.ID, "error", err)
		}
	}

	if prefs.EmailEnabled && n.Priority.AtLeast(PriorityHigh) && in.Email != "" {
		msg := mailer.Message{
			ToEmail: in.Email,
			ToName:  in.Name,
			Subject: n.Title,
			Text:    n.Message,
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			s.log.Warn("通知メールの送信に失敗しました", "notification_id", n.ID, "error", err)
		}
	}
}

// recordHistory は履歴を記録する。失敗は呼び出し元に返さない。
func (s *Service) recordHistory(ctx context.Context, notificationID, userID, action string, meta map[string]any) {
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = []byte("{}")
	}
	if err := s.queries.CreateHistory(ctx, notificationdb.CreateHistoryParams{
		ID:             uuid.New().String(),
		NotificationID: notificationID,
		UserID:         userID,
		Action:         action,
		Metadata:       string(raw),
		Now:            s.now(),
	}); err != nil {
		s.log.Warn("通知履歴の記録に失敗しました", "notification_id", notificationID, "action", action, "error", err)
	}
}

// ListFilter は通知一覧の絞り込み条件。
type ListFilter struct {
	UserID   string
	Category Category
	// Read がnilの場合は既読・未読を問わない。
	Read     *bool
	Priority Priority
	Limit    int
	Offset   int
}

// List は期限切れでない通知を優先度の高い順、新しい順に返す。
func (s *Service) List(ctx context.Context, f ListFilter) ([]Notification, error) {
	read := int64(-1)
	if f.Read != nil {
		read = 0
		if *f.Read {
			read = 1
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset := max(f.Offset, 0)

	rows, err := s.queries.ListNotifications(ctx, notificationdb.ListNotificationsParams{
		UserID:   f.UserID,
		Now:      s.now(),
		Category: string(f.Category),
		Read:     read,
		Priority: string(f.Priority),
		Limit:    int64(limit),
		Offset:   int64(offset),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, toNotification(r))
	}
	return out, nil
}

// UnreadCount は期限切れでない未読通知の件数を返す。
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.queries.CountUnread(ctx, userID, s.now())
}

// owned は通知を取得し、userIDの所有であることを確認する。
func (s *Service) owned(ctx context.Context, id, userID string) (notificationdb.Notification, error) {
	n, err := s.queries.GetNotification(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return notificationdb.Notification{}, ErrNotFound
	}
	if err != nil {
		return notificationdb.Notification{}, err
	}
	if n.UserID != userID {
		return notificationdb.Notification{}, ErrForbidden
	}
	return n, nil
}

// MarkAsRead は通知を既読にする。
func (s *Service) MarkAsRead(ctx context.Context, id, userID string) error {
	n, err := s.owned(ctx, id, userID)
	if err != nil {
		return err
	}
	if n.IsRead {
		return nil
	}
	if err := s.queries.MarkAsRead(ctx, id, s.now()); err != nil {
		return err
	}
	s.recordHistory(ctx, id, userID, historyRead, map[string]any{})
	return nil
}

// MarkAllAsRead はユーザーの未読通知を全て既読にし、更新件数を返す。
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	return s.queries.MarkAllAsRead(ctx, userID, s.now())
}

// Delete は通知を削除する。
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if _, err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	return s.queries.DeleteNotification(ctx, id)
}

// CleanupExpired は期限切れの通知を削除し、削除件数を返す。
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.queries.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("期限切れ通知の削除に失敗: %w", err)
	}
	if n > 0 {
		s.log.Info("期限切れ通知を削除しました", "count", n)
	}
	return n, nil
}

func preferencesFromRow(p notificationdb.NotificationPreference) Preferences {
	return Preferences{
		UserID:            p.UserID,
		EmailEnabled:      p.EmailEnabled,
		PushEnabled:       p.PushEnabled,
		SoundEnabled:      p.SoundEnabled,
		Reservations:      p.Reservations,
		Clients:           p.Clients,
		SEO:               p.SEO,
		System:            p.System,
		Content:           p.Content,
		Security:          p.Security,
		QuietHoursEnabled: p.QuietHoursEnabled,
		QuietHoursStart:   p.QuietHoursStart,
		QuietHoursEnd:     p.QuietHoursEnd,
		Timezone:          p.Timezone,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (p Preferences) toRow(now time.Time) notificationdb.NotificationPreference {
	return notificationdb.NotificationPreference{
		UserID:            p.UserID,
		EmailEnabled:      p.EmailEnabled,
		PushEnabled:       p.PushEnabled,
		SoundEnabled:      p.SoundEnabled,
		Reservations:      p.Reservations,
		Clients:           p.Clients,
		SEO:               p.SEO,
		System:            p.System,
		Content:           p.Content,
		Security:          p.Security,
		QuietHoursEnabled: p.QuietHoursEnabled,
		QuietHoursStart:   p.QuietHoursStart,
		QuietHoursEnd:     p.QuietHoursEnd,
		Timezone:          p.Timezone,
		UpdatedAt:         now,
	}
}

// GetPreferences はユーザーの通知設定を返す。未作成の場合は既定値で作成する。
func (s *Service) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	row, err := s.queries.GetPreference(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.queries.InsertDefaultPreference(ctx, userID, s.defaultTimezone, s.now()); err != nil {
			return Preferences{}, fmt.Errorf("通知設定の作成に失敗: %w", err)
		}
		row, err = s.queries.GetPreference(ctx, userID)
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("通知設定の取得に失敗: %w", err)
	}
	return preferencesFromRow(row), nil
}

// UpdatePreferences は指定されたフィールドのみ通知設定を更新する。
func (s *Service) UpdatePreferences(ctx context.Context, userID string, patch PreferencesPatch) (Preferences, error) {
	if err := ValidatePreferencesUpdate(patch); err != nil {
		return Preferences{}, &InputError{msg: err.Error()}
	}
	current, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	next := patch.Apply(current)
	now := s.now()
	if err := s.queries.UpsertPreference(ctx, next.toRow(now)); err != nil {
		return Preferences{}, fmt.Errorf("通知設定の更新に失敗: %w", err)
	}
	next.UpdatedAt = now
	return next, nil
}
