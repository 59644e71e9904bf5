package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeTenant はテナントエンティティを表す。
	AggregateTypeTenant AggregateType = "Tenant"
	// AggregateTypeUser はテナントユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
	// AggregateTypeClient は顧客エンティティを表す。
	AggregateTypeClient AggregateType = "Client"
	// AggregateTypeAppointment は予約エンティティを表す。
	AggregateTypeAppointment AggregateType = "Appointment"
	// AggregateTypeNotification は通知エンティティを表す。
	AggregateTypeNotification AggregateType = "Notification"
	// AggregateTypeContentPage はコンテンツページエンティティを表す。
	AggregateTypeContentPage AggregateType = "ContentPage"
)

// Valid は定義済みのAggregate種別かを返す。
func (a AggregateType) Valid() bool {
	switch a {
	case AggregateTypeTenant, AggregateTypeUser, AggregateTypeClient,
		AggregateTypeAppointment, AggregateTypeNotification, AggregateTypeContentPage:
		return true
	}
	return false
}

// Type はイベントの種類を表す。
type Type string

const (
	// TypeTenantCreated はテナントが作成されたことを表す。
	TypeTenantCreated Type = "TenantCreated"
	// TypeTenantUpdated はテナント情報が更新されたことを表す。
	TypeTenantUpdated Type = "TenantUpdated"
	// TypeTenantTemplateChanged はテナントのテンプレートが切り替えられたことを表す。
	TypeTenantTemplateChanged Type = "TenantTemplateChanged"

	// TypeUserCreated はテナントユーザーが作成されたことを表す。
	TypeUserCreated Type = "UserCreated"

	// TypeClientCreated は顧客が登録されたことを表す。
	TypeClientCreated Type = "ClientCreated"
	// TypeClientUpdated は顧客情報が更新されたことを表す。
	TypeClientUpdated Type = "ClientUpdated"
	// TypeClientDeleted は顧客が削除されたことを表す。
	TypeClientDeleted Type = "ClientDeleted"

	// TypeAppointmentBooked は予約が作成されたことを表す。
	TypeAppointmentBooked Type = "AppointmentBooked"
	// TypeAppointmentConfirmed は予約が確定されたことを表す。
	TypeAppointmentConfirmed Type = "AppointmentConfirmed"
	// TypeAppointmentCancelled は予約がキャンセルされたことを表す。
	TypeAppointmentCancelled Type = "AppointmentCancelled"
	// TypeAppointmentCompleted は予約の施術が完了したことを表す。
	TypeAppointmentCompleted Type = "AppointmentCompleted"
	// TypeAppointmentNoShow は予約客が来店しなかったことを表す。
	TypeAppointmentNoShow Type = "AppointmentNoShow"
	// TypeAppointmentRescheduled は予約日時が変更されたことを表す。
	TypeAppointmentRescheduled Type = "AppointmentRescheduled"

	// TypeContentPublished はコンテンツページが公開されたことを表す。
	TypeContentPublished Type = "ContentPublished"
	// TypeContentSEOWarning は公開されたページにSEO上の問題が見つかったことを表す。
	TypeContentSEOWarning Type = "ContentSEOWarning"

	// TypeNotificationSent は通知が送信されたことを表す。
	TypeNotificationSent Type = "NotificationSent"
)

// Event はEvent Sourcingにおける不変のイベントレコードを表す。
// すべての状態変更はこの構造体としてEvent Storeに永続化される。
type Event struct {
	// Seq はEvent Store全体での追記順の通番。購読側のカーソルに使用する。
	Seq int64 `json:"seq"`
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// TenantID はイベントが属するテナントのID。
	TenantID string `json:"tenant_id"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。楽観的排他制御に使用する。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// AppendRequest はEvent Storeへのイベント追記リクエスト。
type AppendRequest struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType AggregateType   `json:"aggregate_type"`
	EventType     Type            `json:"event_type"`
	TenantID      string          `json:"tenant_id"`
	Data          json.RawMessage `json:"data"`
	// ExpectedVersion を指定した場合、最新バージョン+1と一致しなければ追記は拒否される。
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// TenantCreatedData はTenantCreatedイベントのデータ。
type TenantCreatedData struct {
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Email      string `json:"email"`
	TemplateID string `json:"template_id"`
	// OwnerID は同時に作成されたオーナーのID。作成しなかった場合は空。
	OwnerID string `json:"owner_id,omitempty"`
}

// TenantUpdatedData はTenantUpdatedイベントのデータ。
type TenantUpdatedData struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

// TenantTemplateChangedData はTenantTemplateChangedイベントのデータ。
type TenantTemplateChangedData struct {
	PreviousTemplateID string `json:"previous_template_id"`
	TemplateID         string `json:"template_id"`
}

// UserCreatedData はUserCreatedイベントのデータ。
type UserCreatedData struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// ClientData はClientCreated・ClientUpdated・ClientDeletedイベントのデータ。
type ClientData struct {
	ClientID  string `json:"client_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// FullName は顧客の氏名を返す。
func (d ClientData) FullName() string {
	if d.LastName == "" {
		return d.FirstName
	}
	return d.FirstName + " " + d.LastName
}

// AppointmentData は予約関連イベントのデータ。
type AppointmentData struct {
	AppointmentID string    `json:"appointment_id"`
	ClientName    string    `json:"client_name"`
	ClientEmail   string    `json:"client_email,omitempty"`
	ServiceName   string    `json:"service_name,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"`
	Source        string    `json:"source,omitempty"`
	// PreviousStatus はステータス遷移イベントでの遷移前ステータス。
	PreviousStatus string `json:"previous_status,omitempty"`
	// PreviousStartTime はAppointmentRescheduledでの変更前開始日時。
	PreviousStartTime *time.Time `json:"previous_start_time,omitempty"`
}

// NotificationSentData はNotificationSentイベントのデータ。
type NotificationSentData struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Category は通知カテゴリ。
	Category string `json:"category"`
}

// ContentPageData はContentPublished・ContentSEOWarningイベントのデータ。
type ContentPageData struct {
	PageID string `json:"page_id"`
	Slug   string `json:"slug"`
	Title  string `json:"title"`
	// Warnings はContentSEOWarningで検出された問題の一覧。
	Warnings []string `json:"warnings,omitempty"`
}
