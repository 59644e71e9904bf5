package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Type は通知の表示種別。
type Type string

const (
	TypeInfo    Type = "INFO"
	TypeSuccess Type = "SUCCESS"
	TypeWarning Type = "WARNING"
	TypeError   Type = "ERROR"
)

// Valid は定義済みの種別かを返す。
func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return true
	}
	return false
}

// Category は通知のカテゴリ。ユーザーはカテゴリごとに受信可否を設定できる。
type Category string

const (
	CategoryReservation Category = "RESERVATION"
	CategoryClient      Category = "CLIENT"
	CategorySEO         Category = "SEO"
	CategorySystem      Category = "SYSTEM"
	CategoryContent     Category = "CONTENT"
	CategorySecurity    Category = "SECURITY"
	CategoryUser        Category = "USER"
)

// Valid は定義済みのカテゴリかを返す。
func (c Category) Valid() bool {
	switch c {
	case CategoryReservation, CategoryClient, CategorySEO, CategorySystem,
		CategoryContent, CategorySecurity, CategoryUser:
		return true
	}
	return false
}

// Priority は通知の優先度。
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// priorityRank は優先度の序列。一覧の並び順に使う。
var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Valid は定義済みの優先度かを返す。
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank は優先度の序列を返す。未定義の優先度は-1。
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

// AtLeast は優先度がfloor以上かを返す。
func (p Priority) AtLeast(floor Priority) bool {
	return p.Valid() && p.Rank() >= floor.Rank()
}

// Preferences はユーザーごとの通知設定。
type Preferences struct {
	UserID       string `json:"user_id"`
	EmailEnabled bool   `json:"email_enabled"`
	PushEnabled  bool   `json:"push_enabled"`
	SoundEnabled bool   `json:"sound_enabled"`

	Reservations bool `json:"reservations"`
	Clients      bool `json:"clients"`
	SEO          bool `json:"seo"`
	System       bool `json:"system"`
	Content      bool `json:"content"`
	Security     bool `json:"security"`

	QuietHoursEnabled bool `json:"quiet_hours_enabled"`
	// QuietHoursStart と QuietHoursEnd は"HH:MM"形式。両端を含む。
	QuietHoursStart string `json:"quiet_hours_start"`
	QuietHoursEnd   string `json:"quiet_hours_end"`
	// Timezone は静音時間を判定するIANAタイムゾーン。
	Timezone string `json:"timezone"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPreferences は全カテゴリ・全チャネル有効、静音時間無効の設定を返す。
func DefaultPreferences(userID, tz string) Preferences {
	return Preferences{
		UserID:       userID,
		EmailEnabled: true,
		PushEnabled:  true,
		SoundEnabled: true,
		Reservations: true,
		Clients:      true,
		SEO:          true,
		System:       true,
		Content:      true,
		Security:     true,
		Timezone:     tz,
	}
}

// CategoryEnabled はカテゴリの通知を受け取る設定かを返す。USERはsystemの設定に従う。
// 未知のカテゴリは受け取る。
func CategoryEnabled(p Preferences, cat Category) bool {
	switch cat {
	case CategoryReservation:
		return p.Reservations
	case CategoryClient:
		return p.Clients
	case CategorySEO:
		return p.SEO
	case CategorySystem, CategoryUser:
		return p.System
	case CategoryContent:
		return p.Content
	case CategorySecurity:
		return p.Security
	}
	return true
}

// InQuietHours はnowが静音時間内かを返す。
// 時刻は設定のタイムゾーン（読み込めなければUTC）で分単位に丸めて比較する。
// 開始が終了より後の場合は日付をまたぐ区間として扱う。
func InQuietHours(p Preferences, now time.Time) bool {
	if !p.QuietHoursEnabled || p.QuietHoursStart == "" || p.QuietHoursEnd == "" {
		return false
	}
	loc := time.UTC
	if p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}
	cur := now.In(loc).Format(clockLayout)
	start, end := p.QuietHoursStart, p.QuietHoursEnd
	if start > end {
		return cur >= start || cur <= end
	}
	return cur >= start && cur <= end
}

// Decision は通知を配信するかの判定結果。
type Decision string

const (
	DecisionDeliver              Decision = "deliver"
	DecisionSuppressedCategory   Decision = "suppressed_category"
	DecisionSuppressedQuietHours Decision = "suppressed_quiet_hours"
)

// Delivered は配信する判定かを返す。
func (d Decision) Delivered() bool {
	return d == DecisionDeliver
}

// Evaluate は設定に基づき通知を配信するかを判定する。カテゴリ設定を静音時間より先に見る。
func Evaluate(p Preferences, cat Category, now time.Time) Decision {
	if !CategoryEnabled(p, cat) {
		return DecisionSuppressedCategory
	}
	if InQuietHours(p, now) {
		return DecisionSuppressedQuietHours
	}
	return DecisionDeliver
}

// clockLayout は静音時間の時刻形式。
const clockLayout = "15:04"

// validClock は"HH:MM"（00:00〜23:59）形式かを返す。
func validClock(s string) bool {
	if len(s) != len(clockLayout) {
		return false
	}
	_, err := time.Parse(clockLayout, s)
	return err == nil
}

// PreferencesPatch は通知設定の部分更新。nilのフィールドは変更しない。
type PreferencesPatch struct {
	EmailEnabled      *bool   `json:"email_enabled"`
	PushEnabled       *bool   `json:"push_enabled"`
	SoundEnabled      *bool   `json:"sound_enabled"`
	Reservations      *bool   `json:"reservations"`
	Clients           *bool   `json:"clients"`
	SEO               *bool   `json:"seo"`
	System            *bool   `json:"system"`
	Content           *bool   `json:"content"`
	Security          *bool   `json:"security"`
	QuietHoursEnabled *bool   `json:"quiet_hours_enabled"`
	QuietHoursStart   *string `json:"quiet_hours_start"`
	QuietHoursEnd     *string `json:"quiet_hours_end"`
	Timezone          *string `json:"timezone"`
}

// ValidatePreferencesUpdate は部分更新の値を検証する。
// 時刻は空文字（解除）か"HH:MM"、タイムゾーンは読み込めるIANA名でなければならない。
func ValidatePreferencesUpdate(patch PreferencesPatch) error {
	var errs []error
	if patch.QuietHoursStart != nil && *patch.QuietHoursStart != "" && !validClock(*patch.QuietHoursStart) {
		errs = append(errs, fmt.Errorf("quiet_hours_startはHH:MM形式で指定してください: %q", *patch.QuietHoursStart))
	}
	if patch.QuietHoursEnd != nil && *patch.QuietHoursEnd != "" && !validClock(*patch.QuietHoursEnd) {
		errs = append(errs, fmt.Errorf("quiet_hours_endはHH:MM形式で指定してください: %q", *patch.QuietHoursEnd))
	}
	if patch.Timezone != nil {
		tz := strings.TrimSpace(*patch.Timezone)
		if _, err := time.LoadLocation(tz); tz == "" || err != nil {
			errs = append(errs, fmt.Errorf("不明なタイムゾーンです: %q", *patch.Timezone))
		}
	}
	return errors.Join(errs...)
}

// Apply は部分更新をpに適用した結果を返す。
func (patch PreferencesPatch) Apply(p Preferences) Preferences {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.EmailEnabled, patch.EmailEnabled)
	set(&p.PushEnabled, patch.PushEnabled)
	set(&p.SoundEnabled, patch.SoundEnabled)
	set(&p.Reservations, patch.Reservations)
	set(&p.Clients, patch.Clients)
	set(&p.SEO, patch.SEO)
	set(&p.System, patch.System)
	set(&p.Content, patch.Content)
	set(&p.Security, patch.Security)
	set(&p.QuietHoursEnabled, patch.QuietHoursEnabled)
	if patch.QuietHoursStart != nil {
		p.QuietHoursStart = *patch.QuietHoursStart
	}
	if patch.QuietHoursEnd != nil {
		p.QuietHoursEnd = *patch.QuietHoursEnd
	}
	if patch.Timezone != nil {
		p.Timezone = strings.TrimSpace(*patch.Timezone)
	}
	return p
}
