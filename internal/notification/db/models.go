package db

import "time"

// Notification はnotificationsテーブルの行。
type Notification struct {
	ID           string
	UserID       string
	TenantID     string
	Type         string
	Category     string
	Priority     string
	PriorityRank int64
	Title        string
	Message      string
	ActionURL    string
	ActionLabel  string
	Metadata     string
	IsRead       bool
	ReadAt       *time.Time
	ExpiresAt    *time.Time
	CreatedAt    time.Time
}

// NotificationPreference はnotification_preferencesテーブルの行。
type NotificationPreference struct {
	UserID            string
	EmailEnabled      bool
	PushEnabled       bool
	SoundEnabled      bool
	Reservations      bool
	Clients           bool
	SEO               bool
	System            bool
	Content           bool
	Security          bool
	QuietHoursEnabled bool
	QuietHoursStart   string
	QuietHoursEnd     string
	Timezone          string
	UpdatedAt         time.Time
}

// NotificationHistory はnotification_historyテーブルの行。
type NotificationHistory struct {
	ID             string
	NotificationID string
	UserID         string
	Action         string
	Metadata       string
	CreatedAt      time.Time
}
