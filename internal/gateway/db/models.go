package db

import "time"

// SuperAdmin はsuper_adminsテーブルの行。
type SuperAdmin struct {
	ID                string
	Email             string
	PasswordHash      string
	Name              string
	IsActive          bool
	TOTPSecret        string
	TOTPPendingSecret string
	TOTPEnabled       bool
	CreatedAt         time.Time
	LastLoginAt       *time.Time
}
