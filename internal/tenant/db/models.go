package db

import "time"

// Template はtemplatesテーブルの行。
type Template struct {
	ID          string
	Name        string
	DisplayName string
	Category    string
	Description string
	IsActive    bool
	CreatedAt   time.Time
}

// TemplatePage はtemplate_pagesテーブルの行。
type TemplatePage struct {
	ID         string
	TemplateID string
	Slug       string
	Title      string
	OrderIndex int64
}

// TemplateSidebarConfig はtemplate_sidebar_configsテーブルの行。
type TemplateSidebarConfig struct {
	ID         string
	TemplateID string
	ElementID  string
	Label      string
	Icon       string
	Href       string
	Category   string
	OrderIndex int64
	IsRequired bool
}

// Tenant はtenantsテーブルの行。
type Tenant struct {
	ID         string
	Slug       string
	Name       string
	Email      string
	Domain     string
	TemplateID string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TenantWithStats は一覧表示用のテナント行。
type TenantWithStats struct {
	Tenant
	TemplateName string
	UserCount    int64
}

// TenantUser はtenant_usersテーブルの行。
type TenantUser struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

// SidebarOverride はtenant_sidebar_overridesテーブルの行。
type SidebarOverride struct {
	TenantID   string
	ElementID  string
	Action     string
	Label      string
	Icon       string
	Href       string
	Category   string
	OrderIndex int64
	CreatedAt  time.Time
}

// 上書き操作の種類。
const (
	OverrideAdd    = "ADD"
	OverrideRemove = "REMOVE"
)

// ContentPage はcontent_pagesテーブルの行。
type ContentPage struct {
	ID              string
	TenantID        string
	Slug            string
	Title           string
	MetaTitle       string
	MetaDescription string
	Body            string
	Status          string
	OrderIndex      int64
	PublishedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// コンテンツページの公開状態。
const (
	PageDraft     = "DRAFT"
	PagePublished = "PUBLISHED"
	PageArchived  = "ARCHIVED"
)
