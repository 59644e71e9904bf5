package db

import "time"

// Client はclientsテーブルの行。
type Client struct {
	ID        string
	TenantID  string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment はappointmentsテーブルの行。
type Appointment struct {
	ID          string
	TenantID    string
	ClientID    *string
	ClientName  string
	ClientEmail string
	ClientPhone string
	ServiceName string
	StartTime   time.Time
	EndTime     time.Time
	Status      string
	Notes       string
	Source      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BookingSettings はbooking_settingsテーブルの行。
type BookingSettings struct {
	TenantID              string
	MinimumNoticeHours    int64
	MaxAdvanceBookingDays int64
	AllowWeekendBookings  bool
	SlotMinutes           int64
	OpeningHour           int64
	ClosingHour           int64
	Timezone              string
	UpdatedAt             time.Time
}
