package db

import "time"

// Event はeventsテーブルの行。
type Event struct {
	Seq           int64
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	TenantID      string
	Data          string
	Version       int64
	CreatedAt     time.Time
}
