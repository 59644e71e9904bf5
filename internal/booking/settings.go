package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	bookingdb "github.com/nao1215/tenantdesk/internal/booking/db"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

func settingsFromRow(r bookingdb.BookingSettings) Settings {
	return Settings{
		MinimumNoticeHours:    int(r.MinimumNoticeHours),
		MaxAdvanceBookingDays: int(r.MaxAdvanceBookingDays),
		AllowWeekendBookings:  r.AllowWeekendBookings,
		SlotMinutes:           int(r.SlotMinutes),
		OpeningHour:           int(r.OpeningHour),
		ClosingHour:           int(r.ClosingHour),
		Timezone:              r.Timezone,
	}
}

func (s Settings) toRow(tenantID string) bookingdb.BookingSettings {
	return bookingdb.BookingSettings{
		TenantID:              tenantID,
		MinimumNoticeHours:    int64(s.MinimumNoticeHours),
		MaxAdvanceBookingDays: int64(s.MaxAdvanceBookingDays),
		AllowWeekendBookings:  s.AllowWeekendBookings,
		SlotMinutes:           int64(s.SlotMinutes),
		OpeningHour:           int64(s.OpeningHour),
		ClosingHour:           int64(s.ClosingHour),
		Timezone:              s.Timezone,
	}
}

// LoadSettings はテナントの予約設定を返す。未登録の場合は既定値を返す。
func (s *Server) LoadSettings(ctx context.Context, tenantID string) (Settings, error) {
	row, err := s.queries.GetBookingSettings(ctx, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("予約設定の取得に失敗: %w", err)
	}
	return settingsFromRow(row), nil
}

// handleGetSettings は予約設定の取得を処理するハンドラを返す。
func (s *Server) handleGetSettings() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := middleware.TenantID(c)
		settings, err := s.LoadSettings(c.Request.Context(), tenantID)
		if err != nil {
			s.log.Error("予約設定取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約設定の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, settings)
	}
}

// settingsRequest は予約設定更新リクエストのJSON構造。省略したフィールドは現在値を維持する。
type settingsRequest struct {
	MinimumNoticeHours    *int    `json:"minimum_notice_hours"`
	MaxAdvanceBookingDays *int    `json:"max_advance_booking_days"`
	AllowWeekendBookings  *bool   `json:"allow_weekend_bookings"`
	SlotMinutes           *int    `json:"slot_minutes"`
	OpeningHour           *int    `json:"opening_hour"`
	ClosingHour           *int    `json:"closing_hour"`
	Timezone              *string `json:"timezone"`
}

func (r settingsRequest) apply(s *Settings) {
	if r.MinimumNoticeHours != nil {
		s.MinimumNoticeHours = *r.MinimumNoticeHours
	}
	if r.MaxAdvanceBookingDays != nil {
		s.MaxAdvanceBookingDays = *r.MaxAdvanceBookingDays
	}
	if r.AllowWeekendBookings != nil {
		s.AllowWeekendBookings = *r.AllowWeekendBookings
	}
	if r.SlotMinutes != nil {
		s.SlotMinutes = *r.SlotMinutes
	}
	if r.OpeningHour != nil {
		s.OpeningHour = *r.OpeningHour
	}
	if r.ClosingHour != nil {
		s.ClosingHour = *r.ClosingHour
	}
	if r.Timezone != nil {
		s.Timezone = *r.Timezone
	}
}

// handleUpdateSettings は予約設定の更新を処理するハンドラを返す。
func (s *Server) handleUpdateSettings() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req settingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		ctx := c.Request.Context()
		tenantID := middleware.TenantID(c)
		settings, err := s.LoadSettings(ctx, tenantID)
		if err != nil {
			s.log.Error("予約設定取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約設定の更新に失敗しました"})
			return
		}
		req.apply(&settings)
		if err := settings.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := s.queries.UpsertBookingSettings(ctx, settings.toRow(tenantID), s.now()); err != nil {
			s.log.Error("予約設定更新エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約設定の更新に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, settings)
	}
}
