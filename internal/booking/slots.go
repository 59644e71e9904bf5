package booking

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// DayAvailability はテナントの予約設定と既存予約からdateの空き状況を計算する。
func (s *Server) DayAvailability(ctx context.Context, tenantID string, settings Settings, date string) (DaySummary, error) {
	day, err := ParseDate(date)
	if err != nil {
		return DaySummary{}, &InputError{msg: err.Error()}
	}
	slots := GenerateSlots(settings, day, s.now())
	from, to := DayBounds(settings, day)
	appts, err := s.queries.ListActiveAppointmentsBetween(ctx, tenantID, from.UTC(), to.UTC())
	if err != nil {
		return DaySummary{}, fmt.Errorf("予約の取得に失敗: %w", err)
	}
	busy := make([]Interval, 0, len(appts))
	for _, a := range appts {
		busy = append(busy, Interval{Start: a.StartTime, End: a.EndTime})
	}
	return Summarize(date, slots, busy), nil
}

// respondAvailability はテナントのdateの空き状況を返す。
func (s *Server) respondAvailability(c *gin.Context, tenantID, date string) {
	ctx := c.Request.Context()
	settings, err := s.LoadSettings(ctx, tenantID)
	if err != nil {
		s.log.Error("予約設定取得エラー", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "空き状況の取得に失敗しました"})
		return
	}
	summary, err := s.DayAvailability(ctx, tenantID, settings, date)
	if err != nil {
		var inputErr *InputError
		if errors.As(err, &inputErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": inputErr.Error()})
			return
		}
		s.log.Error("空き状況取得エラー", "tenant_id", tenantID, "date", date, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "空き状況の取得に失敗しました"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleGetAvailability は1日分の空き状況を処理するハンドラを返す。
func (s *Server) handleGetAvailability() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.respondAvailability(c, middleware.TenantID(c), c.Query("date"))
	}
}

// availabilityBatchRequest は複数日の空き状況リクエストのJSON構造。
type availabilityBatchRequest struct {
	Dates []string `json:"dates" binding:"required"`
}

// maxBatchDates はまとめて問い合わせられる日数の上限。
const maxBatchDates = 62

// handleGetAvailabilityBatch は複数日の空き状況を処理するハンドラを返す。不正な日付は結果から除く。
func (s *Server) handleGetAvailabilityBatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req availabilityBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if len(req.Dates) > maxBatchDates {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("datesは%d件以内で指定してください", maxBatchDates)})
			return
		}

		ctx := c.Request.Context()
		tenantID := middleware.TenantID(c)
		settings, err := s.LoadSettings(ctx, tenantID)
		if err != nil {
			s.log.Error("予約設定取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "空き状況の取得に失敗しました"})
			return
		}

		result := make(map[string]DaySummary, len(req.Dates))
		for _, date := range req.Dates {
			if _, err := ParseDate(date); err != nil {
				continue
			}
			summary, err := s.DayAvailability(ctx, tenantID, settings, date)
			if err != nil {
				s.log.Error("空き状況取得エラー", "tenant_id", tenantID, "date", date, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "空き状況の取得に失敗しました"})
				return
			}
			result[date] = summary
		}
		c.JSON(http.StatusOK, result)
	}
}
