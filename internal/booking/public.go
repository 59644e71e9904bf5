package booking

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/tenantdesk/pkg/httpclient"
)

// publicTenant はテナントサービス内部APIが返すテナント情報のうち公開予約で使う項目。
type publicTenant struct {
	ID       string `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// resolveTenant はスラッグからテナントを解決する。
// 存在しない場合は404、無効化されている場合は403、テナントサービスの障害時は502を返しfalseを返す。
func (s *Server) resolveTenant(c *gin.Context) (publicTenant, bool) {
	slug := c.Param("slug")
	var t publicTenant
	err := s.tenants.GetJSON(c.Request.Context(), "/api/v1/internal/tenants/by-slug/"+url.PathEscape(slug), &t)
	if httpclient.IsStatus(err, http.StatusNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "テナントが見つかりません"})
		return publicTenant{}, false
	}
	if err != nil {
		s.log.Error("テナント解決エラー", "slug", slug, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "テナント情報の取得に失敗しました"})
		return publicTenant{}, false
	}
	if !t.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "このテナントは現在予約を受け付けていません"})
		return publicTenant{}, false
	}
	return t, true
}

// handlePublicAvailability は公開予約ページの空き状況を処理するハンドラを返す。
func (s *Server) handlePublicAvailability() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := s.resolveTenant(c)
		if !ok {
			return
		}
		s.respondAvailability(c, t.ID, c.Query("date"))
	}
}

// publicReservationRequest は公開予約リクエストのJSON構造。
type publicReservationRequest struct {
	ClientName  string    `json:"client_name" binding:"required"`
	ClientEmail string    `json:"client_email" binding:"required"`
	ClientPhone string    `json:"client_phone"`
	ServiceName string    `json:"service_name"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
	Notes       string    `json:"notes"`
}

// handlePublicReservation は公開予約ページからの予約を処理するハンドラを返す。
// 現在空いている生成済みの枠のみ受け付け、同じメールアドレスの顧客がいれば紐付ける。
func (s *Server) handlePublicReservation() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req publicReservationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		email, err := normalizeEmail(req.ClientEmail)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		t, ok := s.resolveTenant(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		settings, err := s.LoadSettings(ctx, t.ID)
		if err != nil {
			s.log.Error("予約設定取得エラー", "tenant_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約の作成に失敗しました"})
			return
		}
		date := req.StartTime.In(settings.Location()).Format(dateLayout)
		summary, err := s.DayAvailability(ctx, t.ID, settings, date)
		if err != nil {
			s.log.Error("空き状況取得エラー", "tenant_id", t.ID, "date", date, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約の作成に失敗しました"})
			return
		}
		if !containsSlot(summary.Slots, req.StartTime, req.EndTime) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "指定の時間枠は予約できません"})
			return
		}

		booking := BookingRequest{
			ClientName:  strings.TrimSpace(req.ClientName),
			ClientEmail: email,
			ClientPhone: strings.TrimSpace(req.ClientPhone),
			ServiceName: strings.TrimSpace(req.ServiceName),
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Notes:       req.Notes,
			Status:      StatusPending,
			Source:      SourcePublic,
		}
		client, err := s.queries.GetClientByEmail(ctx, t.ID, email)
		switch {
		case err == nil:
			booking.ClientID = client.ID
		case !errors.Is(err, sql.ErrNoRows):
			s.log.Error("顧客取得エラー", "tenant_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約の作成に失敗しました"})
			return
		}

		appt, err := s.BookAppointment(ctx, t.ID, booking)
		if err != nil {
			s.respondBookingError(c, t.ID, err)
			return
		}
		c.JSON(http.StatusCreated, toAppointmentResponse(appt))
	}
}

// containsSlot はslotsに開始・終了が一致する枠があるかを返す。
func containsSlot(slots []Slot, start, end time.Time) bool {
	for _, sl := range slots {
		if sl.Start.Equal(start) && sl.End.Equal(end) {
			return true
		}
	}
	return false
}
