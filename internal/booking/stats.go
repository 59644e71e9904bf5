package booking

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// statsResponse は予約統計のJSONレスポンス。
type statsResponse struct {
	ByStatus map[Status]int64 `json:"by_status"`
	Total    int64            `json:"total"`
	Upcoming int64            `json:"upcoming"`
	Clients  int64            `json:"clients"`
}

// handleGetStats は予約統計を処理するハンドラを返す。from・toは開始日時で絞り込む。
func (s *Server) handleGetStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		from, ok := optionalTimeQuery(c, "from")
		if !ok {
			return
		}
		to, ok := optionalTimeQuery(c, "to")
		if !ok {
			return
		}

		ctx := c.Request.Context()
		tenantID := middleware.TenantID(c)
		counts, err := s.queries.CountAppointmentsByStatus(ctx, tenantID, from, to)
		if err != nil {
			s.log.Error("予約統計取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "統計の取得に失敗しました"})
			return
		}
		upcoming, err := s.queries.CountUpcomingAppointments(ctx, tenantID, s.now())
		if err != nil {
			s.log.Error("予約統計取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "統計の取得に失敗しました"})
			return
		}
		clients, err := s.queries.CountClients(ctx, tenantID, "")
		if err != nil {
			s.log.Error("顧客数取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "統計の取得に失敗しました"})
			return
		}

		resp := statsResponse{ByStatus: make(map[Status]int64, len(allStatuses)), Upcoming: upcoming, Clients: clients}
		for _, st := range allStatuses {
			resp.ByStatus[st] = 0
		}
		for _, sc := range counts {
			resp.ByStatus[Status(sc.Status)] = sc.Count
			resp.Total += sc.Count
		}
		c.JSON(http.StatusOK, resp)
	}
}
