package booking

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	bookingdb "github.com/nao1215/tenantdesk/internal/booking/db"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

const (
	// defaultClientLimit は顧客一覧の既定件数。
	defaultClientLimit = 50
	// maxClientLimit は顧客一覧の最大件数。
	maxClientLimit = 100
)

// clientResponse は顧客のJSON表現。
type clientResponse struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toClientResponse(c bookingdb.Client) clientResponse {
	return clientResponse{
		ID:        c.ID,
		TenantID:  c.TenantID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
		Notes:     c.Notes,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func clientEventData(c bookingdb.Client) event.ClientData {
	return event.ClientData{ClientID: c.ID, FirstName: c.FirstName, LastName: c.LastName, Email: c.Email}
}

// normalizeEmail はメールアドレスを小文字化して検証する。空文字は許可する。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", errors.New("メールアドレスの形式が不正です")
	}
	return email, nil
}

// clientRequest は顧客の作成・更新リクエストのJSON構造。
type clientRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Notes     *string `json:"notes"`
}

// apply はリクエストで指定されたフィールドをcに適用し、検証する。
func (r clientRequest) apply(c *bookingdb.Client) error {
	if r.FirstName != nil {
		c.FirstName = strings.TrimSpace(*r.FirstName)
	}
	if r.LastName != nil {
		c.LastName = strings.TrimSpace(*r.LastName)
	}
	if r.Email != nil {
		email, err := normalizeEmail(*r.Email)
		if err != nil {
			return err
		}
		c.Email = email
	}
	if r.Phone != nil {
		c.Phone = strings.TrimSpace(*r.Phone)
	}
	if r.Notes != nil {
		c.Notes = *r.Notes
	}
	if c.FirstName == "" || c.LastName == "" {
		return errors.New("first_nameとlast_nameは必須です")
	}
	return nil
}

// clientListResponse は顧客一覧のJSONレスポンス。
type clientListResponse struct {
	Items  []clientResponse `json:"items"`
	Total  int64            `json:"total"`
	Limit  int64            `json:"limit"`
	Offset int64            `json:"offset"`
}

// handleListClients は顧客の検索・一覧を処理するハンドラを返す。
func (s *Server) handleListClients() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset, ok := pagination(c, defaultClientLimit, maxClientLimit)
		if !ok {
			return
		}
		pattern := ""
		if q := strings.TrimSpace(c.Query("q")); q != "" {
			pattern = "%" + q + "%"
		}

		ctx := c.Request.Context()
		tenantID := middleware.TenantID(c)
		rows, err := s.queries.ListClients(ctx, bookingdb.ListClientsParams{
			TenantID: tenantID,
			Pattern:  pattern,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			s.log.Error("顧客一覧取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "顧客の取得に失敗しました"})
			return
		}
		total, err := s.queries.CountClients(ctx, tenantID, pattern)
		if err != nil {
			s.log.Error("顧客数取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "顧客の取得に失敗しました"})
			return
		}

		items := make([]clientResponse, 0, len(rows))
		for _, r := range rows {
			items = append(items, toClientResponse(r))
		}
		c.JSON(http.StatusOK, clientListResponse{Items: items, Total: total, Limit: limit, Offset: offset})
	}
}

// handleCreateClient は顧客作成を処理するハンドラを返す。
func (s *Server) handleCreateClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req clientRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		var client bookingdb.Client
		if err := req.apply(&client); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		tenantID := middleware.TenantID(c)
		id := uuid.New().String()
		if err := s.queries.CreateClient(ctx, bookingdb.CreateClientParams{
			ID:        id,
			TenantID:  tenantID,
			FirstName: client.FirstName,
			LastName:  client.LastName,
			Email:     client.Email,
			Phone:     client.Phone,
			Notes:     client.Notes,
			Now:       s.now(),
		}); err != nil {
			if database.IsUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "このメールアドレスの顧客は既に存在します"})
				return
			}
			s.log.Error("顧客作成エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "顧客の作成に失敗しました"})
			return
		}

		created, ok := s.lookupClient(c, id)
		if !ok {
			return
		}
		s.publisher.Emit(ctx, tenantID, created.ID, event.AggregateTypeClient, event.TypeClientCreated, clientEventData(created))
		c.JSON(http.StatusCreated, toClientResponse(created))
	}
}

// handleGetClient は顧客詳細を処理するハンドラを返す。
func (s *Server) handleGetClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := s.lookupClient(c, c.Param("id"))
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toClientResponse(client))
	}
}

// handleUpdateClient は顧客更新を処理するハンドラを返す。省略したフィールドは変更しない。
func (s *Server) handleUpdateClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req clientRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		client, ok := s.lookupClient(c, c.Param("id"))
		if !ok {
			return
		}
		if err := req.apply(&client); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		if err := s.queries.UpdateClient(ctx, bookingdb.UpdateClientParams{
			ID:        client.ID,
			TenantID:  client.TenantID,
			FirstName: client.FirstName,
			LastName:  client.LastName,
			Email:     client.Email,
			Phone:     client.Phone,
			Notes:     client.Notes,
			Now:       s.now(),
		}); err != nil {
			if database.IsUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "このメールアドレスの顧客は既に存在します"})
				return
			}
			s.log.Error("顧客更新エラー", "client_id", client.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "顧客の更新に失敗しました"})
			return
		}

		updated, ok := s.lookupClient(c, client.ID)
		if !ok {
			return
		}
		s.publisher.Emit(ctx, updated.TenantID, updated.ID, event.AggregateTypeClient, event.TypeClientUpdated, clientEventData(updated))
		c.JSON(http.StatusOK, toClientResponse(updated))
	}
}

// handleDeleteClient は顧客削除を処理するハンドラを返す。顧客の予約は残り、client_idが外れる。
func (s *Server) handleDeleteClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := s.lookupClient(c, c.Param("id"))
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if _, err := s.queries.DeleteClient(ctx, client.TenantID, client.ID); err != nil {
			s.log.Error("顧客削除エラー", "client_id", client.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "顧客の削除に失敗しました"})
			return
		}
		s.publisher.Emit(ctx, client.TenantID, client.ID, event.AggregateTypeClient, event.TypeClientDeleted, clientEventData(client))
		c.JSON(http.StatusOK, gin.H{"message": "顧客を削除しました"})
	}
}

// lookupClient はテナント内の顧客を取得する。見つからない場合は404を返しfalseを返す。
func (s *Server) lookupClient(c *gin.Context, id string) (bookingdb.Client, bool) {
	tenantID := middleware.TenantID(c)
	client, err := s.queries.GetClient(c.Request.Context(), tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "顧客が見つかりません"})
		return bookingdb.Client{}, false
	}
	if err != nil {
		s.log.Error("顧客取得エラー", "client_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "顧客の取得に失敗しました"})
		return bookingdb.Client{}, false
	}
	return client, true
}

// pagination はlimitとoffsetのクエリパラメータを解釈する。limitは1〜maxに丸める。
// 数値でない場合は400を返しfalseを返す。
func pagination(c *gin.Context, def, upper int64) (limit, offset int64, ok bool) {
	limit = def
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limitは整数で指定してください"})
			return 0, 0, false
		}
		limit = min(max(v, 1), upper)
	}
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offsetは0以上の整数で指定してください"})
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}
