package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	bookingdb "github.com/nao1215/tenantdesk/internal/booking/db"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

// Status は予約のステータス。
type Status string

const (
	// StatusPending は確定待ちの予約。
	StatusPending Status = "PENDING"
	// StatusConfirmed は確定済みの予約。
	StatusConfirmed Status = "CONFIRMED"
	// StatusCancelled はキャンセルされた予約。
	StatusCancelled Status = "CANCELLED"
	// StatusCompleted は施術が完了した予約。
	StatusCompleted Status = "COMPLETED"
	// StatusNoShow は来店がなかった予約。
	StatusNoShow Status = "NO_SHOW"
)

// allStatuses は統計で常に返すステータスの一覧。
var allStatuses = []Status{StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow}

// transitions は各ステータスから遷移できるステータス。
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// transitionEvents は遷移先ステータスごとに発行するイベント。
var transitionEvents = map[Status]event.Type{
	StatusConfirmed: event.TypeAppointmentConfirmed,
	StatusCancelled: event.TypeAppointmentCancelled,
	StatusCompleted: event.TypeAppointmentCompleted,
	StatusNoShow:    event.TypeAppointmentNoShow,
}

// Valid は定義済みのステータスかを返す。
func (s Status) Valid() bool {
	for _, st := range allStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// CanTransition はfromからtoへ遷移できるかを返す。
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reschedulable は日時や内容を変更できるステータスかを返す。
func (s Status) Reschedulable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Source は予約の受付経路。
type Source string

const (
	// SourceAdmin は管理画面から登録された予約。
	SourceAdmin Source = "ADMIN"
	// SourcePublic は公開予約ページから登録された予約。
	SourcePublic Source = "PUBLIC"
)

var (
	// ErrSlotConflict は時間帯が他の予約と重なる場合のエラー。
	ErrSlotConflict = errors.New("指定の時間帯は既に予約されています")
	// ErrInvalidTransition は許可されていないステータス遷移のエラー。
	ErrInvalidTransition = errors.New("このステータスには変更できません")
	// ErrUnknownClient はテナントに存在しない顧客を指定した場合のエラー。
	ErrUnknownClient = errors.New("指定の顧客が見つかりません")
)

// InputError は予約入力の検証エラー。
type InputError struct {
	msg string
}

func (e *InputError) Error() string {
	return e.msg
}

// appointmentResponse は予約のJSON表現。
type appointmentResponse struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ClientID    *string   `json:"client_id"`
	ClientName  string    `json:"client_name"`
	ClientEmail string    `json:"client_email"`
	ClientPhone string    `json:"client_phone"`
	ServiceName string    `json:"service_name"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toAppointmentResponse(a bookingdb.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:          a.ID,
		TenantID:    a.TenantID,
		ClientID:    a.ClientID,
		ClientName:  a.ClientName,
		ClientEmail: a.ClientEmail,
		ClientPhone: a.ClientPhone,
		ServiceName: a.ServiceName,
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		Status:      a.Status,
		Notes:       a.Notes,
		Source:      a.Source,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func appointmentEventData(a bookingdb.Appointment) event.AppointmentData {
	return event.AppointmentData{
		AppointmentID: a.ID,
		ClientName:    a.ClientName,
		ClientEmail:   a.ClientEmail,
		ServiceName:   a.ServiceName,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        a.Status,
		Source:        a.Source,
	}
}

// BookingRequest は予約作成の入力。
type BookingRequest struct {
	ClientID    string
	ClientName  string
	ClientEmail string
	ClientPhone string
	ServiceName string
	StartTime   time.Time
	EndTime     time.Time
	Notes       string
	Status      Status
	Source      Source
}

// BookAppointment は時間帯が空いている場合のみ予約を作成する。
// 重なる予約がある場合はErrSlotConflictを返す。
// ClientIDを指定した場合は顧客の氏名とメールを既定値として使う。
func (s *Server) BookAppointment(ctx context.Context, tenantID string, req BookingRequest) (bookingdb.Appointment, error) {
	if !req.EndTime.After(req.StartTime) {
		return bookingdb.Appointment{}, &InputError{msg: "end_timeはstart_timeより後にしてください"}
	}

	var clientID *string
	if req.ClientID != "" {
		client, err := s.queries.GetClient(ctx, tenantID, req.ClientID)
		if errors.Is(err, sql.ErrNoRows) {
			return bookingdb.Appointment{}, ErrUnknownClient
		}
		if err != nil {
			return bookingdb.Appointment{}, fmt.Errorf("顧客の取得に失敗: %w", err)
		}
		clientID = &client.ID
		if req.ClientName == "" {
			req.ClientName = strings.TrimSpace(client.FirstName + " " + client.LastName)
		}
		if req.ClientEmail == "" {
			req.ClientEmail = client.Email
		}
		if req.ClientPhone == "" {
			req.ClientPhone = client.Phone
		}
	}
	if req.ClientName == "" {
		return bookingdb.Appointment{}, &InputError{msg: "client_nameは必須です"}
	}

	id := uuid.New().String()
	inserted, err := s.queries.InsertAppointmentIfFree(ctx, bookingdb.InsertAppointmentParams{
		ID:          id,
		TenantID:    tenantID,
		ClientID:    clientID,
		ClientName:  req.ClientName,
		ClientEmail: req.ClientEmail,
		ClientPhone: req.ClientPhone,
		ServiceName: req.ServiceName,
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
		Status:      string(req.Status),
		Notes:       req.Notes,
		Source:      string(req.Source),
		Now:         s.now(),
	})
	if err != nil {
		return bookingdb.Appointment{}, fmt.Errorf("予約の登録に失敗: %w", err)
	}
	if !inserted {
		return bookingdb.Appointment{}, ErrSlotConflict
	}

	appt, err := s.queries.GetAppointment(ctx, tenantID, id)
	if err != nil {
		return bookingdb.Appointment{}, fmt.Errorf("予約の取得に失敗: %w", err)
	}
	s.publisher.Emit(ctx, tenantID, appt.ID, event.AggregateTypeAppointment, event.TypeAppointmentBooked, appointmentEventData(appt))
	return appt, nil
}

// createAppointmentRequest は予約作成リクエストのJSON構造。
type createAppointmentRequest struct {
	ClientID    string    `json:"client_id"`
	ClientName  string    `json:"client_name"`
	ClientEmail string    `json:"client_email"`
	ClientPhone string    `json:"client_phone"`
	ServiceName string    `json:"service_name"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
	Notes       string    `json:"notes"`
	Status      Status    `json:"status"`
}

// handleCreateAppointment は管理画面からの予約作成を処理するハンドラを返す。
// statusはPENDINGまたはCONFIRMEDを指定でき、省略時はPENDING。
func (s *Server) handleCreateAppointment() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createAppointmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		status := req.Status
		if status == "" {
			status = StatusPending
		}
		if status != StatusPending && status != StatusConfirmed {
			c.JSON(http.StatusBadRequest, gin.H{"error": "statusはPENDINGまたはCONFIRMEDを指定してください"})
			return
		}
		email, err := normalizeEmail(req.ClientEmail)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tenantID := middleware.TenantID(c)
		appt, err := s.BookAppointment(c.Request.Context(), tenantID, BookingRequest{
			ClientID:    req.ClientID,
			ClientName:  strings.TrimSpace(req.ClientName),
			ClientEmail: email,
			ClientPhone: strings.TrimSpace(req.ClientPhone),
			ServiceName: strings.TrimSpace(req.ServiceName),
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Notes:       req.Notes,
			Status:      status,
			Source:      SourceAdmin,
		})
		if err != nil {
			s.respondBookingError(c, tenantID, err)
			return
		}
		c.JSON(http.StatusCreated, toAppointmentResponse(appt))
	}
}

// respondBookingError は予約作成エラーをHTTPレスポンスに変換する。
func (s *Server) respondBookingError(c *gin.Context, tenantID string, err error) {
	var inputErr *InputError
	switch {
	case errors.Is(err, ErrSlotConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnknownClient), errors.As(err, &inputErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error("予約作成エラー", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "予約の作成に失敗しました"})
	}
}

// handleListAppointments は予約一覧を処理するハンドラを返す。
func (s *Server) handleListAppointments() gin.HandlerFunc {
	return func(c *gin.Context) {
		params := bookingdb.ListAppointmentsParams{
			TenantID: middleware.TenantID(c),
			ClientID: c.Query("client_id"),
		}
		var ok bool
		if params.From, ok = optionalTimeQuery(c, "from"); !ok {
			return
		}
		if params.To, ok = optionalTimeQuery(c, "to"); !ok {
			return
		}
		if raw := c.Query("status"); raw != "" {
			st := Status(strings.ToUpper(raw))
			if !st.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "statusの値が不正です"})
				return
			}
			params.Status = string(st)
		}

		rows, err := s.queries.ListAppointments(c.Request.Context(), params)
		if err != nil {
			s.log.Error("予約一覧取得エラー", "tenant_id", params.TenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約の取得に失敗しました"})
			return
		}
		items := make([]appointmentResponse, 0, len(rows))
		for _, r := range rows {
			items = append(items, toAppointmentResponse(r))
		}
		c.JSON(http.StatusOK, items)
	}
}

// optionalTimeQuery はRFC3339またはYYYY-MM-DD形式の任意クエリパラメータを解釈する。
// 形式が不正な場合は400を返しfalseを返す。
func optionalTimeQuery(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, true
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return &t, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%sはRFC3339またはYYYY-MM-DD形式で指定してください", key)})
	return nil, false
}

// handleGetAppointment は予約詳細を処理するハンドラを返す。
func (s *Server) handleGetAppointment() gin.HandlerFunc {
	return func(c *gin.Context) {
		appt, ok := s.lookupAppointment(c, c.Param("id"))
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toAppointmentResponse(appt))
	}
}

// updateAppointmentRequest は予約更新リクエストのJSON構造。省略したフィールドは変更しない。
type updateAppointmentRequest struct {
	ClientID    *string    `json:"client_id"`
	ClientName  *string    `json:"client_name"`
	ClientEmail *string    `json:"client_email"`
	ClientPhone *string    `json:"client_phone"`
	ServiceName *string    `json:"service_name"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	Notes       *string    `json:"notes"`
}

// handleUpdateAppointment は予約の日時変更と内容更新を処理するハンドラを返す。
func (s *Server) handleUpdateAppointment() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateAppointmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		appt, ok := s.lookupAppointment(c, c.Param("id"))
		if !ok {
			return
		}
		if !Status(appt.Status).Reschedulable() {
			c.JSON(http.StatusConflict, gin.H{"error": "この予約は変更できません"})
			return
		}

		ctx := c.Request.Context()
		params := bookingdb.UpdateAppointmentParams{
			ID:          appt.ID,
			TenantID:    appt.TenantID,
			ClientID:    appt.ClientID,
			ClientName:  appt.ClientName,
			ClientEmail: appt.ClientEmail,
			ClientPhone: appt.ClientPhone,
			ServiceName: appt.ServiceName,
			StartTime:   appt.StartTime,
			EndTime:     appt.EndTime,
			Notes:       appt.Notes,
			Now:         s.now(),
		}
		if req.ClientID != nil {
			if *req.ClientID == "" {
				params.ClientID = nil
			} else {
				client, err := s.queries.GetClient(ctx, appt.TenantID, *req.ClientID)
				if errors.Is(err, sql.ErrNoRows) {
					c.JSON(http.StatusBadRequest, gin.H{"error": ErrUnknownClient.Error()})
					return
				}
				if err != nil {
					s.log.Error("顧客取得エラー", "client_id", *req.ClientID, "error", err)
					c.JSON(http.StatusInternalServerError, gin.H{"error": "予約の更新に失敗しました"})
					return
				}
				params.ClientID = &client.ID
			}
		}
		if req.ClientName != nil {
			params.ClientName = strings.TrimSpace(*req.ClientName)
		}
		if req.ClientEmail != nil {
			email, err := normalizeEmail(*req.ClientEmail)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			params.ClientEmail = email
		}
		if req.ClientPhone != nil {
			params.ClientPhone = strings.TrimSpace(*req.ClientPhone)
		}
		if req.ServiceName != nil {
			params.ServiceName = strings.TrimSpace(*req.ServiceName)
		}
		if req.StartTime != nil {
			params.StartTime = req.StartTime.UTC()
		}
		if req.EndTime != nil {
			params.EndTime = req.EndTime.UTC()
		}
		if req.Notes != nil {
			params.Notes = *req.Notes
		}
		if params.ClientName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "client_nameは必須です"})
			return
		}
		if !params.EndTime.After(params.StartTime) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_timeはstart_timeより後にしてください"})
			return
		}

		updated, err := s.queries.UpdateAppointmentIfFree(ctx, params)
		if err != nil {
			s.log.Error("予約更新エラー", "appointment_id", appt.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約の更新に失敗しました"})
			return
		}
		if !updated {
			c.JSON(http.StatusConflict, gin.H{"error": ErrSlotConflict.Error()})
			return
		}

		result, ok := s.lookupAppointment(c, appt.ID)
		if !ok {
			return
		}
		if !result.StartTime.Equal(appt.StartTime) || !result.EndTime.Equal(appt.EndTime) {
			data := appointmentEventData(result)
			previous := appt.StartTime
			data.PreviousStartTime = &previous
			s.publisher.Emit(ctx, result.TenantID, result.ID, event.AggregateTypeAppointment, event.TypeAppointmentRescheduled, data)
		}
		c.JSON(http.StatusOK, toAppointmentResponse(result))
	}
}

// statusRequest はステータス変更リクエストのJSON構造。
type statusRequest struct {
	Status Status `json:"status" binding:"required"`
}

// ChangeStatus は予約のステータスを遷移させ、遷移後の予約を返す。
// 許可されない遷移や、同時に別のステータスへ変更された場合はErrInvalidTransitionを返す。
func (s *Server) ChangeStatus(ctx context.Context, appt bookingdb.Appointment, to Status) (bookingdb.Appointment, error) {
	from := Status(appt.Status)
	if !CanTransition(from, to) {
		return bookingdb.Appointment{}, ErrInvalidTransition
	}
	changed, err := s.queries.UpdateAppointmentStatus(ctx, appt.TenantID, appt.ID, string(from), string(to), s.now())
	if err != nil {
		return bookingdb.Appointment{}, fmt.Errorf("ステータスの更新に失敗: %w", err)
	}
	if !changed {
		return bookingdb.Appointment{}, ErrInvalidTransition
	}
	result, err := s.queries.GetAppointment(ctx, appt.TenantID, appt.ID)
	if err != nil {
		return bookingdb.Appointment{}, fmt.Errorf("予約の取得に失敗: %w", err)
	}

	data := appointmentEventData(result)
	data.PreviousStatus = string(from)
	s.publisher.Emit(ctx, result.TenantID, result.ID, event.AggregateTypeAppointment, transitionEvents[to], data)
	return result, nil
}

// handleUpdateAppointmentStatus はステータス変更を処理するハンドラを返す。
func (s *Server) handleUpdateAppointmentStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		to := Status(strings.ToUpper(string(req.Status)))
		if !to.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "statusの値が不正です"})
			return
		}
		appt, ok := s.lookupAppointment(c, c.Param("id"))
		if !ok {
			return
		}

		result, err := s.ChangeStatus(c.Request.Context(), appt, to)
		if errors.Is(err, ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("%sから%sには変更できません", appt.Status, to)})
			return
		}
		if err != nil {
			s.log.Error("予約ステータス更新エラー", "appointment_id", appt.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ステータスの更新に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toAppointmentResponse(result))
	}
}

// handleDeleteAppointment は予約削除を処理するハンドラを返す。
func (s *Server) handleDeleteAppointment() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := middleware.TenantID(c)
		n, err := s.queries.DeleteAppointment(c.Request.Context(), tenantID, c.Param("id"))
		if err != nil {
			s.log.Error("予約削除エラー", "appointment_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約の削除に失敗しました"})
			return
		}
		if n == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "予約が見つかりません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "予約を削除しました"})
	}
}

// lookupAppointment はテナント内の予約を取得する。見つからない場合は404を返しfalseを返す。
func (s *Server) lookupAppointment(c *gin.Context, id string) (bookingdb.Appointment, bool) {
	tenantID := middleware.TenantID(c)
	appt, err := s.queries.GetAppointment(c.Request.Context(), tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "予約が見つかりません"})
		return bookingdb.Appointment{}, false
	}
	if err != nil {
		s.log.Error("予約取得エラー", "appointment_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "予約の取得に失敗しました"})
		return bookingdb.Appointment{}, false
	}
	return appt, true
}
