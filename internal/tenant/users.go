package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	tenantdb "github.com/nao1215/tenantdesk/internal/tenant/db"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/event"
	"github.com/nao1215/tenantdesk/pkg/middleware"
	"golang.org/x/crypto/bcrypt"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 8

// ErrLastOwner はテナント最後の有効なOWNERを削除または降格しようとしたことを表す。
var ErrLastOwner = errors.New("最後のオーナーは変更できません")

// userResponse はテナントユーザーのJSON表現。パスワードハッシュは含まない。
type userResponse struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func toUserResponse(u tenantdb.TenantUser) userResponse {
	return userResponse{
		ID:          u.ID,
		TenantID:    u.TenantID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func toUserResponses(users []tenantdb.TenantUser) []userResponse {
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	return string(h), nil
}

func validateNewUser(email, password string) error {
	if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
		return errors.New("メールアドレスの形式が不正です")
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("パスワードは%d文字以上で指定してください", minPasswordLength)
	}
	return nil
}

// callerIsOwner は呼び出し元がOWNERまたはスーパー管理者かを返す。
func callerIsOwner(c *gin.Context) bool {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		return false
	}
	return id.IsSuperAdmin() || id.Role == middleware.RoleOwner
}

// findTenantUser はテナントに属するユーザーを取得する。別テナントのユーザーは404とする。
func (s *Server) findTenantUser(c *gin.Context) (tenantdb.TenantUser, bool) {
	u, err := s.queries.GetUserByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && u.TenantID != middleware.TenantID(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
		return tenantdb.TenantUser{}, false
	}
	if err != nil {
		s.log.Error("ユーザー取得エラー", "user_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
		return tenantdb.TenantUser{}, false
	}
	return u, true
}

// handleListUsers はテナントユーザー一覧を処理するハンドラを返す。
func (s *Server) handleListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := middleware.TenantID(c)
		users, err := s.queries.ListUsersByTenant(c.Request.Context(), tenantID)
		if err != nil {
			s.log.Error("ユーザー一覧取得エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toUserResponses(users))
	}
}

// createUserRequest はユーザー作成リクエストのJSON構造。
type createUserRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// handleCreateUser はテナントユーザー作成を処理するハンドラを返す。
func (s *Server) handleCreateUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "emailとpasswordは必須です"})
			return
		}
		if err := validateNewUser(req.Email, req.Password); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role := middleware.RoleViewer
		if req.Role != "" {
			role = middleware.Role(strings.ToUpper(req.Role))
		}
		if !role.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未知のロールです: %s", req.Role)})
			return
		}
		if role == middleware.RoleOwner && !callerIsOwner(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "オーナーの作成にはオーナー権限が必要です"})
			return
		}

		hash, err := hashPassword(req.Password)
		if err != nil {
			s.log.Error("パスワードハッシュ化エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの作成に失敗しました"})
			return
		}

		ctx := c.Request.Context()
		tenantID := middleware.TenantID(c)
		id := uuid.New().String()
		if err := s.queries.CreateUser(ctx, tenantdb.CreateUserParams{
			ID:           id,
			TenantID:     tenantID,
			Email:        normalizeEmail(req.Email),
			PasswordHash: hash,
			Name:         strings.TrimSpace(req.Name),
			Role:         string(role),
			Now:          s.now(),
		}); err != nil {
			if database.IsUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "メールアドレスは既に使用されています"})
				return
			}
			s.log.Error("ユーザー作成エラー", "tenant_id", tenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの作成に失敗しました"})
			return
		}

		u, err := s.queries.GetUserByID(ctx, id)
		if err != nil {
			s.log.Error("ユーザー取得エラー", "user_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの作成に失敗しました"})
			return
		}
		s.publisher.Emit(ctx, tenantID, u.ID, event.AggregateTypeUser, event.TypeUserCreated,
			event.UserCreatedData{Email: u.Email, Name: u.Name, Role: u.Role})
		c.JSON(http.StatusCreated, toUserResponse(u))
	}
}

// updateUserRequest はユーザー更新リクエストのJSON構造。省略したフィールドは変更しない。
type updateUserRequest struct {
	Name     *string `json:"name"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
	Password *string `json:"password"`
}

// UpdateUser はユーザーを更新する。最後の有効なOWNERの降格や無効化はErrLastOwnerを返す。
func (s *Server) UpdateUser(ctx context.Context, u tenantdb.TenantUser, params tenantdb.UpdateUserParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.queries.WithTx(tx)

	losesOwner := u.IsActive && u.Role == string(middleware.RoleOwner) &&
		(params.Role != string(middleware.RoleOwner) || !params.IsActive)
	if losesOwner {
		if err := ensureAnotherOwner(ctx, q, u.TenantID); err != nil {
			return err
		}
	}
	if err := q.UpdateUser(ctx, params); err != nil {
		return fmt.Errorf("ユーザーの更新に失敗: %w", err)
	}
	return tx.Commit()
}

// DeleteUser はユーザーを削除する。最後の有効なOWNERはErrLastOwnerを返す。
func (s *Server) DeleteUser(ctx context.Context, u tenantdb.TenantUser) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.queries.WithTx(tx)

	if u.IsActive && u.Role == string(middleware.RoleOwner) {
		if err := ensureAnotherOwner(ctx, q, u.TenantID); err != nil {
			return err
		}
	}
	if err := q.DeleteUser(ctx, u.ID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗: %w", err)
	}
	return tx.Commit()
}

func ensureAnotherOwner(ctx context.Context, q *tenantdb.Queries, tenantID string) error {
	n, err := q.CountActiveOwners(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("オーナー数の取得に失敗: %w", err)
	}
	if n <= 1 {
		return ErrLastOwner
	}
	return nil
}

// handleUpdateUser はテナントユーザー更新を処理するハンドラを返す。
func (s *Server) handleUpdateUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		u, ok := s.findTenantUser(c)
		if !ok {
			return
		}

		params := tenantdb.UpdateUserParams{
			ID:           u.ID,
			Name:         u.Name,
			Role:         u.Role,
			IsActive:     u.IsActive,
			PasswordHash: u.PasswordHash,
			Now:          s.now(),
		}
		if req.Name != nil {
			params.Name = strings.TrimSpace(*req.Name)
		}
		if req.Role != nil {
			role := middleware.Role(strings.ToUpper(*req.Role))
			if !role.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未知のロールです: %s", *req.Role)})
				return
			}
			params.Role = string(role)
		}
		if req.IsActive != nil {
			params.IsActive = *req.IsActive
		}
		touchesOwner := params.Role == string(middleware.RoleOwner) || u.Role == string(middleware.RoleOwner)
		if touchesOwner && params.Role != u.Role && !callerIsOwner(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "オーナーの操作にはオーナー権限が必要です"})
			return
		}
		if req.Password != nil {
			if len(*req.Password) < minPasswordLength {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("パスワードは%d文字以上で指定してください", minPasswordLength)})
				return
			}
			hash, err := hashPassword(*req.Password)
			if err != nil {
				s.log.Error("パスワードハッシュ化エラー", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの更新に失敗しました"})
				return
			}
			params.PasswordHash = hash
		}

		ctx := c.Request.Context()
		err := s.UpdateUser(ctx, u, params)
		if errors.Is(err, ErrLastOwner) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "最後のオーナーは降格・無効化できません"})
			return
		}
		if err != nil {
			s.log.Error("ユーザー更新エラー", "user_id", u.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの更新に失敗しました"})
			return
		}

		updated, err := s.queries.GetUserByID(ctx, u.ID)
		if err != nil {
			s.log.Error("ユーザー取得エラー", "user_id", u.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの更新に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toUserResponse(updated))
	}
}

// handleDeleteUser はテナントユーザー削除を処理するハンドラを返す。
func (s *Server) handleDeleteUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := s.findTenantUser(c)
		if !ok {
			return
		}
		if u.Role == string(middleware.RoleOwner) && !callerIsOwner(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "オーナーの操作にはオーナー権限が必要です"})
			return
		}

		err := s.DeleteUser(c.Request.Context(), u)
		if errors.Is(err, ErrLastOwner) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "最後のオーナーは削除できません"})
			return
		}
		if err != nil {
			s.log.Error("ユーザー削除エラー", "user_id", u.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの削除に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ユーザーを削除しました"})
	}
}
