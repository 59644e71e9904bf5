package gateway

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/tenantdesk/pkg/middleware"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// totpIssuer は認証アプリに表示される発行者名。
const totpIssuer = "TenantDesk"

// totpValidateOpts はコード検証の設定。前後1ステップのずれを許容する。
var totpValidateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// validateTOTP はcodeがsecretに対して現在有効かを返す。
func (s *Server) validateTOTP(code, secret string) bool {
	if secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, s.now(), totpValidateOpts)
	return err == nil && ok
}

// totpSetupResponse はTOTP設定開始時のレスポンス。
type totpSetupResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
	// QRCode はotpauth URLのPNG画像をdata URIで表したもの。
	QRCode string `json:"qr_code"`
}

// totpCodeRequest はTOTPコードのみを含むリクエスト。
type totpCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// handleTOTPSetup は新しいTOTP秘密鍵を生成して確認待ちとして保存するハンドラを返す。
func (s *Server) handleTOTPSetup() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.GetIdentity(c)
		admin, err := s.queries.GetSuperAdminByID(c.Request.Context(), id.UserID)
		if err != nil {
			s.respondAdminLookupError(c, id.UserID, err)
			return
		}
		if admin.TOTPEnabled {
			c.JSON(http.StatusConflict, gin.H{"error": "二要素認証はすでに有効です"})
			return
		}

		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      totpIssuer,
			AccountName: admin.Email,
			Period:      totpValidateOpts.Period,
			Digits:      totpValidateOpts.Digits,
			Algorithm:   totpValidateOpts.Algorithm,
		})
		if err != nil {
			s.log.Error("TOTP秘密鍵生成エラー", "user_id", admin.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "二要素認証の設定に失敗しました"})
			return
		}
		png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
		if err != nil {
			s.log.Error("QRコード生成エラー", "user_id", admin.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "二要素認証の設定に失敗しました"})
			return
		}
		if err := s.queries.SetPendingTOTP(c.Request.Context(), admin.ID, key.Secret()); err != nil {
			s.log.Error("TOTP秘密鍵保存エラー", "user_id", admin.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "二要素認証の設定に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, totpSetupResponse{
			Secret: key.Secret(),
			URL:    key.URL(),
			QRCode: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		})
	}
}

// handleTOTPVerify は確認待ちの秘密鍵に対するコードを検証してTOTPを有効化するハンドラを返す。
func (s *Server) handleTOTPVerify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req totpCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "コードは必須です"})
			return
		}
		id, _ := middleware.GetIdentity(c)
		admin, err := s.queries.GetSuperAdminByID(c.Request.Context(), id.UserID)
		if err != nil {
			s.respondAdminLookupError(c, id.UserID, err)
			return
		}
		if admin.TOTPPendingSecret == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "二要素認証の設定が開始されていません"})
			return
		}
		if !s.validateTOTP(req.Code, admin.TOTPPendingSecret) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "二要素認証コードが正しくありません"})
			return
		}
		if err := s.queries.EnableTOTP(c.Request.Context(), admin.ID); err != nil {
			s.log.Error("TOTP有効化エラー", "user_id", admin.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "二要素認証の有効化に失敗しました"})
			return
		}
		s.log.Info("二要素認証を有効化しました", "user_id", admin.ID)
		c.JSON(http.StatusOK, gin.H{"totp_enabled": true})
	}
}

// handleTOTPDisable は現在のコードを確認してTOTPを無効化するハンドラを返す。
func (s *Server) handleTOTPDisable() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req totpCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "コードは必須です"})
			return
		}
		id, _ := middleware.GetIdentity(c)
		admin, err := s.queries.GetSuperAdminByID(c.Request.Context(), id.UserID)
		if err != nil {
			s.respondAdminLookupError(c, id.UserID, err)
			return
		}
		if !admin.TOTPEnabled {
			c.JSON(http.StatusBadRequest, gin.H{"error": "二要素認証は有効になっていません"})
			return
		}
		if !s.validateTOTP(req.Code, admin.TOTPSecret) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "二要素認証コードが正しくありません"})
			return
		}
		if err := s.queries.DisableTOTP(c.Request.Context(), admin.ID); err != nil {
			s.log.Error("TOTP無効化エラー", "user_id", admin.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "二要素認証の無効化に失敗しました"})
			return
		}
		s.log.Info("二要素認証を無効化しました", "user_id", admin.ID)
		c.JSON(http.StatusOK, gin.H{"totp_enabled": false})
	}
}

func (s *Server) respondAdminLookupError(c *gin.Context, userID string, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
		return
	}
	s.log.Error("スーパー管理者取得エラー", "user_id", userID, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
}
