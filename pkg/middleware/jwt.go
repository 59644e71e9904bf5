package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// UserType は認証済みユーザーの種類を表す。
type UserType string

const (
	// UserTypeSuperAdmin は全テナントにアクセスできるプラットフォーム管理者。
	UserTypeSuperAdmin UserType = "SUPER_ADMIN"
	// UserTypeTenantUser は単一テナントに所属するユーザー。
	UserTypeTenantUser UserType = "TENANT_USER"
)

// tokenIssuer はJWTの発行者。
const tokenIssuer = "tenantdesk-gateway"

// tokenTTL はJWTの有効期間。
const tokenTTL = 24 * time.Hour

// Identity はJWTから復元される認証済みユーザーの情報。
type Identity struct {
	// UserID はユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// UserType はユーザーの種類。
	UserType UserType `json:"user_type"`
	// TenantID は所属テナントのID。テナントユーザーのみ。
	TenantID string `json:"tenant_id,omitempty"`
	// TenantSlug は所属テナントのスラッグ。テナントユーザーのみ。
	TenantSlug string `json:"tenant_slug,omitempty"`
	// Role はテナント内のロール。テナントユーザーのみ。
	Role Role `json:"role,omitempty"`
	// ImpersonatedBy はなりすまし中のスーパー管理者ID。
	ImpersonatedBy string `json:"impersonated_by,omitempty"`
}

// IsSuperAdmin はスーパー管理者かを返す。
func (i Identity) IsSuperAdmin() bool {
	return i.UserType == UserTypeSuperAdmin
}

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// ユーザーIDやテナント情報をサービス間で伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	Identity
}

// headerKeyUserID はサービス間でユーザーIDを伝播するためのHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// コンテキストキー。
const (
	contextKeyUserID   = "user_id"
	contextKeyEmail    = "email"
	contextKeyIdentity = "identity"
)

// GenerateJWT はユーザー情報からJWTトークンを生成する。
// gatewayサービスがログイン成功時に呼び出す。
func GenerateJWT(secret string, id Identity) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		Identity: id,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークン文字列を検証してクレームを返す。
func ParseJWT(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("トークンが無効です")
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"・"email"・"identity" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return jwtAuth(secret, "")
}

// JWTAuthWithQuery はAuthorizationヘッダーに加えてクエリパラメータからもトークンを受け付ける。
// ヘッダーを設定できないWebSocket接続で使用する。
func JWTAuthWithQuery(secret, param string) gin.HandlerFunc {
	return jwtAuth(secret, param)
}

func jwtAuth(secret, queryParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c, queryParam)
		if !ok {
			return
		}

		claims, err := ParseJWT(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		SetIdentity(c, claims.Identity)
		c.Header(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// extractToken はリクエストからBearerトークンを取り出す。失敗時はレスポンスを書き込みfalseを返す。
func extractToken(c *gin.Context, queryParam string) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if queryParam != "" {
			if t := c.Query(queryParam); t != "" {
				return t, true
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Authorizationヘッダーが必要です",
		})
		return "", false
	}

	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Bearer トークン形式が不正です",
		})
		return "", false
	}
	return tokenString, true
}

// SetIdentity はコンテキストに認証済みユーザー情報を設定する。
// テストでJWTを使わずにユーザーを注入する場合にも使用する。
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(contextKeyUserID, id.UserID)
	c.Set(contextKeyEmail, id.Email)
	c.Set(contextKeyIdentity, id)
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(contextKeyUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetIdentity はGinコンテキストから認証済みユーザー情報を取得する。
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
