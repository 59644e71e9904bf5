// Package config は環境変数と.envファイルからサービス設定を読み込む。
//
// .envファイルはgodotenvで任意に読み込み、値の解決はviperで行う。
// 環境変数が常に優先され、未設定のキーはデフォルト値にフォールバックする。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config はサービス共通の設定値を保持する。
type Config struct {
	// Service はサービス名。ログやヘルスチェックに使用する。
	Service string
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// Env は実行環境（development, production など）。
	Env string
	// LogMode はロガーの出力モード。
	LogMode string
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string
	// InternalToken はサービス間通信で使用する共有トークン。空の場合は検証しない。
	InternalToken string

	v *viper.Viper
}

// Load は.envファイルと環境変数から設定を読み込む。
// envFilesを省略した場合はカレントディレクトリの.envを読み込む。存在しない場合は無視する。
func Load(service, defaultPort string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envファイルの読み込みに失敗: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("PORT", defaultPort)
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_MODE", "dev")
	v.SetDefault("DATABASE_PATH", fmt.Sprintf("/data/%s.db", service))
	v.SetDefault("JWT_SECRET", "dev-secret-key")
	v.SetDefault("INTERNAL_TOKEN", "")

	return &Config{
		Service:       service,
		Port:          v.GetString("PORT"),
		Env:           v.GetString("APP_ENV"),
		LogMode:       v.GetString("LOG_MODE"),
		DatabasePath:  v.GetString("DATABASE_PATH"),
		JWTSecret:     v.GetString("JWT_SECRET"),
		InternalToken: v.GetString("INTERNAL_TOKEN"),
		v:             v,
	}, nil
}

// GetOr はキーの値を返す。未設定または空の場合はdefaultValueを返す。
func (c *Config) GetOr(key, defaultValue string) string {
	if c.v == nil {
		return defaultValue
	}
	if s := c.v.GetString(key); s != "" {
		return s
	}
	return defaultValue
}

// DurationOr はキーの値を時間として解釈して返す。
// 未設定または解釈できない場合はdefaultValueを返す。
func (c *Config) DurationOr(key string, defaultValue time.Duration) time.Duration {
	if c.v == nil {
		return defaultValue
	}
	s := c.v.GetString(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// IsDevelopment は開発環境で動作しているかを返す。
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development") || strings.EqualFold(c.Env, "dev")
}
