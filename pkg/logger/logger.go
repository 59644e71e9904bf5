// Package logger はzapをラップした構造化ロガーを提供する。
//
// 全サービスで共通のキー/値形式のログ出力を行う。パスワードやトークンなど
// 機密情報を含むキーの値は出力前に伏せ字に置き換える。
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger はサービス共通のロガー。
type Logger struct {
	// sugar は内部で使用するzapのSugaredLogger。
	sugar *zap.SugaredLogger
}

// redactedKeys は値を伏せ字にするキーの一覧。部分一致で判定する。
var redactedKeys = []string{"password", "token", "secret", "authorization"}

// New は指定モードのロガーを生成する。
// "prod" または "production" の場合はJSON形式、それ以外は開発用のコンソール形式で出力する。
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: zl.Sugar()}, nil
}

// NewNop は何も出力しないロガーを生成する。テストで使用する。
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// FromZap は既存のzap.Loggerからロガーを生成する。
func FromZap(zl *zap.Logger) *Logger {
	return &Logger{sugar: zl.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Sync はバッファされたログを書き出す。
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

// Debug はデバッグレベルのログを出力する。
func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, sanitize(keysAndValues)...)
}

// Info は情報レベルのログを出力する。
func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, sanitize(keysAndValues)...)
}

// Warn は警告レベルのログを出力する。
func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, sanitize(keysAndValues)...)
}

// Error はエラーレベルのログを出力する。
func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, sanitize(keysAndValues)...)
}

// Fatal はログを出力してプロセスを終了する。
func (l *Logger) Fatal(msg string, keysAndValues ...any) {
	l.sugar.Fatalw(msg, sanitize(keysAndValues)...)
}

// With は指定したキー/値を常に付与する子ロガーを返す。
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{sugar: l.sugar.With(sanitize(keysAndValues)...)}
}

// sanitize は機密キーの値を伏せ字に置き換えたキー/値スライスを返す。
func sanitize(kv []any) []any {
	if len(kv) == 0 {
		return kv
	}
	out := make([]any, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key, ok := kv[i].(string)
		if ok && isRedacted(key) {
			out = append(out, key, "[REDACTED]")
			continue
		}
		out = append(out, kv[i], kv[i+1])
	}
	return out
}

// isRedacted はキーが伏せ字対象かを判定する。
func isRedacted(key string) bool {
	k := strings.ToLower(key)
	for _, r := range redactedKeys {
		if strings.Contains(k, r) {
			return true
		}
	}
	return false
}
