package coffeeshop

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nao1215/fsnd/pkg/middleware"
)

// Config はコーヒーショップサービスの設定。起動時に一度だけ読み込む。
type Config struct {
	// Port はリッスンポート。
	Port string
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string
	// Auth はトークン検証の設定。
	Auth middleware.AuthConfig
	// JWKSCacheTTL は鍵セットのキャッシュ期間。0の場合は毎回取得する。
	JWKSCacheTTL time.Duration
	// JWKSFetchTimeout は鍵セット取得のタイムアウト。
	JWKSFetchTimeout time.Duration
	// CORSAllowedOrigins はCORSで許可するオリジン。
	CORSAllowedOrigins []string
}

// LoadConfig は環境変数から設定を読み込む。
// AUTH0_DOMAINとAPI_AUDIENCEは必須。
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:         getEnvOr("PORT", "8080"),
		DatabasePath: getEnvOr("DATABASE_PATH", "/data/coffeeshop.db"),
		Auth: middleware.AuthConfig{
			Domain:     os.Getenv("AUTH0_DOMAIN"),
			Audience:   os.Getenv("API_AUDIENCE"),
			Algorithms: splitList(getEnvOr("AUTH0_ALGORITHMS", "RS256")),
			JWKSURL:    os.Getenv("JWKS_URL"),
		},
		CORSAllowedOrigins: splitList(getEnvOr("CORS_ALLOWED_ORIGINS", "*")),
	}

	if cfg.Auth.Domain == "" {
		return Config{}, fmt.Errorf("AUTH0_DOMAINが設定されていません")
	}
	if cfg.Auth.Audience == "" {
		return Config{}, fmt.Errorf("API_AUDIENCEが設定されていません")
	}

	var err error
	if cfg.JWKSCacheTTL, err = parseDuration("JWKS_CACHE_TTL", "0s"); err != nil {
		return Config{}, err
	}
	if cfg.JWKSFetchTimeout, err = parseDuration("JWKS_FETCH_TIMEOUT", "10s"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// getEnvOr は環境変数を取得し、未設定の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// parseDuration は環境変数を時間として解釈する。負の値は受け付けない。
func parseDuration(key, defaultValue string) (time.Duration, error) {
	raw := getEnvOr(key, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%sの値が不正です (%q): %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%sに負の値は指定できません: %s", key, raw)
	}
	return d, nil
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
