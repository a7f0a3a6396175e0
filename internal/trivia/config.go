package trivia

import (
	"os"
	"strings"
)

// Config はトリビアサービスの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string
	// CORSAllowedOrigins はCORSで許可するオリジン。
	CORSAllowedOrigins []string
}

// LoadConfig は環境変数から設定を読み込む。
func LoadConfig() Config {
	var origins []string
	for _, o := range strings.Split(getEnvOr("CORS_ALLOWED_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return Config{
		Port:               getEnvOr("PORT", "5000"),
		DatabasePath:       getEnvOr("DATABASE_PATH", "/data/trivia.db"),
		CORSAllowedOrigins: origins,
	}
}

// getEnvOr は環境変数を取得し、未設定の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
