package coffeeshop

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/nao1215/fsnd/pkg/migration"
)

// migrationsFS はドリンクテーブルのマイグレーション。
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// initSchema はSQLiteデータベースにマイグレーションを適用する。
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
