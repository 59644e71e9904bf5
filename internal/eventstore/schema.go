package eventstore

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/nao1215/tenantdesk/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// initSchema はSQLiteデータベースにマイグレーションを適用する。
func initSchema(db *sql.DB) error {
	if err := migration.Run(db, migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
