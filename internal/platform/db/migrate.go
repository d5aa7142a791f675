package db

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

const schemaVersion = 1

//go:embed schema/sqlite.sql
var sqliteSchema string

// Migrate は sqlite3 用のスキーマを適用する。MySQL は schema/mysql.sql を手動適用する運用。
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return fmt.Errorf("metaテーブル作成に失敗: %w", err)
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(sqliteSchema) {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("スキーマ適用に失敗: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', ?);`, schemaVersion); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func splitStatements(src string) []string {
	var out []string
	for _, s := range strings.Split(src, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
