// Package database はPostgreSQL接続と、勤怠セッション・日次タスク・編集履歴の
// スキーマを管理する埋め込みマイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// NewMigrator はdealerdeskスキーマ用のmigrateインスタンスを生成する。
// SQLはバイナリに埋め込まれているため、実行環境にmigrationsディレクトリは不要。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(schemaFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded dealerdesk schema: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create dealerdesk schema migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後のスキーマバージョンを返す。
// すでに最新の場合はエラーなしで現在のバージョンを返す。
// 前回の適用が途中で失敗しdirty状態の場合は、手動での確認が必要なためエラーを返す。
func RunMigrations(databaseURL string) (uint, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to apply dealerdesk schema migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read dealerdesk schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("dealerdesk schema version %d is dirty", version)
	}

	slog.Info("dealerdesk schema is up to date", slog.Uint64("schema_version", uint64(version)))
	return version, nil
}
