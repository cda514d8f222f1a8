// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// migrationDir は方言ごとのマイグレーションディレクトリを返す。
func migrationDir(dialect Dialect) string {
	return "migrations/" + string(dialect)
}

// migrateURL はgolang-migrateが解釈できるURLに変換する。
// SQLiteのファイルパスには sqlite:// スキームを付与する。
func migrateURL(dialect Dialect, databaseURL string) string {
	if dialect == DialectSQLite && !strings.HasPrefix(databaseURL, "sqlite://") {
		return "sqlite://" + databaseURL
	}
	return databaseURL
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
func NewMigrator(dialect Dialect, databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, migrationDir(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(dialect, databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(dialect Dialect, databaseURL string) error {
	m, err := NewMigrator(dialect, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// MigrateInstance はオープン済みの接続に対してマイグレーションを適用する。
// SQLiteの :memory: のように接続をまたいでDBを共有できない場合に使用する。
// m.Close() は渡されたdbまで閉じてしまうため呼び出さない。
func MigrateInstance(db *sql.DB, dialect Dialect) error {
	source, err := iofs.New(migrationsFS, migrationDir(dialect))
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	var driver migratedb.Driver
	switch dialect {
	case DialectSQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(dialect), driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
