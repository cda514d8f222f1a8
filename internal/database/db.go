package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect は接続先データベースのSQL方言を表す。
type Dialect string

const (
	// DialectPostgres は本番用のPostgreSQL。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite はローカル開発とテスト用の組み込みSQLite。
	DialectSQLite Dialect = "sqlite"
)

// ParseDialect はドライバー名からDialectを返す。
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "", "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// Rebind はPostgreSQL形式のプレースホルダ（$1）を方言に合わせて書き換える。
// SQLiteでは番号付きの ?1 形式に変換する。
func (d Dialect) Rebind(query string) string {
	if d != DialectSQLite {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?$1")
}

// Open はデータベース接続を開く。
// databaseURLはPostgreSQLの接続URL、またはSQLiteのファイルパス（":memory:" 可）を指定する。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(dialect Dialect, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open(string(dialect), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLiteは書き込みを直列化する。:memory: は接続ごとに別DBになるため1接続に固定する。
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	return db, nil
}

// Scanner は*sql.Rowと*sql.Rowsに共通するScanメソッドを表す。
type Scanner interface {
	Scan(dest ...any) error
}

// Store はプロセス全体で共有するデータストアのハンドル。
// 可変フィールドを持たず、複数のリポジトリから並行に利用できる。
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// NewStore はオープン済みの*sql.DBからStoreを生成する。
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB は内部の*sql.DBを返す。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect はStoreのSQL方言を返す。
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// ExecContext はプレースホルダを方言に合わせて書き換えてから実行する。
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

// QueryContext はプレースホルダを方言に合わせて書き換えてから問い合わせる。
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

// QueryRowContext はプレースホルダを方言に合わせて書き換えてから1行を問い合わせる。
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// BeginTx はトランザクションを開始する。
func (s *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, dialect: s.dialect}, nil
}

// PingContext は接続を確認する。ヘルスチェックで使用する。
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close は接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx は方言対応のトランザクション。
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// ExecContext はトランザクション内でクエリを実行する。
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

// Commit はトランザクションをコミットする。
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback はトランザクションをロールバックする。
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
