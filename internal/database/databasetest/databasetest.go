// Package databasetest はテスト用のインメモリSQLiteストアを提供する。
package databasetest

import (
	"context"
	"testing"

	"github.com/hitoshi/newsdesk/internal/database"
)

// NewStore はマイグレーション適用済みのインメモリSQLiteストアを返す。
// テスト終了時に自動でクローズされる。
func NewStore(t testing.TB) *database.Store {
	t.Helper()

	db, err := database.Open(database.DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("SQLiteのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.MigrateInstance(db, database.DialectSQLite); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}
	return database.NewStore(db, database.DialectSQLite)
}

// NewProvider はNewStoreのストアを返すProviderを生成する。
func NewProvider(t testing.TB) (*database.Provider, *database.Store) {
	t.Helper()
	store := NewStore(t)
	return database.NewStaticProvider(store), store
}

// DenyWrites は以降の書き込みを拒否させる。
// SQLiteはquery_onlyの状態で書き込むとSQLITE_READONLYを返す。
func DenyWrites(t testing.TB, store *database.Store) {
	t.Helper()
	if _, err := store.DB().ExecContext(context.Background(), `PRAGMA query_only = ON`); err != nil {
		t.Fatalf("query_onlyの設定に失敗: %v", err)
	}
}
