// Package repository はデータ永続化のインターフェースを定義する。
//
// ドキュメントパスとテーブルの対応:
//
//	users/{userId}                             → users
//	users/{userId}/readingHistory/{entryKey}   → reading_history (user_id, entry_key)
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/newsdesk/internal/database"
	"github.com/hitoshi/newsdesk/internal/model"
)

// StoreProvider は共有Storeを返すインターフェース。
// database.Providerが満たす。リポジトリは操作ごとにGetを呼び、初回のみ接続が初期化される。
type StoreProvider interface {
	Get(ctx context.Context) (*database.Store, error)
}

// ProfileRepository はユーザープロフィールの永続化インターフェース。
// 1ユーザーにつき1レコードのみ存在し、すべての書き込みはマージとして扱う。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.UserProfile, error)

	// Upsert はプロフィールを作成する。既存レコードがある場合は
	// 空でないemail/usernameのみ反映し、preferencesとageは変更しない。
	Upsert(ctx context.Context, profile *model.UserProfile) error

	// UpdatePreferences はpreferencesのみを更新する。レコードがなければ作成する。
	UpdatePreferences(ctx context.Context, id string, preferences []string, updatedAt time.Time) error

	// Update はupdateで指定されたフィールドのみを更新する。レコードがなければ作成する。
	Update(ctx context.Context, id string, update model.ProfileUpdate, updatedAt time.Time) error
}

// HistoryRepository は閲覧履歴の永続化インターフェース。
// (user_id, entry_key) ごとに最大1件を保持する。
type HistoryRepository interface {
	// Upsert は閲覧履歴を1回の冪等な書き込みで作成または更新する。
	// 既存の場合はread_atと、空でないスナップショットフィールドのみを更新する。
	Upsert(ctx context.Context, entry *model.HistoryEntry) error

	// FindByKey はユーザーIDとエントリキーで閲覧履歴を取得する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, userID, entryKey string) (*model.HistoryEntry, error)

	// ListRecent はread_at降順で最大limit件を返す。read_atのない旧データは最後に並ぶ。
	ListRecent(ctx context.Context, userID string, limit int) ([]*model.HistoryEntry, error)
}

// CredentialRepository はログイン情報の永続化インターフェース。
type CredentialRepository interface {
	// Create はログイン情報を作成する。メールアドレスが登録済みの場合はErrDuplicateを返す。
	Create(ctx context.Context, credential *model.Credential) error

	// FindByEmail はメールアドレスでログイン情報を検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired はbefore以前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
