// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultPreferences はプロフィール作成時に設定される初期カテゴリ。
var DefaultPreferences = []string{"general", "technology"}

// UserProfile はユーザーごとに1件だけ存在するプロフィールを表す。
// 書き込みは常にマージであり、部分更新が無関係なフィールドを消すことはない。
type UserProfile struct {
	ID          string
	Username    string
	Email       string   // 作成時に設定し、以降は認証情報から再取得しない
	Preferences []string // 意味的には集合。保存順を保持する
	Age         *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProfileUpdate はプロフィールの部分更新を表す。
// nilのフィールドは変更しない。
type ProfileUpdate struct {
	Username *string
	Age      *int
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (u ProfileUpdate) IsEmpty() bool {
	return u.Username == nil && u.Age == nil
}

// Credential はメールアドレスとパスワードによるログイン情報を表す。
type Credential struct {
	UserID       string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
