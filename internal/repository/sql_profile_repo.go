package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

// SQLProfileRepo はSQLデータベースを使用したプロフィールリポジトリ。
type SQLProfileRepo struct {
	stores StoreProvider
}

// NewSQLProfileRepo はSQLProfileRepoを生成する。
func NewSQLProfileRepo(stores StoreProvider) *SQLProfileRepo {
	return &SQLProfileRepo{stores: stores}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *SQLProfileRepo) FindByID(ctx context.Context, id string) (*model.UserProfile, error) {
	store, err := r.stores.Get(ctx)
	if err != nil {
		return nil, err
	}

	p := &model.UserProfile{}
	var prefs string
	var age sql.NullInt64

	err = store.QueryRowContext(ctx,
		`SELECT id, email, username, preferences, age, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Email, &p.Username, &prefs, &age, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}

	p.Preferences, err = decodePreferences(prefs)
	if err != nil {
		return nil, err
	}
	if age.Valid {
		v := int(age.Int64)
		p.Age = &v
	}

	return p, nil
}

// Upsert はプロフィールを作成する。
// 既存レコードがある場合は空でないemail/usernameのみ反映し、preferencesとageは維持する。
// トリガー等で先に作られた部分的なレコードを上書きしない。
func (r *SQLProfileRepo) Upsert(ctx context.Context, p *model.UserProfile) error {
	store, err := r.stores.Get(ctx)
	if err != nil {
		return err
	}

	prefs, err := encodePreferences(p.Preferences)
	if err != nil {
		return err
	}

	_, err = store.ExecContext(ctx,
		`INSERT INTO users (id, email, username, preferences, age, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		     email = COALESCE(NULLIF(excluded.email, ''), users.email),
		     username = COALESCE(NULLIF(excluded.username, ''), users.username),
		     updated_at = excluded.updated_at`,
		p.ID, p.Email, p.Username, prefs, nullableInt(p.Age), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// UpdatePreferences はpreferencesのみを更新する。
// レコードが存在しない場合は指定されたpreferencesで作成する。
func (r *SQLProfileRepo) UpdatePreferences(ctx context.Context, id string, preferences []string, updatedAt time.Time) error {
	store, err := r.stores.Get(ctx)
	if err != nil {
		return err
	}

	prefs, err := encodePreferences(preferences)
	if err != nil {
		return err
	}

	_, err = store.ExecContext(ctx,
		`INSERT INTO users (id, preferences, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (id) DO UPDATE SET
		     preferences = excluded.preferences,
		     updated_at = excluded.updated_at`,
		id, prefs, updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return nil
}

// Update はupdateで指定されたフィールドのみを更新する。
// レコードが存在しない場合はデフォルトのpreferencesで作成する。
func (r *SQLProfileRepo) Update(ctx context.Context, id string, update model.ProfileUpdate, updatedAt time.Time) error {
	if update.IsEmpty() {
		return nil
	}

	store, err := r.stores.Get(ctx)
	if err != nil {
		return err
	}

	prefs, err := encodePreferences(model.DefaultPreferences)
	if err != nil {
		return err
	}

	username := ""
	if update.Username != nil {
		username = *update.Username
	}

	sets := []string{"updated_at = excluded.updated_at"}
	if update.Username != nil {
		sets = append(sets, "username = excluded.username")
	}
	if update.Age != nil {
		sets = append(sets, "age = excluded.age")
	}

	query := `INSERT INTO users (id, username, preferences, age, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (id) DO UPDATE SET ` + strings.Join(sets, ", ")

	_, err = store.ExecContext(ctx, query, id, username, prefs, nullableInt(update.Age), updatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// encodePreferences はカテゴリの集合をJSON配列として保存用にエンコードする。
func encodePreferences(prefs []string) (string, error) {
	if prefs == nil {
		prefs = []string{}
	}
	b, err := json.Marshal(prefs)
	if err != nil {
		return "", fmt.Errorf("failed to encode preferences: %w", err)
	}
	return string(b), nil
}

// decodePreferences は保存されたJSON配列をカテゴリのスライスに戻す。
func decodePreferences(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var prefs []string
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}
	if prefs == nil {
		prefs = []string{}
	}
	return prefs, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// compile-time interface check
var _ ProfileRepository = (*SQLProfileRepo)(nil)
