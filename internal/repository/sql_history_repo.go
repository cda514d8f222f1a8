package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/newsdesk/internal/database"
	"github.com/hitoshi/newsdesk/internal/model"
)

// SQLHistoryRepo はSQLデータベースを使用した閲覧履歴リポジトリ。
type SQLHistoryRepo struct {
	stores StoreProvider
}

// NewSQLHistoryRepo はSQLHistoryRepoを生成する。
func NewSQLHistoryRepo(stores StoreProvider) *SQLHistoryRepo {
	return &SQLHistoryRepo{stores: stores}
}

const historyColumns = `user_id, entry_key, article_url, title, description, image_url,
	source_id, source_name, published_at, read_at, created_at, updated_at`

// Upsert は閲覧履歴を1回の書き込みで作成または更新する。
// 既存の場合、空のスナップショットフィールドは以前の値を残す。
func (r *SQLHistoryRepo) Upsert(ctx context.Context, e *model.HistoryEntry) error {
	store, err := r.stores.Get(ctx)
	if err != nil {
		return err
	}

	var readAt sql.NullTime
	if e.ReadAt != nil {
		readAt = sql.NullTime{Time: e.ReadAt.UTC(), Valid: true}
	}

	_, err = store.ExecContext(ctx,
		`INSERT INTO reading_history (`+historyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (user_id, entry_key) DO UPDATE SET
		     article_url = excluded.article_url,
		     title = COALESCE(NULLIF(excluded.title, ''), reading_history.title),
		     description = COALESCE(NULLIF(excluded.description, ''), reading_history.description),
		     image_url = COALESCE(NULLIF(excluded.image_url, ''), reading_history.image_url),
		     source_id = COALESCE(NULLIF(excluded.source_id, ''), reading_history.source_id),
		     source_name = COALESCE(NULLIF(excluded.source_name, ''), reading_history.source_name),
		     published_at = COALESCE(NULLIF(excluded.published_at, ''), reading_history.published_at),
		     read_at = excluded.read_at,
		     updated_at = excluded.updated_at`,
		e.UserID, e.EntryKey, e.ArticleURL, e.Title, e.Description, e.ImageURL,
		e.SourceID, e.SourceName, e.PublishedAt, readAt, e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert history entry: %w", err)
	}
	return nil
}

// FindByKey はユーザーIDとエントリキーで閲覧履歴を取得する。見つからない場合はnilを返す。
func (r *SQLHistoryRepo) FindByKey(ctx context.Context, userID, entryKey string) (*model.HistoryEntry, error) {
	store, err := r.stores.Get(ctx)
	if err != nil {
		return nil, err
	}

	row := store.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM reading_history
		 WHERE user_id = $1 AND entry_key = $2`,
		userID, entryKey,
	)
	e, err := scanHistoryEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find history entry: %w", err)
	}
	return e, nil
}

// ListRecent はread_at降順で最大limit件を返す。
// read_atがNULLの旧データは最も古いものとして末尾に並ぶ。
func (r *SQLHistoryRepo) ListRecent(ctx context.Context, userID string, limit int) ([]*model.HistoryEntry, error) {
	store, err := r.stores.Get(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := store.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM reading_history
		 WHERE user_id = $1
		 ORDER BY read_at DESC NULLS LAST, updated_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*model.HistoryEntry, 0, limit)
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history entries: %w", err)
	}

	return entries, nil
}

func scanHistoryEntry(s database.Scanner) (*model.HistoryEntry, error) {
	e := &model.HistoryEntry{}
	var readAt sql.NullTime
	err := s.Scan(
		&e.UserID, &e.EntryKey, &e.ArticleURL, &e.Title, &e.Description, &e.ImageURL,
		&e.SourceID, &e.SourceName, &e.PublishedAt, &readAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if readAt.Valid {
		t := readAt.Time.UTC()
		e.ReadAt = &t
	}
	return e, nil
}

// compile-time interface check
var _ HistoryRepository = (*SQLHistoryRepo)(nil)
