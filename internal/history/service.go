// Package history は閲覧履歴のドメインロジックを提供する。
//
// 閲覧履歴は記事URLから導出したキー（EntryKey）で1ユーザー1記事1件に重複排除される。
// 再訪問は存在確認を挟まず1回のアップサートでread_atを更新する。
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/repository"
	"github.com/hitoshi/newsdesk/internal/writer"
)

// MaxEntries はGetHistoryが返す最大件数。
const MaxEntries = 50

// Path は閲覧履歴のドキュメントパスを返す。
func Path(userID, entryKey string) string {
	return "users/" + userID + "/readingHistory/" + entryKey
}

// Service は閲覧履歴のサービス層。
type Service struct {
	repo   repository.HistoryRepository
	writes writer.Submitter
	logger *slog.Logger
	now    func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.HistoryRepository, writes writer.Submitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		writes: writes,
		logger: logger,
		now:    time.Now,
	}
}

// AddEntry は記事の閲覧を記録する。
// URLが空の記事は書き込みもイベントも発生させず、成功済みのTaskを返す。
func (s *Service) AddEntry(ctx context.Context, userID string, article model.Article) *writer.Task {
	key := EntryKey(article.URL)
	if key == "" {
		return writer.Completed()
	}
	if userID == "" {
		return writer.Failed(model.NewInvalidUserIDError())
	}

	now := s.now().UTC()
	entry := &model.HistoryEntry{
		UserID:      userID,
		EntryKey:    key,
		ArticleURL:  article.URL,
		Title:       article.Title,
		Description: article.Description,
		ImageURL:    article.URLToImage,
		SourceID:    article.Source.ID,
		SourceName:  article.Source.Name,
		PublishedAt: article.PublishedAt,
		ReadAt:      &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	payload := map[string]any{
		"userId":      userID,
		"url":         article.URL,
		"title":       article.Title,
		"description": article.Description,
		"urlToImage":  article.URLToImage,
		"publishedAt": article.PublishedAt,
		"source":      map[string]any{"id": article.Source.ID, "name": article.Source.Name},
		"readAt":      now.Format(time.RFC3339Nano),
	}

	return s.writes.Submit(Path(userID, key), model.WriteOpWrite, payload, func(ctx context.Context) error {
		return s.repo.Upsert(ctx, entry)
	})
}

// GetHistory は最新の閲覧履歴を最大MaxEntries件、read_at降順で返す。
// 読み込みに失敗した場合はログに記録し、空のスライスを返す。
func (s *Service) GetHistory(ctx context.Context, userID string) []model.Article {
	if userID == "" {
		return []model.Article{}
	}

	entries, err := s.repo.ListRecent(ctx, userID, MaxEntries)
	if err != nil {
		s.logger.Error("閲覧履歴の取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return []model.Article{}
	}

	articles := make([]model.Article, len(entries))
	for i, e := range entries {
		articles[i] = e.ToArticle()
	}
	return articles
}

// Lookup は記事URLに対応する閲覧履歴を返す。未読の場合はnil。
// 読み込みに失敗した場合はログに記録し、nilを返す。
func (s *Service) Lookup(ctx context.Context, userID, articleURL string) *model.HistoryEntry {
	key := EntryKey(articleURL)
	if userID == "" || key == "" {
		return nil
	}

	e, err := s.repo.FindByKey(ctx, userID, key)
	if err != nil {
		s.logger.Error("閲覧履歴の取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("path", Path(userID, key)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return e
}
