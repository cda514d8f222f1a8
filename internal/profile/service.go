// Package profile はユーザープロフィールのドメインロジックを提供する。
//
// 読み込みは呼び出し元が待つが、書き込みはノンブロッキングで発行し*writer.Taskを返す。
// 書き込みの失敗は報告チャネルに流れ、呼び出し元にエラーとして返ることはない。
package profile

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/repository"
	"github.com/hitoshi/newsdesk/internal/writer"
)

// MinUsernameLength は表示名の最小文字数。
const MinUsernameLength = 2

// CategorySet は有効なカテゴリの判定インターフェース。
// *catalog.Catalogが満たす。
type CategorySet interface {
	HasCategory(category string) bool
}

// Path はプロフィールのドキュメントパスを返す。
func Path(userID string) string {
	return "users/" + userID
}

// Service はプロフィール管理のサービス層。
type Service struct {
	repo       repository.ProfileRepository
	writes     writer.Submitter
	categories CategorySet
	logger     *slog.Logger
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.ProfileRepository,
	writes writer.Submitter,
	categories CategorySet,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		writes:     writes,
		categories: categories,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateProfile はデフォルトのpreferencesでプロフィールを作成する。
// 既存のレコードがある場合はマージし、空でないemailと表示名のみを反映する。
// 書き込みは呼び出し元のctxのキャンセルに影響されない。
func (s *Service) CreateProfile(ctx context.Context, userID, email, displayName string) *writer.Task {
	if userID == "" {
		return writer.Failed(model.NewInvalidUserIDError())
	}

	now := s.now().UTC()
	p := &model.UserProfile{
		ID:          userID,
		Email:       email,
		Username:    displayName,
		Preferences: slices.Clone(model.DefaultPreferences),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	payload := map[string]any{
		"username":    p.Username,
		"email":       p.Email,
		"preferences": p.Preferences,
		"createdAt":   now.Format(time.RFC3339Nano),
	}

	return s.writes.Submit(Path(userID), model.WriteOpCreate, payload, func(ctx context.Context) error {
		return s.repo.Upsert(ctx, p)
	})
}

// GetProfile はプロフィールを取得する。
// 存在しない場合と読み込みに失敗した場合はnilを返す。失敗はログに記録する。
func (s *Service) GetProfile(ctx context.Context, userID string) *model.UserProfile {
	if userID == "" {
		return nil
	}

	p, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		s.logger.Error("プロフィールの取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("path", Path(userID)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return p
}

// UpdatePreferences はpreferencesのみを更新する。
// カテゴリは小文字に正規化し、重複を除いて指定順を保持する。
// 未知のカテゴリを含む場合は書き込みを行わず、失敗済みのTaskを返す。
func (s *Service) UpdatePreferences(ctx context.Context, userID string, preferences []string) *writer.Task {
	if userID == "" {
		return writer.Failed(model.NewInvalidUserIDError())
	}

	prefs, err := s.NormalizePreferences(preferences)
	if err != nil {
		return writer.Failed(err)
	}

	now := s.now().UTC()
	payload := map[string]any{
		"preferences": prefs,
		"updatedAt":   now.Format(time.RFC3339Nano),
	}

	return s.writes.Submit(Path(userID), model.WriteOpUpdate, payload, func(ctx context.Context) error {
		return s.repo.UpdatePreferences(ctx, userID, prefs, now)
	})
}

// NormalizePreferences はカテゴリ一覧を検証し、正規化した集合を返す。
func (s *Service) NormalizePreferences(preferences []string) ([]string, error) {
	prefs := make([]string, 0, len(preferences))
	for _, raw := range preferences {
		cat := strings.ToLower(strings.TrimSpace(raw))
		if s.categories != nil && !s.categories.HasCategory(cat) {
			return nil, model.NewInvalidCategoryError(raw)
		}
		if !slices.Contains(prefs, cat) {
			prefs = append(prefs, cat)
		}
	}
	return prefs, nil
}

// UpdateProfile は表示名と年齢のうち指定されたものだけを更新する。
// 更新対象がない場合は書き込みを行わず、成功済みのTaskを返す。
func (s *Service) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) *writer.Task {
	if userID == "" {
		return writer.Failed(model.NewInvalidUserIDError())
	}

	update, err := validateUpdate(update)
	if err != nil {
		return writer.Failed(err)
	}
	if update.IsEmpty() {
		return writer.Completed()
	}

	now := s.now().UTC()
	payload := map[string]any{"updatedAt": now.Format(time.RFC3339Nano)}
	if update.Username != nil {
		payload["username"] = *update.Username
	}
	if update.Age != nil {
		payload["age"] = *update.Age
	}

	return s.writes.Submit(Path(userID), model.WriteOpUpdate, payload, func(ctx context.Context) error {
		return s.repo.Update(ctx, userID, update, now)
	})
}

// validateUpdate は表示名の前後の空白を除き、各フィールドを検証する。
func validateUpdate(update model.ProfileUpdate) (model.ProfileUpdate, error) {
	if update.Username != nil {
		name := strings.TrimSpace(*update.Username)
		if utf8.RuneCountInString(name) < MinUsernameLength {
			return update, model.NewInvalidUsernameError()
		}
		update.Username = &name
	}
	if update.Age != nil && *update.Age <= 0 {
		return update, model.NewInvalidAgeError(*update.Age)
	}
	return update, nil
}
