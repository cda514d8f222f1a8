package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/notify"
	"github.com/hitoshi/newsdesk/internal/writer"
)

// --- モック定義 ---

type mockAuthService struct {
	signUpFn func(ctx context.Context, email, password, displayName string) (*model.Session, error)
	loginFn  func(ctx context.Context, email, password string) (*model.Session, error)
	logoutFn func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password, displayName string) (*model.Session, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, displayName)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockProfileService struct {
	getProfileFn        func(ctx context.Context, userID string) *model.UserProfile
	normalizeFn         func(preferences []string) ([]string, error)
	updatePreferencesFn func(ctx context.Context, userID string, preferences []string) *writer.Task
	updateProfileFn     func(ctx context.Context, userID string, update model.ProfileUpdate) *writer.Task
}

func (m *mockProfileService) GetProfile(ctx context.Context, userID string) *model.UserProfile {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, userID)
	}
	return nil
}

func (m *mockProfileService) NormalizePreferences(preferences []string) ([]string, error) {
	if m.normalizeFn != nil {
		return m.normalizeFn(preferences)
	}
	return preferences, nil
}

func (m *mockProfileService) UpdatePreferences(ctx context.Context, userID string, preferences []string) *writer.Task {
	if m.updatePreferencesFn != nil {
		return m.updatePreferencesFn(ctx, userID, preferences)
	}
	return writer.Completed()
}

func (m *mockProfileService) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) *writer.Task {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, userID, update)
	}
	return writer.Completed()
}

type mockHistoryService struct {
	addEntryFn   func(ctx context.Context, userID string, article model.Article) *writer.Task
	getHistoryFn func(ctx context.Context, userID string) []model.Article
}

func (m *mockHistoryService) AddEntry(ctx context.Context, userID string, article model.Article) *writer.Task {
	if m.addEntryFn != nil {
		return m.addEntryFn(ctx, userID, article)
	}
	return writer.Completed()
}

func (m *mockHistoryService) GetHistory(ctx context.Context, userID string) []model.Article {
	if m.getHistoryFn != nil {
		return m.getHistoryFn(ctx, userID)
	}
	return []model.Article{}
}

type mockNewsService struct {
	topHeadlinesFn  func(ctx context.Context, country string) []model.Article
	trendingFn      func(ctx context.Context) []model.Article
	searchFn        func(ctx context.Context, query string) []model.Article
	forCategoriesFn func(ctx context.Context, categories []string) []model.Article
}

func (m *mockNewsService) TopHeadlines(ctx context.Context, country string) []model.Article {
	if m.topHeadlinesFn != nil {
		return m.topHeadlinesFn(ctx, country)
	}
	return nil
}

func (m *mockNewsService) Trending(ctx context.Context) []model.Article {
	if m.trendingFn != nil {
		return m.trendingFn(ctx)
	}
	return nil
}

func (m *mockNewsService) Search(ctx context.Context, query string) []model.Article {
	if m.searchFn != nil {
		return m.searchFn(ctx, query)
	}
	return nil
}

func (m *mockNewsService) ForCategories(ctx context.Context, categories []string) []model.Article {
	if m.forCategoriesFn != nil {
		return m.forCategoriesFn(ctx, categories)
	}
	return nil
}

type mockVideoService struct {
	videos []model.Video
}

func (m *mockVideoService) LatestNewsVideos(ctx context.Context) []model.Video {
	return m.videos
}

type mockInbox struct {
	notices map[string][]notify.Notice
}

func (m *mockInbox) Drain(userID string) []notify.Notice {
	n := m.notices[userID]
	delete(m.notices, userID)
	if n == nil {
		return []notify.Notice{}
	}
	return n
}

var (
	_ AuthServiceInterface    = (*mockAuthService)(nil)
	_ ProfileServiceInterface = (*mockProfileService)(nil)
	_ HistoryServiceInterface = (*mockHistoryService)(nil)
	_ NewsServiceInterface    = (*mockNewsService)(nil)
	_ VideoServiceInterface   = (*mockVideoService)(nil)
	_ NotificationDrainer     = (*mockInbox)(nil)
)

// withUserID はリクエストコンテキストにユーザーIDを注入する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

func ptr[T any](v T) *T { return &v }
