package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/newsdesk/internal/catalog"
	"github.com/hitoshi/newsdesk/internal/model"
)

// NewsServiceInterface はニュースハンドラーが必要とするサービスインターフェース。
// 取得に失敗した場合も空のスライスを返し、エラーにはしない。
type NewsServiceInterface interface {
	TopHeadlines(ctx context.Context, country string) []model.Article
	Trending(ctx context.Context) []model.Article
	Search(ctx context.Context, query string) []model.Article
	ForCategories(ctx context.Context, categories []string) []model.Article
}

// VideoServiceInterface は動画ハンドラーが必要とするサービスインターフェース。
type VideoServiceInterface interface {
	LatestNewsVideos(ctx context.Context) []model.Video
}

// PreferenceReader はログインユーザーのpreferencesを読むインターフェース。
type PreferenceReader interface {
	GetProfile(ctx context.Context, userID string) *model.UserProfile
}

// ContentHandler はニュース・動画・カテゴリ一覧のHTTPハンドラー。
type ContentHandler struct {
	news     NewsServiceInterface
	videos   VideoServiceInterface
	profiles PreferenceReader
	catalog  *catalog.Catalog
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(news NewsServiceInterface, videos VideoServiceInterface, profiles PreferenceReader, cat *catalog.Catalog) *ContentHandler {
	return &ContentHandler{
		news:     news,
		videos:   videos,
		profiles: profiles,
		catalog:  cat,
	}
}

type articlesResponse struct {
	Articles []model.Article `json:"articles"`
}

type videosResponse struct {
	Videos []model.Video `json:"videos"`
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
}

// Headlines は国別のトップニュースを返す。
// GET /api/news/headlines?country=
func (h *ContentHandler) Headlines(w http.ResponseWriter, r *http.Request) {
	country := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("country")))
	writeArticles(w, h.news.TopHeadlines(r.Context(), country))
}

// Trending は話題のニュースを返す。
// GET /api/news/trending
func (h *ContentHandler) Trending(w http.ResponseWriter, r *http.Request) {
	writeArticles(w, h.news.Trending(r.Context()))
}

// Search はキーワードでニュースを検索する。
// GET /api/news/search?q=
func (h *ContentHandler) Search(w http.ResponseWriter, r *http.Request) {
	writeArticles(w, h.news.Search(r.Context(), r.URL.Query().Get("q")))
}

// ForYou はログインユーザーのpreferencesに基づくニュースを返す。
// プロフィールが読み込めない場合はデフォルトのカテゴリを使う。
// GET /api/news/for-you
func (h *ContentHandler) ForYou(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	prefs := model.DefaultPreferences
	if p := h.profiles.GetProfile(r.Context(), userID); p != nil {
		prefs = p.Preferences
	}
	writeArticles(w, h.news.ForCategories(r.Context(), prefs))
}

// Videos はニュースチャンネルの最新動画を返す。
// GET /api/videos
func (h *ContentHandler) Videos(w http.ResponseWriter, r *http.Request) {
	videos := h.videos.LatestNewsVideos(r.Context())
	if videos == nil {
		videos = []model.Video{}
	}
	writeJSON(w, http.StatusOK, videosResponse{Videos: videos})
}

// Categories は選択可能なカテゴリ一覧を返す。
// GET /api/categories
func (h *ContentHandler) Categories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, categoriesResponse{Categories: h.catalog.Categories})
}

func writeArticles(w http.ResponseWriter, articles []model.Article) {
	if articles == nil {
		articles = []model.Article{}
	}
	writeJSON(w, http.StatusOK, articlesResponse{Articles: articles})
}
