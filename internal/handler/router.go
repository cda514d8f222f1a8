package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/newsdesk/internal/catalog"
	"github.com/hitoshi/newsdesk/internal/middleware"
)

// HealthChecker はストアの疎通確認インターフェース。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザーデータ
	ProfileService ProfileServiceInterface
	HistoryService HistoryServiceInterface
	Notifications  NotificationDrainer

	// コンテンツ
	NewsService  NewsServiceInterface
	VideoService VideoServiceInterface
	Catalog      *catalog.Catalog
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → SecurityHeaders → CORS → Logging → SessionMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// サインアップ・ログインはセッション不要で、IPごとのレート制限のみを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.ProfileService, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileService)
	historyHandler := NewHistoryHandler(deps.HistoryService)
	contentHandler := NewContentHandler(deps.NewsService, deps.VideoService, deps.ProfileService, deps.Catalog)
	notificationHandler := NewNotificationHandler(deps.Notifications)
	sessionMW := middleware.NewSessionMiddleware(deps.SessionFinder)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/signup", authHandler.SignUp)
			r.Post("/login", authHandler.Login)
		})
		r.Post("/logout", authHandler.Logout)
		r.With(sessionMW).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(sessionMW)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.GetProfile)
			r.Patch("/", profileHandler.UpdateProfile)
			r.Put("/preferences", profileHandler.UpdatePreferences)
		})

		r.Route("/api/history", func(r chi.Router) {
			r.Get("/", historyHandler.ListHistory)
			r.Post("/", historyHandler.RecordVisit)
		})

		r.Route("/api/news", func(r chi.Router) {
			r.Get("/headlines", contentHandler.Headlines)
			r.Get("/trending", contentHandler.Trending)
			r.Get("/search", contentHandler.Search)
			r.Get("/for-you", contentHandler.ForYou)
		})

		r.Get("/api/videos", contentHandler.Videos)
		r.Get("/api/categories", contentHandler.Categories)
		r.Get("/api/notifications", notificationHandler.Drain)
	})

	return r
}

// healthHandler はストアに疎通できる場合に200を返すハンドラーを生成する。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.Ping(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
