package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/newsdesk/internal/auth"
	"github.com/hitoshi/newsdesk/internal/catalog"
	"github.com/hitoshi/newsdesk/internal/config"
	"github.com/hitoshi/newsdesk/internal/content"
	"github.com/hitoshi/newsdesk/internal/database"
	"github.com/hitoshi/newsdesk/internal/events"
	"github.com/hitoshi/newsdesk/internal/handler"
	"github.com/hitoshi/newsdesk/internal/history"
	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/notify"
	"github.com/hitoshi/newsdesk/internal/profile"
	"github.com/hitoshi/newsdesk/internal/repository"
	"github.com/hitoshi/newsdesk/internal/security"
	"github.com/hitoshi/newsdesk/internal/worker/cleanup"
	"github.com/hitoshi/newsdesk/internal/writer"
)

// Container はアプリケーションの依存関係をまとめて保持する。
// 生成はNewContainerで1回だけ行い、各コマンドは必要なものだけを使う。
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	Stores   *database.Provider
	Registry *prometheus.Registry
	Metrics  *metrics.Collector
	Bus      *events.Bus
	Inbox    *notify.Inbox
	Writes   *writer.Dispatcher
	Catalog  *catalog.Catalog

	Sessions *repository.SQLSessionRepo
	Profiles *profile.Service
	History  *history.Service
	Auth     *auth.Service
	News     *content.NewsClient
	Videos   *content.VideoClient
	Cleanup  *cleanup.CleanupJob

	cache       content.Cache
	rateLimiter *middleware.RateLimiter
	detachInbox func()
}

// NewContainer は設定から依存関係を組み立てる。
// データベースへの接続は最初に使われるまで行わない。
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialect, err := database.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}

	for _, endpoint := range []string{cfg.NewsAPIBaseURL, cfg.YouTubeAPIBaseURL} {
		if endpoint == "" {
			continue
		}
		if err := security.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("invalid content API endpoint: %w", err)
		}
	}

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		cat, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
	}

	c := &Container{
		Config:   cfg,
		Logger:   logger,
		Stores:   database.NewURLProvider(dialect, cfg.DatabaseURL),
		Registry: prometheus.NewRegistry(),
		Bus:      events.NewBus(logger),
		Catalog:  cat,
	}
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.NewCollector(c.Registry)

	c.Inbox = notify.NewInbox(notify.DefaultMaxPerUser, c.Metrics, logger)
	c.detachInbox = c.Inbox.Attach(c.Bus)

	c.Writes = writer.NewDispatcher(writer.Config{
		Shards:    cfg.WriteShards,
		QueueSize: cfg.WriteQueueSize,
		Timeout:   cfg.WriteTimeout,
	}, c.Bus, c.Metrics, logger)

	c.Sessions = repository.NewSQLSessionRepo(c.Stores)
	c.Profiles = profile.NewService(repository.NewSQLProfileRepo(c.Stores), c.Writes, cat, logger)
	c.History = history.NewService(repository.NewSQLHistoryRepo(c.Stores), c.Writes, logger)
	c.Auth = auth.NewService(
		repository.NewSQLCredentialRepo(c.Stores), c.Sessions, c.Profiles,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge}, logger,
	)
	c.Cleanup = cleanup.NewCleanupJob(c.Sessions, logger)

	if cfg.RedisURL != "" {
		rc, err := content.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			c.Close(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.cache = rc
	} else {
		c.cache = content.NewMemoryCache(0)
	}

	opts := content.FetcherOptions{
		HTTPClient: security.NewOutboundClient(15 * time.Second),
		Cache:      c.cache,
		TTL:        cfg.ContentCacheTTL,
		Metrics:    c.Metrics,
		Logger:     logger,
	}
	c.News = content.NewNewsClient(content.NewsConfig{
		APIKey:  cfg.NewsAPIKey,
		BaseURL: cfg.NewsAPIBaseURL,
		Country: cfg.NewsDefaultCountry,
		Sources: cat.NewsSources,
	}, opts)
	c.Videos = content.NewVideoClient(content.VideoConfig{
		APIKey:   cfg.YouTubeAPIKey,
		BaseURL:  cfg.YouTubeAPIBaseURL,
		Channels: cat.YouTubeChannels,
	}, opts)

	return c, nil
}

// Router はAPIサーバーのルーターを構築する。
func (c *Container) Router() http.Handler {
	if c.rateLimiter == nil {
		c.rateLimiter = middleware.NewRateLimiter(
			middleware.NewRateLimiterConfig(c.Config.RateLimitGeneral, c.Config.RateLimitAuth),
		)
	}

	return handler.NewRouter(&handler.RouterDeps{
		Logger:            c.Logger,
		SessionFinder:     c.Sessions,
		CORSAllowedOrigin: c.Config.CORSAllowedOrigin,
		RateLimiter:       c.rateLimiter,
		HealthChecker:     c.Stores,
		MetricsHandler:    metrics.Handler(c.Registry),

		AuthService: c.Auth,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  c.Config.CookieDomain,
			CookieSecure:  c.Config.CookieSecure,
			SessionMaxAge: c.Config.SessionMaxAge,
		},

		ProfileService: c.Profiles,
		HistoryService: c.History,
		Notifications:  c.Inbox,
		NewsService:    c.News,
		VideoService:   c.Videos,
		Catalog:        c.Catalog,
	})
}

// Close は保留中の書き込みを待ってから各リソースを解放する。
// 書き込みが残ったままctxが終了した場合は、通知の購読とストアを開いたまま返る。
// その場合は再度Closeを呼ぶと残りの書き込みを待ってから解放する。
func (c *Container) Close(ctx context.Context) error {
	if c.Writes != nil {
		if err := c.Writes.Close(ctx); err != nil {
			c.Logger.Warn("書き込みが残っているためストアを閉じずに終了します",
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("failed to drain writes: %w", err)
		}
	}

	var errs []error
	if c.detachInbox != nil {
		c.detachInbox()
		c.detachInbox = nil
	}
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
	if rc, ok := c.cache.(*content.RedisCache); ok {
		if err := rc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		c.cache = nil
	}
	if c.Stores != nil {
		if err := c.Stores.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	return errors.Join(errs...)
}
