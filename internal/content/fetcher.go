// Package content はニュース記事と動画を外部APIから取得するクライアントを提供する。
//
// APIキーがない場合や外部APIが失敗した場合は空の結果を返し、診断をログに残す。
// 呼び出し元にエラーを返すことはない。
// 成功したレスポンスはリクエストURL単位でキャッシュする。
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/newsdesk/internal/metrics"
)

const (
	// DefaultCacheTTL は外部APIレスポンスの既定のキャッシュ期間。
	DefaultCacheTTL = time.Hour
	// maxBodySize はレスポンスボディの上限サイズ（5MB）。
	maxBodySize = 5 * 1024 * 1024
	// userAgent は外部APIへのリクエストに付与するUser-Agent。
	userAgent = "newsdesk/1.0"
)

// fetcher はキャッシュ付きのJSON取得処理。
type fetcher struct {
	provider string
	client   *http.Client
	cache    Cache
	ttl      time.Duration
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// FetcherOptions はクライアント共通の設定。
type FetcherOptions struct {
	HTTPClient *http.Client
	Cache      Cache
	TTL        time.Duration
	Metrics    metrics.MetricsCollector
	Logger     *slog.Logger
}

func newFetcher(provider string, opts FetcherOptions) fetcher {
	f := fetcher{
		provider: provider,
		client:   opts.HTTPClient,
		cache:    opts.Cache,
		ttl:      opts.TTL,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 15 * time.Second}
	}
	if f.cache == nil {
		f.cache = NewMemoryCache(0)
	}
	if f.ttl <= 0 {
		f.ttl = DefaultCacheTTL
	}
	if f.metrics == nil {
		f.metrics = metrics.NopCollector{}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// getJSON はendpointからJSONを取得してdstにデコードする。
// cacheKeyはAPIキーを含まないURLを渡す。失敗した場合はfalseを返す。
func (f *fetcher) getJSON(ctx context.Context, cacheKey string, req *http.Request, dst any) bool {
	if body, ok := f.cache.Get(ctx, cacheKey); ok {
		f.metrics.RecordCacheHit(f.provider)
		if err := json.Unmarshal(body, dst); err == nil {
			return true
		}
	}
	f.metrics.RecordCacheMiss(f.provider)

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error("外部APIへのリクエストに失敗しました",
			slog.String("provider", f.provider),
			slog.String("url", cacheKey),
			slog.String("error", err.Error()),
		)
		return false
	}
	defer resp.Body.Close()

	f.metrics.RecordUpstreamStatus(f.provider, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		f.logger.Error("外部APIのレスポンスの読み込みに失敗しました",
			slog.String("provider", f.provider),
			slog.String("error", err.Error()),
		)
		return false
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Error("外部APIがエラーを返しました",
			slog.String("provider", f.provider),
			slog.String("url", cacheKey),
			slog.Int("status", resp.StatusCode),
			slog.String("message", errorMessage(body)),
		)
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		f.logger.Error("外部APIのレスポンスのデコードに失敗しました",
			slog.String("provider", f.provider),
			slog.String("error", err.Error()),
		)
		return false
	}

	f.cache.Set(ctx, cacheKey, body, f.ttl)
	return true
}

// errorMessage はエラーレスポンスのmessageフィールドを取り出す。
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error.Message
}

// buildURL はbaseURL/endpointにクエリを付けたURLを返す。
func buildURL(baseURL, endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	u = u.JoinPath(endpoint)
	u.RawQuery = params.Encode()
	return u.String(), nil
}
