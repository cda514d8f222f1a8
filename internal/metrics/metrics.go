// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 書き込みディスパッチャー、通知受信箱、コンテンツクライアントから利用する。
type MetricsCollector interface {
	RecordWrite(op string, err error, duration time.Duration)
	RecordWriteError(kind, op string)
	RecordCacheHit(provider string)
	RecordCacheMiss(provider string)
	RecordUpstreamStatus(provider string, statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	writes         *prometheus.CounterVec
	writeLatency   *prometheus.HistogramVec
	writeErrors    *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	upstreamStatus *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_writes_total",
			Help: "ストアへの書き込み件数（操作・結果別）",
		}, []string{"op", "result"}),
		writeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsdesk_write_latency_seconds",
			Help:    "ストアへの書き込みのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_write_errors_total",
			Help: "報告チャネルに通知された書き込みエラー数",
		}, []string{"kind", "op"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_content_cache_hits_total",
			Help: "コンテンツキャッシュのヒット数",
		}, []string{"provider"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_content_cache_misses_total",
			Help: "コンテンツキャッシュのミス数",
		}, []string{"provider"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_upstream_http_status_total",
			Help: "外部APIのHTTPステータスコード別レスポンス数",
		}, []string{"provider", "status_code"}),
	}

	reg.MustRegister(
		c.writes,
		c.writeLatency,
		c.writeErrors,
		c.cacheHits,
		c.cacheMisses,
		c.upstreamStatus,
	)

	return c
}

// RecordWrite は書き込み1件の結果とレイテンシを記録する。
func (c *Collector) RecordWrite(op string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.writes.WithLabelValues(op, result).Inc()
	c.writeLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordWriteError は報告チャネルに流れた書き込みエラーを記録する。
func (c *Collector) RecordWriteError(kind, op string) {
	c.writeErrors.WithLabelValues(kind, op).Inc()
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(provider string) {
	c.cacheHits.WithLabelValues(provider).Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(provider string) {
	c.cacheMisses.WithLabelValues(provider).Inc()
}

// RecordUpstreamStatus は外部APIのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(provider string, statusCode int) {
	c.upstreamStatus.WithLabelValues(provider, strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordWrite(string, error, time.Duration) {}
func (NopCollector) RecordWriteError(string, string)          {}
func (NopCollector) RecordCacheHit(string)                    {}
func (NopCollector) RecordCacheMiss(string)                   {}
func (NopCollector) RecordUpstreamStatus(string, int)         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
