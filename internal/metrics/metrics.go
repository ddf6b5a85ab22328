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
// APIクライアント、フィード処理、ワーカーから利用する。
type MetricsCollector interface {
	RecordAPIRequest(path string, status int, latency time.Duration)
	RecordSubscribeSuccess(feedID string)
	RecordSubscribeFailure(feedID string, kind string)
	RecordNote(noteType string)
	RecordCacheHit(key string)
	RecordCacheMiss(key string)
	RecordFeedSkipped(reason string)
	RecordJobResult(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiRequests      *prometheus.CounterVec
	apiLatency       prometheus.Histogram
	subscribeSuccess prometheus.Counter
	subscribeFail    *prometheus.CounterVec
	notes            *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	feedsSkipped     *prometheus.CounterVec
	jobs             *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitbridge_api_requests_total",
			Help: "ConvertKit APIリクエスト数（パス・ステータス別、通信失敗は0）",
		}, []string{"path", "status_code"}),
		apiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kitbridge_api_latency_seconds",
			Help:    "ConvertKit APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		subscribeSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kitbridge_subscribe_success_total",
			Help: "購読登録成功の合計数",
		}),
		subscribeFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitbridge_subscribe_fail_total",
			Help: "購読登録失敗の合計数（エラー種別別）",
		}, []string{"kind"}),
		notes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitbridge_notes_total",
			Help: "エントリに記録したノート数（種別別）",
		}, []string{"type"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitbridge_cache_hits_total",
			Help: "キャッシュヒット数（キー別）",
		}, []string{"key"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitbridge_cache_misses_total",
			Help: "キャッシュミス数（キー別）",
		}, []string{"key"}),
		feedsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitbridge_feeds_skipped_total",
			Help: "実行されなかったフィード数（理由別）",
		}, []string{"reason"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitbridge_jobs_total",
			Help: "フィード処理ジョブの実行結果数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiLatency,
		c.subscribeSuccess,
		c.subscribeFail,
		c.notes,
		c.cacheHits,
		c.cacheMisses,
		c.feedsSkipped,
		c.jobs,
	)

	return c
}

// RecordAPIRequest はAPIリクエストの結果とレイテンシを記録する。
func (c *Collector) RecordAPIRequest(path string, status int, latency time.Duration) {
	c.apiRequests.WithLabelValues(path, strconv.Itoa(status)).Inc()
	c.apiLatency.Observe(latency.Seconds())
}

// RecordSubscribeSuccess は購読成功を記録する。
func (c *Collector) RecordSubscribeSuccess(feedID string) {
	c.subscribeSuccess.Inc()
}

// RecordSubscribeFailure は購読失敗を記録する。
func (c *Collector) RecordSubscribeFailure(feedID string, kind string) {
	c.subscribeFail.WithLabelValues(kind).Inc()
}

// RecordNote はノートの記録を数える。
func (c *Collector) RecordNote(noteType string) {
	c.notes.WithLabelValues(noteType).Inc()
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(key string) {
	c.cacheHits.WithLabelValues(key).Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(key string) {
	c.cacheMisses.WithLabelValues(key).Inc()
}

// RecordFeedSkipped は条件不成立などで実行しなかったフィードを記録する。
func (c *Collector) RecordFeedSkipped(reason string) {
	c.feedsSkipped.WithLabelValues(reason).Inc()
}

// RecordJobResult はジョブの実行結果を記録する。
func (c *Collector) RecordJobResult(result string) {
	c.jobs.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

var _ MetricsCollector = NopCollector{}

func (NopCollector) RecordAPIRequest(string, int, time.Duration) {}
func (NopCollector) RecordSubscribeSuccess(string)               {}
func (NopCollector) RecordSubscribeFailure(string, string)       {}
func (NopCollector) RecordNote(string)                           {}
func (NopCollector) RecordCacheHit(string)                       {}
func (NopCollector) RecordCacheMiss(string)                      {}
func (NopCollector) RecordFeedSkipped(string)                    {}
func (NopCollector) RecordJobResult(string)                      {}
