// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codex"

// MetricsCollector は発見フィード取得ワーカーが使うメトリクス収集のインターフェース。
type MetricsCollector interface {
	RecordFetchSuccess(source string)
	RecordFetchFailure(source string, reason string)
	RecordParseFailure(source string)
	RecordFetchLatency(duration time.Duration)
	RecordItemsUpserted(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
// HTTPミドルウェア、上流クライアント、セッションゲート、ワーカーから共有される。
type Collector struct {
	httpResponses   *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	gateRedirects   *prometheus.CounterVec
	fetchSuccess    prometheus.Counter
	fetchFail       *prometheus.CounterVec
	parseFail       prometheus.Counter
	fetchLatency    prometheus.Histogram
	itemsUpserted   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "ルート・ステータスコード別のレスポンス数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "リクエスト処理時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "上流サービス呼び出しの結果別の合計数",
		}, []string{"target", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "上流サービス呼び出しのレイテンシ（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),
		gateRedirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_redirects_total",
			Help:      "セッションゲートによるリダイレクト数",
		}, []string{"kind"}),
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discover_fetch_success_total",
			Help:      "発見フィード取得成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discover_fetch_fail_total",
			Help:      "発見フィード取得失敗の合計数",
		}, []string{"reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discover_parse_fail_total",
			Help:      "発見フィードのパース失敗の合計数",
		}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discover_fetch_latency_seconds",
			Help:      "発見フィード取得のレイテンシ（秒）",
			Buckets:   prometheus.DefBuckets,
		}),
		itemsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discover_items_upserted_total",
			Help:      "新たに保存された発見記事の合計数",
		}),
	}

	reg.MustRegister(
		c.httpResponses,
		c.httpLatency,
		c.upstreamCalls,
		c.upstreamLatency,
		c.gateRedirects,
		c.fetchSuccess,
		c.fetchFail,
		c.parseFail,
		c.fetchLatency,
		c.itemsUpserted,
	)

	return c
}

// ObserveHTTP はHTTPレスポンスを記録する。
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.httpResponses.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveUpstream は上流サービス呼び出しの結果とレイテンシを記録する。
// outcomeは success、error、unavailable のいずれか。
func (c *Collector) ObserveUpstream(target, outcome string, d time.Duration) {
	c.upstreamCalls.WithLabelValues(target, outcome).Inc()
	c.upstreamLatency.WithLabelValues(target).Observe(d.Seconds())
}

// ObserveGateRedirect はセッションゲートのリダイレクトを記録する。
func (c *Collector) ObserveGateRedirect(kind string) {
	c.gateRedirects.WithLabelValues(kind).Inc()
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(source string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフェッチ失敗を記録する。
func (c *Collector) RecordFetchFailure(source string, reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(source string) {
	c.parseFail.Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordItemsUpserted は新たに保存された記事数を記録する。
func (c *Collector) RecordItemsUpserted(count int) {
	c.itemsUpserted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
