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
// ミドルウェアとハンドラー層から利用する。
type MetricsCollector interface {
	RecordAuthAttempt(action, outcome string)
	RecordGuardDecision(decision string)
	RecordTokenVerification(result string)
	RecordChatStream(outcome string)
	RecordChatFirstToken(latency time.Duration)
	RecordReadingFetch(outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts   *prometheus.CounterVec
	guardDecisions *prometheus.CounterVec
	tokenVerify    *prometheus.CounterVec
	chatStreams    *prometheus.CounterVec
	chatFirstToken prometheus.Histogram
	readingFetches *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdmcare_auth_attempts_total",
			Help: "ログイン・サインアップ・ログアウトの試行数（結果別）",
		}, []string{"action", "outcome"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdmcare_guard_decisions_total",
			Help: "ルートガードの判定数",
		}, []string{"decision"}),
		tokenVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdmcare_token_verifications_total",
			Help: "アクセストークン検証の結果別件数",
		}, []string{"result"}),
		chatStreams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdmcare_chat_streams_total",
			Help: "チャット中継ストリームの結果別件数",
		}, []string{"outcome"}),
		chatFirstToken: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gdmcare_chat_first_token_seconds",
			Help:    "チャット中継の最初のトークンまでの時間（秒）",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		readingFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdmcare_reading_fetches_total",
			Help: "参考記事フィード取得の結果別件数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdmcare_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.guardDecisions,
		c.tokenVerify,
		c.chatStreams,
		c.chatFirstToken,
		c.readingFetches,
		c.httpStatus,
	)

	return c
}

// RecordAuthAttempt は認証操作の結果を記録する。
func (c *Collector) RecordAuthAttempt(action, outcome string) {
	c.authAttempts.WithLabelValues(action, outcome).Inc()
}

// RecordGuardDecision はルートガードの判定を記録する。
func (c *Collector) RecordGuardDecision(decision string) {
	c.guardDecisions.WithLabelValues(decision).Inc()
}

// RecordTokenVerification はトークン検証の結果を記録する。
func (c *Collector) RecordTokenVerification(result string) {
	c.tokenVerify.WithLabelValues(result).Inc()
}

// RecordChatStream はチャットストリームの結果を記録する。
func (c *Collector) RecordChatStream(outcome string) {
	c.chatStreams.WithLabelValues(outcome).Inc()
}

// RecordChatFirstToken は最初のトークンまでの時間を記録する。
func (c *Collector) RecordChatFirstToken(latency time.Duration) {
	c.chatFirstToken.Observe(latency.Seconds())
}

// RecordReadingFetch は参考記事フィード取得の結果を記録する。
func (c *Collector) RecordReadingFetch(outcome string) {
	c.readingFetches.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordAuthAttempt(string, string) {}
func (Nop) RecordGuardDecision(string) {}
func (Nop) RecordTokenVerification(string) {}
func (Nop) RecordChatStream(string) {}
func (Nop) RecordChatFirstToken(time.Duration) {}
func (Nop) RecordReadingFetch(string) {}
func (Nop) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
