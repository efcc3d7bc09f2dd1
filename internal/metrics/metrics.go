// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder は業務イベントのメトリクス記録インターフェース。
// サービス層から利用する。
type Recorder interface {
	RecordClockIn()
	RecordClockOut(duration time.Duration)
	RecordApproval(approved bool)
	RecordTaskSubmission(outcome string)
	RecordTaskEdit()
	RecordConflict(operation string)
	RecordStoreError(operation string)
}

// タスク提出の結果ラベル
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	clockIn         prometheus.Counter
	clockOut        prometheus.Counter
	approvals       *prometheus.CounterVec
	taskSubmissions *prometheus.CounterVec
	taskEdits       prometheus.Counter
	conflicts       *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	sessionHours    prometheus.Histogram
	httpDuration    *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		clockIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealerdesk_clock_in_total",
			Help: "出勤打刻の合計数",
		}),
		clockOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealerdesk_clock_out_total",
			Help: "退勤打刻の合計数",
		}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealerdesk_session_approvals_total",
			Help: "勤怠セッションの承認・却下数",
		}, []string{"decision"}),
		taskSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealerdesk_task_submissions_total",
			Help: "日次タスク提出の結果別件数",
		}, []string{"outcome"}),
		taskEdits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealerdesk_task_edits_total",
			Help: "記録されたタスク編集履歴の合計数",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealerdesk_conflicts_total",
			Help: "操作別の競合エラー数",
		}, []string{"operation"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealerdesk_store_errors_total",
			Help: "操作別のデータストア障害数",
		}, []string{"operation"}),
		sessionHours: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealerdesk_session_duration_hours",
			Help:    "退勤済み勤怠セッションの勤務時間（時間）",
			Buckets: []float64{1, 2, 4, 6, 8, 10, 12, 16, 24},
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dealerdesk_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		c.clockIn,
		c.clockOut,
		c.approvals,
		c.taskSubmissions,
		c.taskEdits,
		c.conflicts,
		c.storeErrors,
		c.sessionHours,
		c.httpDuration,
	)

	return c
}

// RecordClockIn は出勤打刻を記録する。
func (c *Collector) RecordClockIn() {
	c.clockIn.Inc()
}

// RecordClockOut は退勤打刻と勤務時間を記録する。
func (c *Collector) RecordClockOut(duration time.Duration) {
	c.clockOut.Inc()
	c.sessionHours.Observe(duration.Hours())
}

// RecordApproval は承認または却下を記録する。
func (c *Collector) RecordApproval(approved bool) {
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	c.approvals.WithLabelValues(decision).Inc()
}

// RecordTaskSubmission はタスク提出の結果を記録する。
func (c *Collector) RecordTaskSubmission(outcome string) {
	c.taskSubmissions.WithLabelValues(outcome).Inc()
}

// RecordTaskEdit は編集履歴の追加を記録する。
func (c *Collector) RecordTaskEdit() {
	c.taskEdits.Inc()
}

// RecordConflict は競合エラーを記録する。
func (c *Collector) RecordConflict(operation string) {
	c.conflicts.WithLabelValues(operation).Inc()
}

// RecordStoreError はデータストア障害を記録する。
func (c *Collector) RecordStoreError(operation string) {
	c.storeErrors.WithLabelValues(operation).Inc()
}

// ObserveHTTPRequest はHTTPリクエストの処理時間を記録する。
func (c *Collector) ObserveHTTPRequest(method, route, status string, d time.Duration) {
	c.httpDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// NopRecorder は何も記録しないRecorder。
type NopRecorder struct{}

func (NopRecorder) RecordClockIn() {}
func (NopRecorder) RecordClockOut(time.Duration) {}
func (NopRecorder) RecordApproval(bool) {}
func (NopRecorder) RecordTaskSubmission(string) {}
func (NopRecorder) RecordTaskEdit() {}
func (NopRecorder) RecordConflict(string) {}
func (NopRecorder) RecordStoreError(string) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = NopRecorder{}
)
