package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	foundryRequestTotal    *prometheus.CounterVec
	foundryRequestDuration *prometheus.HistogramVec

	chatTurnTotal    *prometheus.CounterVec
	chatTurnDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec
	approvalTotal         *prometheus.CounterVec

	ordersTotal *prometheus.CounterVec
	ordersOpen  prometheus.Gauge

	kbDocuments      prometheus.Gauge
	kbSearchTotal    *prometheus.CounterVec
	kbSearchDuration prometheus.Histogram
	kbSyncDuration   prometheus.Histogram

	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	wsClients     prometheus.Gauge
	wsEventsTotal *prometheus.CounterVec

	activeSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram

	maintenanceRunTotal    *prometheus.CounterVec
	maintenanceRunDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			foundryRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sofia",
					Name:      "foundry_requests_total",
					Help:      "Total Foundry data plane requests by operation and status.",
				},
				[]string{"operation", "status"},
			),
			foundryRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "sofia",
					Name:      "foundry_request_duration_seconds",
					Help:      "Foundry request duration in seconds by operation.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"operation"},
			),
			chatTurnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sofia",
					Name:      "chat_turns_total",
					Help:      "Total chat turns by mode and status.",
				},
				[]string{"mode", "status"},
			),
			chatTurnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "sofia",
					Name:      "chat_turn_duration_seconds",
					Help:      "Chat turn duration in seconds by mode.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"mode"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sofia",
					Name:      "tool_executions_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "sofia",
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sofia",
					Name:      "tool_errors_total",
					Help:      "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			approvalTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sofia",
					Name:      "tool_approvals_total",
					Help:      "Total tool approval decisions by outcome.",
				},
				[]string{"decision"},
			),
			ordersTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sofia",
					Name:      "orders_total",
					Help:      "Total pizza orders by terminal status.",
				},
				[]string{"status"},
			),
			ordersOpen: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "sofia",
					Name:      "orders_open",
					Help:      "Current orders not yet delivered or cancelled.",
				},
			),
			kbDocuments: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "sofia",
					Name:      "kb_documents",
					Help:      "Documents indexed in the knowledge base.",
				},
			),
			kbSearchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sofia",
					Name:      "kb_searches_total",
					Help:      "Total knowledge base searches by mode.",
				},
				[]string{"mode"},
			),
			kbSearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "sofia",
					Name:      "kb_search_duration_seconds",
					Help:      "Knowledge base search duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			kbSyncDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "sofia",
					Name:      "kb_sync_duration_seconds",
					Help:      "Knowledge base sync duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			httpRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sofia",
					Name:      "http_requests_total",
					Help:      "Total HTTP requests by path, method and status code.",
				},
				[]string{"path", "method", "status"},
			),
			httpRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "sofia",
					Name:      "http_request_duration_seconds",
					Help:      "HTTP request duration in seconds by path.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"path"},
			),
			wsClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "sofia",
					Name:      "ws_clients",
					Help:      "Connected order feed clients.",
				},
			),
			wsEventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sofia",
					Name:      "ws_events_total",
					Help:      "Total order feed events broadcast by event type.",
				},
				[]string{"event"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "sofia",
					Name:      "active_sessions",
					Help:      "Current active session count.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "sofia",
					Name:      "session_load_duration_seconds",
					Help:      "Session load duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "sofia",
					Name:      "session_save_duration_seconds",
					Help:      "Session save duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			maintenanceRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "sofia",
					Name:      "maintenance_runs_total",
					Help:      "Total maintenance job runs by job and status.",
				},
				[]string{"job", "status"},
			),
			maintenanceRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "sofia",
					Name:      "maintenance_run_duration_seconds",
					Help:      "Maintenance job run duration in seconds by job.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"job"},
			),
		}

		prometheus.MustRegister(
			m.foundryRequestTotal,
			m.foundryRequestDuration,
			m.chatTurnTotal,
			m.chatTurnDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.approvalTotal,
			m.ordersTotal,
			m.ordersOpen,
			m.kbDocuments,
			m.kbSearchTotal,
			m.kbSearchDuration,
			m.kbSyncDuration,
			m.httpRequestTotal,
			m.httpRequestDuration,
			m.wsClients,
			m.wsEventsTotal,
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.maintenanceRunTotal,
			m.maintenanceRunDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordFoundryRequest(operation string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.foundryRequestTotal.WithLabelValues(operation, status).Inc()
	m.foundryRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordChatTurn(mode string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.chatTurnTotal.WithLabelValues(mode, status).Inc()
	m.chatTurnDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordApprovalDecision(decision string) {
	m := getMetrics()
	m.approvalTotal.WithLabelValues(decision).Inc()
}

func RecordOrder(status string) {
	m := getMetrics()
	m.ordersTotal.WithLabelValues(status).Inc()
}

func SetOpenOrders(count int) {
	m := getMetrics()
	m.ordersOpen.Set(float64(count))
}

func SetKBDocuments(count int) {
	m := getMetrics()
	m.kbDocuments.Set(float64(count))
}

func RecordKBSearch(mode string, duration time.Duration) {
	m := getMetrics()
	m.kbSearchTotal.WithLabelValues(mode).Inc()
	m.kbSearchDuration.Observe(duration.Seconds())
}

func RecordKBSync(duration time.Duration) {
	m := getMetrics()
	m.kbSyncDuration.Observe(duration.Seconds())
}

func RecordHTTPRequest(path, method string, statusCode int, duration time.Duration) {
	m := getMetrics()
	m.httpRequestTotal.WithLabelValues(path, method, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

func SetWSClients(count int) {
	m := getMetrics()
	m.wsClients.Set(float64(count))
}

func RecordWSEvent(event string) {
	m := getMetrics()
	m.wsEventsTotal.WithLabelValues(event).Inc()
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	m := getMetrics()
	m.sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	m := getMetrics()
	m.sessionSaveDuration.Observe(duration.Seconds())
}

func RecordMaintenanceRun(job string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.maintenanceRunTotal.WithLabelValues(job, status).Inc()
	m.maintenanceRunDuration.WithLabelValues(job).Observe(duration.Seconds())
}
