// Package metrics provides Prometheus instrumentation for the hedger.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts engine decisions, partitioned by action.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedger_decisions_total",
		Help: "Decision engine outputs by action",
	}, []string{"action"})

	// TradesTotal counts executed trades by action.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedger_trades_total",
		Help: "Executed trades by action",
	}, []string{"action"})

	// TradeNotional accumulates USDC spent per leg.
	TradeNotional = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedger_trade_notional_usdc_total",
		Help: "Cumulative USDC spent per leg",
	}, []string{"leg"})

	ExecutionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedger_execution_errors_total",
		Help: "Trade executor failures (decision degraded to HOLD)",
	})

	ExecutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedger_execution_latency_seconds",
		Help:    "Trade executor latency in seconds",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// QuotesTotal counts quotes written into the store, by source.
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedger_quotes_total",
		Help: "Quotes received from the feed",
	}, []string{"source"})

	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedger_feed_reconnects_total",
		Help: "Feed reconnect attempts after transport errors",
	}, []string{"source"})

	DataGaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedger_data_gaps_total",
		Help: "Ticks skipped because no complete snapshot was available",
	})

	DuplicateSnapshots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedger_duplicate_snapshots_total",
		Help: "Ticks skipped because mids did not change",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedger_sessions_total",
		Help: "Sessions started",
	})

	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedger_audit_dropped_total",
		Help: "Audit records dropped because the async buffer was full",
	})

	PairCost = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedger_pair_cost",
		Help: "Current avg(YES) + avg(NO)",
	})

	GuaranteedProfit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedger_guaranteed_profit_usdc",
		Help: "Current min(qty) - total cost",
	})

	Capital = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedger_capital_usdc",
		Help: "Capital left in the active session",
	})

	Locked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedger_locked",
		Help: "1 when the active session is locked",
	})

	// MergesTotal counts on-chain pair merges by outcome (confirmed|unconfirmed|failed).
	MergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedger_merges_total",
		Help: "On-chain YES+NO merges after a locked session",
	}, []string{"status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedger_http_requests_total",
		Help: "Status server HTTP requests",
	}, []string{"method", "path", "status"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts for the status server.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
	})
}

// ObserveSince records the elapsed time since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
