// Package metrics exposes Prometheus counters for the task loop.
//
// Every method is safe on a nil *Metrics, so components can be built without
// metrics in tests.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics groups the collectors of one process.
type Metrics struct {
	// ToolDecisions counts gate outcomes.
	// Labels: tool, decision (auto|approved|rejected|denied|skipped|invalid)
	ToolDecisions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// ModelRequests counts model requests.
	// Labels: provider, model, status (ok|error|stream_error)
	ModelRequests *prometheus.CounterVec

	// Tokens counts tokens by type (input|output|cache_write|cache_read).
	Tokens *prometheus.CounterVec

	// CostDollars accumulates the dollar cost of model requests.
	CostDollars prometheus.Counter

	// Mistakes counts model mistakes by kind
	// (missing_param|no_tool_use|repeated_tool_use).
	Mistakes *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ToolDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskloop_tool_decisions_total",
				Help: "Tool invocations by tool and gate decision",
			},
			[]string{"tool", "decision"},
		),
		ToolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskloop_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"tool"},
		),
		ModelRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskloop_model_requests_total",
				Help: "Model requests by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),
		Tokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskloop_tokens_total",
				Help: "Tokens used by type",
			},
			[]string{"type"},
		),
		CostDollars: f.NewCounter(
			prometheus.CounterOpts{
				Name: "taskloop_cost_dollars_total",
				Help: "Accumulated model cost in dollars",
			},
		),
		Mistakes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskloop_mistakes_total",
				Help: "Model mistakes by kind",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) ToolDecision(tool, decision string) {
	if m == nil {
		return
	}
	m.ToolDecisions.WithLabelValues(tool, decision).Inc()
}

func (m *Metrics) ObserveTool(tool string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) ModelRequest(provider, model, status string) {
	if m == nil {
		return
	}
	m.ModelRequests.WithLabelValues(provider, model, status).Inc()
}

// Usage adds one request's token counts and cost.
func (m *Metrics) Usage(in, out, cacheWrites, cacheReads int, dollars float64) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues("input").Add(float64(in))
	m.Tokens.WithLabelValues("output").Add(float64(out))
	m.Tokens.WithLabelValues("cache_write").Add(float64(cacheWrites))
	m.Tokens.WithLabelValues("cache_read").Add(float64(cacheReads))
	if dollars > 0 {
		m.CostDollars.Add(dollars)
	}
}

func (m *Metrics) Mistake(kind string) {
	if m == nil {
		return
	}
	m.Mistakes.WithLabelValues(kind).Inc()
}

// Serve exposes the default registry on addr until ctx ends.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
