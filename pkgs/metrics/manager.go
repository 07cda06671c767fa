package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatelet/gatelet/pkgs/policy/api"
)

// A Manager owns the prometheus metrics and the health/metrics
// server.
type Manager struct {
	reqDurationMetric      *prometheus.HistogramVec
	reqTotalMetric         *prometheus.CounterVec
	errorMetric            *prometheus.CounterVec
	decisionMetric         *prometheus.CounterVec
	pendingApprovalsMetric prometheus.Gauge

	server *http.Server
}

// NewManager returns a new Manager listening on the given address.
func NewManager(listen string) *Manager {

	r := prometheus.DefaultRegisterer

	mc := &Manager{

		reqTotalMetric: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "The total number of requests.",
			},
			[]string{"method", "url", "code"},
		),
		reqDurationMetric: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_requests_duration_seconds",
				Help:    "The average duration of the requests",
				Buckets: []float64{0.001, 0.0025, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "url"},
		),
		errorMetric: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_5xx_total",
				Help: "The total number of 5xx errors.",
			},
			[]string{"method", "url", "code"},
		),
		decisionMetric: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_decisions_total",
				Help: "The total number of policy decisions.",
			},
			[]string{"decision"},
		),
		pendingApprovalsMetric: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "approvals_pending_current",
				Help: "The current number of pending approvals.",
			},
		),
	}

	r.MustRegister(mc.reqTotalMetric)
	r.MustRegister(mc.reqDurationMetric)
	r.MustRegister(mc.errorMetric)
	r.MustRegister(mc.decisionMetric)
	r.MustRegister(mc.pendingApprovalsMetric)

	mc.server = &http.Server{
		Addr:              listen,
		ReadHeaderTimeout: time.Second,
		Handler:           mc,
	}

	return mc
}

// Start runs the metrics server until ctx is done.
func (c *Manager) Start(ctx context.Context) error {

	errCh := make(chan error, 1)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.server.BaseContext = func(net.Listener) context.Context { return sctx }
	c.server.RegisterOnShutdown(func() { cancel() })

	go func() {
		err := c.server.ListenAndServe()
		if err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("unable to start health server", "err", err)
			}
		}
		errCh <- err
	}()

	select {
	case <-sctx.Done():
	case err := <-errCh:
		return err
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	return c.server.Shutdown(stopCtx)
}

// MeasureRequest starts a request timer. The returned function must
// be called with the final status code.
func (c *Manager) MeasureRequest(method string, path string) func(int) time.Duration {

	timer := prometheus.NewTimer(
		prometheus.ObserverFunc(
			func(v float64) {
				c.reqDurationMetric.With(
					prometheus.Labels{
						"method": method,
						"url":    path,
					},
				).Observe(v)
			},
		),
	)

	return func(code int) time.Duration {

		c.reqTotalMetric.With(prometheus.Labels{
			"method": method,
			"url":    path,
			"code":   strconv.Itoa(code),
		}).Inc()

		if code >= http.StatusInternalServerError {

			c.errorMetric.With(prometheus.Labels{
				"method": method,
				"url":    path,
				"code":   strconv.Itoa(code),
			}).Inc()
		}

		return timer.ObserveDuration()
	}
}

// RegisterDecision counts one policy decision.
func (c *Manager) RegisterDecision(decision api.Decision) {
	c.decisionMetric.With(prometheus.Labels{"decision": string(decision)}).Inc()
}

// SetPendingApprovals reports the current size of the pending set.
func (c *Manager) SetPendingApprovals(n int) {
	c.pendingApprovalsMetric.Set(float64(n))
}

func (c *Manager) ServeHTTP(w http.ResponseWriter, req *http.Request) {

	switch req.URL.Path {

	case "/", "/healthz":
		w.WriteHeader(http.StatusNoContent)

	case "/metrics":
		promhttp.Handler().ServeHTTP(w, req)

	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}
