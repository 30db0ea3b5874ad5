package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once
	metricsErr  error

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	loginsTotal         *prometheus.CounterVec
)

// RegisterMetrics initializes the collectors and returns the /metrics
// handler. Safe to call more than once.
func RegisterMetrics(registry prometheus.Registerer) (http.Handler, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	metricsOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		loginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by provider and result",
		}, []string{"provider", "result"}) // result: success|failure

		for _, c := range []prometheus.Collector{httpRequestsTotal, httpRequestDuration, loginsTotal} {
			if err := registerCollector(registry, c); err != nil {
				metricsErr = err
				return
			}
		}
	})
	if metricsErr != nil {
		return nil, metricsErr
	}
	return promhttp.Handler(), nil
}

// WithMetrics instruments requests with counters and latency histograms.
func WithMetrics(next http.Handler) http.Handler {
	if httpRequestsTotal == nil || httpRequestDuration == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.ToUpper(r.Method)
		pathLabel := normalizePath(r.URL.Path)
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		httpRequestDuration.WithLabelValues(method, pathLabel).Observe(time.Since(start).Seconds())
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(method, pathLabel, strconv.Itoa(status)).Inc()
	})
}

// RecordLogin counts one login outcome.
func RecordLogin(provider, result string) {
	if loginsTotal != nil {
		loginsTotal.WithLabelValues(provider, result).Inc()
	}
}

func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// normalizePath bounds label cardinality: the provider segment is the
// only dynamic part of our routes.
func normalizePath(p string) string {
	if strings.HasPrefix(p, "/auth/") {
		rest := strings.TrimPrefix(p, "/auth/")
		if i := strings.IndexByte(rest, '/'); i > 0 {
			// The local strategy's routes are static, not a provider slot.
			if rest[:i] == "email" {
				return p
			}
			switch rest[i+1:] {
			case "login", "callback", "register":
				return "/auth/:provider/" + rest[i+1:]
			}
		}
	}
	return p
}
