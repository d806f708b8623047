// Package metrics exposes Prometheus collectors for PoET elections.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "poet"

// Rejection reasons used as label values.
const (
	ReasonUnknownProposer = "unknown_proposer"
	ReasonBadSignature    = "bad_signature"
	ReasonStaleChain      = "stale_chain"
	ReasonDigestMismatch  = "digest_mismatch"
	ReasonPremature       = "premature"
	ReasonDuplicate       = "duplicate"
	ReasonMalformed       = "malformed"
	ReasonLocalMean       = "local_mean"
	ReasonStorage         = "storage"
)

// Collector holds the election metrics.
type Collector struct {
	timersCreated        prometheus.Counter
	waitDuration         prometheus.Histogram
	certificatesProduced prometheus.Counter
	certificatesAccepted prometheus.Counter
	certificatesRejected *prometheus.CounterVec
	roundsAbandoned      prometheus.Counter
}

// New creates a Collector registered with reg. A nil reg leaves the
// collectors unregistered.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		timersCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wait_timers_created_total",
			Help:      "counter for wait timers created",
		}),
		waitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_duration_seconds",
			Help:      "sampled wait timer durations",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		certificatesProduced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_produced_total",
			Help:      "counter for locally produced and signed wait certificates",
		}),
		certificatesAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_accepted_total",
			Help:      "counter for certificates accepted as the next chain tip",
		}),
		certificatesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_rejected_total",
			Help:      "counter for rejected certificates with reason",
		}, []string{"reason"}),
		roundsAbandoned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_abandoned_total",
			Help:      "counter for election rounds abandoned because the tip moved",
		}),
	}
}

// TimerCreated records a new wait timer and its sampled duration.
func (c *Collector) TimerCreated(duration float64) {
	if c == nil {
		return
	}
	c.timersCreated.Inc()
	c.waitDuration.Observe(duration)
}

func (c *Collector) CertificateProduced() {
	if c == nil {
		return
	}
	c.certificatesProduced.Inc()
}

func (c *Collector) CertificateAccepted() {
	if c == nil {
		return
	}
	c.certificatesAccepted.Inc()
}

// CertificateRejected tracks a rejected certificate with reason.
func (c *Collector) CertificateRejected(reason string) {
	if c == nil {
		return
	}
	c.certificatesRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) RoundAbandoned() {
	if c == nil {
		return
	}
	c.roundsAbandoned.Inc()
}

// Serve exposes gatherer on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
}
