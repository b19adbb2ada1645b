// Package metrics instruments the poll pipeline with Prometheus counters and
// optionally serves them on /metrics.
//
// All Recorder methods are safe on a nil *Recorder, so components can be
// constructed without instrumentation in tests.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "upsstats"

// Cycle outcomes, used as the "outcome" label of upsstats_cycles_total.
const (
	OutcomeDelivered   = "delivered"
	OutcomeFetchFailed = "fetch_failed"
	OutcomeParseFailed = "parse_failed"
)

// Recorder owns a private registry and the pipeline's collectors.
type Recorder struct {
	reg           *prometheus.Registry
	cycles        *prometheus.CounterVec
	sinkErrors    *prometheus.CounterVec
	dbCreates     prometheus.Counter
	lastSuccess   prometheus.Gauge
	fetchDuration prometheus.Histogram
}

// New returns a Recorder with all collectors registered on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll cycles by outcome.",
		}, []string{"outcome"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Storage failures by kind.",
		}, []string{"kind"}),
		dbCreates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_creates_total",
			Help:      "Successful CREATE DATABASE calls after a missing-database write.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that delivered a measurement.",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching raw status from the UPS.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
	r.reg.MustRegister(r.cycles, r.sinkErrors, r.dbCreates, r.lastSuccess, r.fetchDuration)

	// Pre-create outcome series so they are exported as 0 from the start.
	for _, o := range []string{OutcomeDelivered, OutcomeFetchFailed, OutcomeParseFailed} {
		r.cycles.WithLabelValues(o)
	}
	return r
}

// Cycle counts one finished poll cycle. A delivered cycle also updates the
// last-success gauge to at.
func (r *Recorder) Cycle(outcome string, at time.Time) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(outcome).Inc()
	if outcome == OutcomeDelivered {
		r.lastSuccess.Set(float64(at.Unix()))
	}
}

// ObserveFetch records how long a fetch took, successful or not.
func (r *Recorder) ObserveFetch(d time.Duration) {
	if r == nil {
		return
	}
	r.fetchDuration.Observe(d.Seconds())
}

// SinkError counts one storage failure of the given kind.
func (r *Recorder) SinkError(kind string) {
	if r == nil {
		return
	}
	r.sinkErrors.WithLabelValues(kind).Inc()
}

// DatabaseCreated counts one successful database provisioning.
func (r *Recorder) DatabaseCreated() {
	if r == nil {
		return
	}
	r.dbCreates.Inc()
}

// Handler exposes the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Summary gathers the registry and returns one total per metric family,
// summed across label sets. Histograms contribute their sample count.
func (r *Recorder) Summary() (map[string]float64, error) {
	if r == nil {
		return map[string]float64{}, nil
	}
	mfs, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}
	out := make(map[string]float64, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = sumFamily(mf)
	}
	return out, nil
}

// sumFamily adds up all counter, gauge, untyped or histogram-count values in
// a MetricFamily.
func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		case m.Histogram != nil:
			total += float64(m.Histogram.GetSampleCount())
		}
	}
	return total
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, r *Recorder) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
