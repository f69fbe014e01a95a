// Package telemetry records tool-call performance and serves aggregated
// snapshots of it. Every observation is mirrored into a Prometheus registry.
package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "digitwin"

// DefaultMaxSamples bounds the in-memory sample log.
const DefaultMaxSamples = 10000

var (
	ErrUnknownMetric      = errors.New("unknown metric type")
	ErrUnknownPeriod      = errors.New("unknown time period")
	ErrUnknownAggregation = errors.New("unknown aggregation")
)

// Sample is one observed tool call.
type Sample struct {
	Tool     string
	Duration time.Duration
	Failed   bool
	At       time.Time
}

type rating struct {
	value float64
	at    time.Time
}

// Recorder collects samples. It is safe for concurrent use.
type Recorder struct {
	reg      *prometheus.Registry
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	ratings  prometheus.Histogram
	limited  prometheus.Counter

	mu         sync.RWMutex
	samples    []Sample
	feedback   []rating
	maxSamples int
	now        func() time.Time
}

// NewRecorder creates a recorder with its own Prometheus registry.
func NewRecorder(maxSamples int) *Recorder {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls by tool and outcome",
		}, []string{"tool", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"tool"}),
		ratings: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "user_satisfaction_rating",
			Help:      "Normalized feedback ratings in [0,1]",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		limited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of tool calls rejected by the rate limiter",
		}),
		maxSamples: maxSamples,
		now:        time.Now,
	}
}

// Registry exposes the Prometheus registry for scraping.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Observe records one tool call.
func (r *Recorder) Observe(tool string, d time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	r.calls.WithLabelValues(tool, outcome).Inc()
	r.duration.WithLabelValues(tool).Observe(d.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, Sample{Tool: tool, Duration: d, Failed: failed, At: r.now()})
	if over := len(r.samples) - r.maxSamples; over > 0 {
		r.samples = append(r.samples[:0:0], r.samples[over:]...)
	}
}

// ObserveRating records a normalized feedback rating.
func (r *Recorder) ObserveRating(v float64) {
	r.ratings.Observe(v)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedback = append(r.feedback, rating{value: v, at: r.now()})
	if over := len(r.feedback) - r.maxSamples; over > 0 {
		r.feedback = append(r.feedback[:0:0], r.feedback[over:]...)
	}
}

// RateLimited counts a rejected call.
func (r *Recorder) RateLimited() { r.limited.Inc() }

// RegisterGauge exposes a value computed on every scrape, such as the
// number of live sessions.
func (r *Recorder) RegisterGauge(name, help string, fn func() float64) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
	if err := r.reg.Register(g); err != nil {
		return fmt.Errorf("register gauge %s: %w", name, err)
	}
	return nil
}

func (r *Recorder) window(period Period) ([]Sample, []float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Time{}
	if w := period.Window(); w > 0 {
		cutoff = r.now().Add(-w)
	}
	var samples []Sample
	for _, s := range r.samples {
		if !s.At.Before(cutoff) {
			samples = append(samples, s)
		}
	}
	var ratings []float64
	for _, f := range r.feedback {
		if !f.at.Before(cutoff) {
			ratings = append(ratings, f.value)
		}
	}
	return samples, ratings
}
