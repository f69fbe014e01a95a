package telemetry

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// MetricType selects what a snapshot reports.
type MetricType string

const (
	MetricGeneral          MetricType = "general"
	MetricResponseTime     MetricType = "response_time"
	MetricToolUsage        MetricType = "tool_usage"
	MetricErrorRates       MetricType = "error_rates"
	MetricUserSatisfaction MetricType = "user_satisfaction"
	MetricMemoryUsage      MetricType = "memory_usage"
)

// Period bounds the samples a snapshot considers.
type Period string

const (
	PeriodCurrent   Period = "current"
	PeriodLastHour  Period = "last_hour"
	PeriodLastDay   Period = "last_day"
	PeriodLastWeek  Period = "last_week"
	PeriodLastMonth Period = "last_month"
)

// Window returns the period length; zero means every retained sample.
func (p Period) Window() time.Duration {
	switch p {
	case PeriodLastHour:
		return time.Hour
	case PeriodLastDay:
		return 24 * time.Hour
	case PeriodLastWeek:
		return 7 * 24 * time.Hour
	case PeriodLastMonth:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Aggregation selects how values are reduced.
type Aggregation string

const (
	AggSummary      Aggregation = "summary"
	AggAverage      Aggregation = "average"
	AggMedian       Aggregation = "median"
	AggPercentiles  Aggregation = "percentiles"
	AggDistribution Aggregation = "distribution"
)

// Snapshot is the payload returned by performance analytics.
type Snapshot struct {
	MetricType  MetricType     `json:"metric_type"`
	TimePeriod  Period         `json:"time_period"`
	Aggregation Aggregation    `json:"aggregation"`
	SampleSize  int            `json:"sample_size"`
	Metrics     map[string]any `json:"metrics"`
}

// Parse normalizes snapshot selectors. Empty values take the defaults
// general, current and summary.
func Parse(metricType, period, aggregation string) (MetricType, Period, Aggregation, error) {
	mt := MetricType(metricType)
	switch mt {
	case "":
		mt = MetricGeneral
	case MetricGeneral, MetricResponseTime, MetricToolUsage, MetricErrorRates, MetricUserSatisfaction, MetricMemoryUsage:
	default:
		return "", "", "", fmt.Errorf("%w: %s", ErrUnknownMetric, metricType)
	}
	p := Period(period)
	switch p {
	case "":
		p = PeriodCurrent
	case PeriodCurrent, PeriodLastHour, PeriodLastDay, PeriodLastWeek, PeriodLastMonth:
	default:
		return "", "", "", fmt.Errorf("%w: %s", ErrUnknownPeriod, period)
	}
	agg := Aggregation(aggregation)
	switch agg {
	case "":
		agg = AggSummary
	case AggSummary, AggAverage, AggMedian, AggPercentiles, AggDistribution:
	default:
		return "", "", "", fmt.Errorf("%w: %s", ErrUnknownAggregation, aggregation)
	}
	return mt, p, agg, nil
}

// Snapshot aggregates the samples inside the period.
func (r *Recorder) Snapshot(metricType, period, aggregation string) (Snapshot, error) {
	mt, p, agg, err := Parse(metricType, period, aggregation)
	if err != nil {
		return Snapshot{}, err
	}
	samples, ratings := r.window(p)
	snap := Snapshot{MetricType: mt, TimePeriod: p, Aggregation: agg, SampleSize: len(samples)}

	switch mt {
	case MetricGeneral:
		snap.Metrics = general(samples)
	case MetricResponseTime:
		snap.Metrics = responseTimes(samples, agg)
	case MetricToolUsage:
		snap.Metrics = toolUsage(samples, agg)
		snap.Metrics["lifetime_calls"] = r.lifetimeCalls()
	case MetricErrorRates:
		snap.Metrics = errorRates(samples)
	case MetricUserSatisfaction:
		snap.SampleSize = len(ratings)
		snap.Metrics = aggregate(ratings, agg)
	case MetricMemoryUsage:
		snap.Metrics = r.gauges()
	}
	return snap, nil
}

func general(samples []Sample) map[string]any {
	failed := 0
	durations := make([]float64, len(samples))
	usage := make(map[string]int)
	for i, s := range samples {
		durations[i] = millis(s.Duration)
		usage[s.Tool]++
		if s.Failed {
			failed++
		}
	}
	out := map[string]any{
		"total_calls":          len(samples),
		"response_time_avg_ms": round2(mean(durations)),
		"success_rate":         0.0,
		"error_rate":           0.0,
		"tool_usage":           usage,
	}
	if len(samples) > 0 {
		out["error_rate"] = percent(failed, len(samples))
		out["success_rate"] = percent(len(samples)-failed, len(samples))
	}
	return out
}

func responseTimes(samples []Sample, agg Aggregation) map[string]any {
	all := make([]float64, 0, len(samples))
	byTool := make(map[string][]float64)
	for _, s := range samples {
		ms := millis(s.Duration)
		all = append(all, ms)
		byTool[s.Tool] = append(byTool[s.Tool], ms)
	}
	out := aggregate(all, agg)
	out["unit"] = "ms"
	tools := make(map[string]any, len(byTool))
	for tool, values := range byTool {
		tools[tool] = aggregate(values, agg)
	}
	out["by_tool"] = tools
	return out
}

func toolUsage(samples []Sample, agg Aggregation) map[string]any {
	counts := make(map[string]int)
	for _, s := range samples {
		counts[s.Tool]++
	}
	out := map[string]any{"calls": counts}
	if agg == AggDistribution && len(samples) > 0 {
		share := make(map[string]float64, len(counts))
		for tool, n := range counts {
			share[tool] = percent(n, len(samples))
		}
		out["share_percent"] = share
	}
	return out
}

func errorRates(samples []Sample) map[string]any {
	type tally struct{ total, failed int }
	byTool := make(map[string]*tally)
	failed := 0
	for _, s := range samples {
		t := byTool[s.Tool]
		if t == nil {
			t = &tally{}
			byTool[s.Tool] = t
		}
		t.total++
		if s.Failed {
			t.failed++
			failed++
		}
	}
	rates := make(map[string]float64, len(byTool))
	for tool, t := range byTool {
		rates[tool] = percent(t.failed, t.total)
	}
	overall := 0.0
	if len(samples) > 0 {
		overall = percent(failed, len(samples))
	}
	return map[string]any{
		"error_rate":   overall,
		"failed_calls": failed,
		"by_tool":      rates,
	}
}

// lifetimeCalls reads the call counter back out of the registry.
func (r *Recorder) lifetimeCalls() map[string]float64 {
	out := make(map[string]float64)
	for _, mf := range r.gather(namespace + "_tool_calls_total") {
		for _, m := range mf.GetMetric() {
			out[label(m, "tool")] += m.GetCounter().GetValue()
		}
	}
	return out
}

func (r *Recorder) gauges() map[string]any {
	out := make(map[string]any)
	for _, mf := range r.gather("") {
		if mf.GetType() != dto.MetricType_GAUGE {
			continue
		}
		name := mf.GetName()
		switch {
		case strings.HasPrefix(name, namespace+"_"):
			name = strings.TrimPrefix(name, namespace+"_")
		case name == "go_goroutines", name == "go_memstats_heap_alloc_bytes", name == "go_memstats_sys_bytes":
		default:
			continue
		}
		if ms := mf.GetMetric(); len(ms) == 1 {
			out[name] = ms[0].GetGauge().GetValue()
		}
	}
	return out
}

func (r *Recorder) gather(name string) []*dto.MetricFamily {
	families, err := r.reg.Gather()
	if err != nil {
		return nil
	}
	if name == "" {
		return families
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return []*dto.MetricFamily{mf}
		}
	}
	return nil
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func aggregate(values []float64, agg Aggregation) map[string]any {
	out := map[string]any{"count": len(values)}
	if len(values) == 0 {
		return out
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	switch agg {
	case AggAverage:
		out["average"] = round2(mean(sorted))
	case AggMedian:
		out["median"] = round2(quantile(sorted, 0.5))
	case AggPercentiles:
		out["p50"] = round2(quantile(sorted, 0.5))
		out["p90"] = round2(quantile(sorted, 0.9))
		out["p95"] = round2(quantile(sorted, 0.95))
		out["p99"] = round2(quantile(sorted, 0.99))
	case AggDistribution:
		out["histogram"] = histogram(sorted)
	default:
		out["min"] = round2(sorted[0])
		out["max"] = round2(sorted[len(sorted)-1])
		out["average"] = round2(mean(sorted))
		out["median"] = round2(quantile(sorted, 0.5))
	}
	return out
}

// histogram splits sorted values into five equal-width bins.
func histogram(sorted []float64) []map[string]any {
	const bins = 5
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi == lo {
		return []map[string]any{{"from": round2(lo), "to": round2(hi), "count": len(sorted)}}
	}
	width := (hi - lo) / bins
	counts := make([]int, bins)
	for _, v := range sorted {
		i := int((v - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}
	out := make([]map[string]any, bins)
	for i := range counts {
		out[i] = map[string]any{
			"from":  round2(lo + float64(i)*width),
			"to":    round2(lo + float64(i+1)*width),
			"count": counts[i],
		}
	}
	return out
}

// quantile uses linear interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func percent(n, total int) float64 {
	return round2(float64(n) / float64(total) * 100)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
