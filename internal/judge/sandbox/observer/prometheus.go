package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "codejudge"

// 10ms -> 60s
var timeBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.6, 0.8, 1, 1.5, 2, 3, 5, 10, 30, 60,
}

// PrometheusRecorder exports compile and run timings as histograms.
type PrometheusRecorder struct {
	compileTime *prometheus.HistogramVec
	runTime     *prometheus.HistogramVec
	runTotal    *prometheus.CounterVec
}

// NewPrometheusRecorder registers the judge collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		compileTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "compile",
			Name:      "time_seconds",
			Help:      "Histogram for the compile time",
			Buckets:   timeBuckets,
		}, []string{"language", "ok"}),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "run",
			Name:      "time_seconds",
			Help:      "Histogram for the test running time",
			Buckets:   timeBuckets,
		}, []string{"language", "code"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Number of judged tests by result code",
		}, []string{"language", "code"}),
	}
	for _, c := range []prometheus.Collector{r.compileTime, r.runTime, r.runTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64) {
	r.compileTime.WithLabelValues(languageID, strconv.FormatBool(ok)).Observe(float64(timeMs) / 1000)
}

func (r *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, code string, timeMs int64) {
	r.runTime.WithLabelValues(languageID, code).Observe(float64(timeMs) / 1000)
	r.runTotal.WithLabelValues(languageID, code).Inc()
}
