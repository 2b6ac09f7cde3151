package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the importer does.
type Metrics interface {
	IncImportsAccepted()
	IncImportsRejected(reason string)
	IncImportsCompleted(status string)
	IncAssetsFetched(result string)
	ObserveImportDuration(status string, seconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncImportsAccepted()                   {}
func (Noop) IncImportsRejected(string)             {}
func (Noop) IncImportsCompleted(string)            {}
func (Noop) IncAssetsFetched(string)               {}
func (Noop) ObserveImportDuration(string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	importsAccepted  prometheus.Counter
	importsRejected  *prometheus.CounterVec
	importsCompleted *prometheus.CounterVec
	assetsFetched    *prometheus.CounterVec
	importDuration   *prometheus.HistogramVec
	once             sync.Once
}

func NewProm(namespace string, registerer prometheus.Registerer) *Prom {
	p := &Prom{
		importsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_accepted_total",
			Help:      "Pack imports accepted for background processing",
		}),
		importsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_rejected_total",
			Help:      "Pack imports rejected before any side effect, by reason",
		}, []string{"reason"}),
		importsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_completed_total",
			Help:      "Pack imports finished, by status",
		}, []string{"status"}),
		assetsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_fetched_total",
			Help:      "Sticker asset downloads, by result",
		}, []string{"result"}),
		importDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Time from acceptance to completion of a pack import",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
	}
	p.register(registerer)
	return p
}

func (p *Prom) register(registerer prometheus.Registerer) {
	p.once.Do(func() {
		registerer.MustRegister(p.importsAccepted, p.importsRejected, p.importsCompleted, p.assetsFetched, p.importDuration)
	})
}

func (p *Prom) IncImportsAccepted() {
	p.importsAccepted.Inc()
}

func (p *Prom) IncImportsRejected(reason string) {
	p.importsRejected.WithLabelValues(reason).Inc()
}

func (p *Prom) IncImportsCompleted(status string) {
	p.importsCompleted.WithLabelValues(status).Inc()
}

func (p *Prom) IncAssetsFetched(result string) {
	p.assetsFetched.WithLabelValues(result).Inc()
}

func (p *Prom) ObserveImportDuration(status string, seconds float64) {
	p.importDuration.WithLabelValues(status).Observe(seconds)
}
