package metrics

import (
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/prometheus"
)

var (
	once     sync.Once
	registry metrics.Registry
)

func initMetrics() {
	once.Do(func() {
		metrics.Enabled = true
		registry = metrics.NewRegistry()
		metrics.DefaultRegistry = registry
	})
}

type Counter struct {
	metrics.Counter
}

// GetOrRegisterCounter returns the counter registered under name.
func GetOrRegisterCounter(name string) *Counter {
	initMetrics()
	return &Counter{metrics.GetOrRegisterCounter(name, registry)}
}

type Gauge struct {
	metrics.Gauge
}

// GetOrRegisterGauge returns the gauge registered under name.
func GetOrRegisterGauge(name string) *Gauge {
	initMetrics()
	return &Gauge{metrics.GetOrRegisterGauge(name, registry)}
}

// PrometheusHandler exposes all registered metrics in prometheus format.
func PrometheusHandler() http.Handler {
	initMetrics()
	return prometheus.Handler(registry)
}
