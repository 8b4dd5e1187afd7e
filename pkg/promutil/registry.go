package promutil

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Registry is used for registering metric. We don't use
// prometheus.DefaultRegisterer so tests can run on private registries.
type Registry struct {
	sync.Mutex
	*prometheus.Registry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{Registry: prometheus.NewRegistry()}
}

// NewProcessRegistry creates a Registry that also exports the go runtime
// and process metrics.
func NewProcessRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return r
}

// MustRegister registers the provided Collectors. A nil collector is
// ignored.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.Lock()
	defer r.Unlock()
	for _, c := range cs {
		if c == nil {
			continue
		}
		r.Registry.MustRegister(c)
	}
}

// Gather implements Gatherer interface
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	r.Lock()
	defer r.Unlock()

	return r.Registry.Gather()
}

// HTTPHandler returns the http.Handler serving the metrics of r.
func HTTPHandler(r *Registry) http.Handler {
	return promhttp.HandlerFor(r, promhttp.HandlerOpts{})
}
