package promutil

import "github.com/prometheus/client_golang/prometheus"

// Factory produces metrics that are registered with its Registry on
// creation. Similar to promauto, but bound to a Registry owned by the
// process instead of the prometheus default one.
type Factory interface {
	// NewCounterVec works like the function of the same name in the
	// prometheus package, but it automatically registers the CounterVec
	// with the Factory's Registry. Panic if it can't register successfully.
	NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec

	// NewGauge works like the function of the same name in the prometheus
	// package, but it automatically registers the Gauge with the Factory's
	// Registry. Panic if it can't register successfully.
	NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge

	// NewGaugeVec works like the function of the same name in the prometheus
	// package but it automatically registers the GaugeVec with the Factory's
	// Registry. Panic if it can't register successfully.
	NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec

	// NewHistogram works like the function of the same name in the prometheus
	// package but it automatically registers the Histogram with the Factory's
	// Registry. Panic if it can't register successfully.
	NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram
}

type wrappingFactory struct {
	r *Registry
	// prefix is prepended to the namespace of every metric,
	// e.g. $prefix_$namespace_$subsystem_$name
	prefix string
	// constLabels is added to every metric the factory creates
	constLabels prometheus.Labels
}

// NewFactory returns a Factory registering with r.
func NewFactory(r *Registry, prefix string, constLabels prometheus.Labels) Factory {
	return &wrappingFactory{r: r, prefix: prefix, constLabels: constLabels}
}

// NewCounterVec implements Factory. Thread-safe.
func (f *wrappingFactory) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace, opts.ConstLabels = f.wrap(opts.Namespace, opts.ConstLabels)
	c := prometheus.NewCounterVec(opts, labelNames)
	f.r.MustRegister(c)
	return c
}

// NewGauge implements Factory. Thread-safe.
func (f *wrappingFactory) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace, opts.ConstLabels = f.wrap(opts.Namespace, opts.ConstLabels)
	c := prometheus.NewGauge(opts)
	f.r.MustRegister(c)
	return c
}

// NewGaugeVec implements Factory. Thread-safe.
func (f *wrappingFactory) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	opts.Namespace, opts.ConstLabels = f.wrap(opts.Namespace, opts.ConstLabels)
	c := prometheus.NewGaugeVec(opts, labelNames)
	f.r.MustRegister(c)
	return c
}

// NewHistogram implements Factory. Thread-safe.
func (f *wrappingFactory) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace, opts.ConstLabels = f.wrap(opts.Namespace, opts.ConstLabels)
	c := prometheus.NewHistogram(opts)
	f.r.MustRegister(c)
	return c
}

func (f *wrappingFactory) wrap(namespace string, labels prometheus.Labels) (string, prometheus.Labels) {
	return wrapNamespace(f.prefix, namespace), wrapLabels(f.constLabels, labels)
}

func wrapNamespace(prefix, namespace string) string {
	switch {
	case prefix == "":
		return namespace
	case namespace == "":
		return prefix
	default:
		return prefix + "_" + namespace
	}
}

func wrapLabels(constLabels, labels prometheus.Labels) prometheus.Labels {
	if len(constLabels) == 0 {
		return labels
	}
	ret := make(prometheus.Labels, len(labels)+len(constLabels))
	for name, value := range labels {
		ret[name] = value
	}
	for name, value := range constLabels {
		if _, exists := ret[name]; exists {
			panic("duplicate label name")
		}
		ret[name] = value
	}
	return ret
}
