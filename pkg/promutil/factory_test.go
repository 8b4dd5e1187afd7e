package promutil

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestWrapNamespace(t *testing.T) {
	t.Parallel()

	cases := []struct {
		prefix    string
		namespace string
		expected  string
	}{
		{"", "", ""},
		{"", "ns", "ns"},
		{"batcher", "", "batcher"},
		{"batcher", "ns", "batcher_ns"},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, wrapNamespace(c.prefix, c.namespace))
	}
}

func TestWrapLabels(t *testing.T) {
	t.Parallel()

	labels := prometheus.Labels{"k0": "v0"}
	require.Equal(t, labels, wrapLabels(nil, labels))

	wrapped := wrapLabels(prometheus.Labels{"k1": "v1"}, labels)
	require.Equal(t, prometheus.Labels{"k0": "v0", "k1": "v1"}, wrapped)
	// the caller's map is left alone
	require.Len(t, labels, 1)

	require.Equal(t, prometheus.Labels{"k1": "v1"}, wrapLabels(prometheus.Labels{"k1": "v1"}, nil))
}

func TestWrapLabelsDuplicate(t *testing.T) {
	t.Parallel()

	require.PanicsWithValue(t, "duplicate label name", func() {
		wrapLabels(prometheus.Labels{"k0": "v0"}, prometheus.Labels{"k0": "v1"})
	})
}

func TestFactoryRegisters(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	f := NewFactory(r, "batcher", prometheus.Labels{"agent": "a1"})
	counter := f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driver",
		Name:      "cycles_total",
		Help:      "cycles",
	}, []string{"outcome"})
	counter.WithLabelValues("placed").Add(2)
	gauge := f.NewGauge(prometheus.GaugeOpts{Name: "paused", Help: "paused"})
	gauge.Set(1)

	require.Equal(t, 1, testutil.CollectAndCount(counter))
	require.Equal(t, float64(2), testutil.ToFloat64(counter.WithLabelValues("placed")))

	mfs, err := r.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
		for _, m := range mf.GetMetric() {
			require.Equal(t, "agent", m.GetLabel()[0].GetName())
		}
	}
	require.ElementsMatch(t, []string{"batcher_driver_cycles_total", "batcher_paused"}, names)

	// same name again
	require.Panics(t, func() {
		f.NewGauge(prometheus.GaugeOpts{Name: "paused", Help: "paused"})
	})
}

func TestHTTPHandler(t *testing.T) {
	t.Parallel()

	r := NewProcessRegistry()
	f := NewFactory(r, "batcher", nil)
	f.NewHistogram(prometheus.HistogramOpts{Name: "cycle_seconds", Help: "cycle"}).Observe(0.5)

	srv := httptest.NewServer(HTTPHandler(r))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "batcher_cycle_seconds_count 1")
	require.Contains(t, string(body), "go_goroutines")
}
