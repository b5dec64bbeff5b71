// Package metrics wires Prometheus collectors for the terminal
// driver, the kernel and the file server: one registry, a
// counter/gauge per operation class.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups the collectors every core registers into. A nil
// *Registry is valid and every method becomes a no-op, so library
// callers that don't want a metrics endpoint can skip wiring one up.
type Registry struct {
	reg *prometheus.Registry

	TTYBytesIn    *prometheus.CounterVec
	TTYBytesOut   *prometheus.CounterVec
	KernelSwitches prometheus.Counter
	KernelReadyLen prometheus.Gauge
	FSCacheHits   *prometheus.CounterVec
	FSCacheMisses *prometheus.CounterVec
	FSRequests    *prometheus.CounterVec
}

// New creates a Registry and registers all collectors against it.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		TTYBytesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yalnix_tty_bytes_in_total",
			Help: "Bytes accepted by ReceiveInterrupt, per terminal.",
		}, []string{"terminal", "direction"}),
		TTYBytesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yalnix_tty_bytes_out_total",
			Help: "Bytes drained by TransmitInterrupt, per terminal.",
		}, []string{"terminal", "direction"}),
		KernelSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yalnix_kernel_context_switches_total",
			Help: "Number of ContextSwitch invocations of any variant.",
		}),
		KernelReadyLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yalnix_kernel_ready_queue_length",
			Help: "Current length of the scheduler's ready queue.",
		}),
		FSCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yalnix_fs_cache_hits_total",
			Help: "Cache hits, by cache name (inode, block).",
		}, []string{"cache"}),
		FSCacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yalnix_fs_cache_misses_total",
			Help: "Cache misses, by cache name (inode, block).",
		}, []string{"cache"}),
		FSRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yalnix_fs_requests_total",
			Help: "Dispatched file server requests, by type and status.",
		}, []string{"type", "status"}),
	}
	reg.MustRegister(
		r.TTYBytesIn, r.TTYBytesOut,
		r.KernelSwitches, r.KernelReadyLen,
		r.FSCacheHits, r.FSCacheMisses, r.FSRequests,
	)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP
// handler (promhttp.HandlerFor) in cmd/yalnixd.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// AddTTYBytesIn/AddTTYBytesOut/AddContextSwitch/SetReadyLen/AddCacheHit/
// AddCacheMiss/AddRequest are nil-receiver-safe wrappers so tty, kernel
// and fsserver can hold a possibly-nil *Registry without branching on
// every call site.

func (r *Registry) AddTTYBytesIn(terminal string, direction string, n float64) {
	if r == nil {
		return
	}
	r.TTYBytesIn.WithLabelValues(terminal, direction).Add(n)
}

func (r *Registry) AddTTYBytesOut(terminal string, direction string, n float64) {
	if r == nil {
		return
	}
	r.TTYBytesOut.WithLabelValues(terminal, direction).Add(n)
}

func (r *Registry) AddContextSwitch() {
	if r == nil {
		return
	}
	r.KernelSwitches.Inc()
}

func (r *Registry) SetReadyLen(n int) {
	if r == nil {
		return
	}
	r.KernelReadyLen.Set(float64(n))
}

func (r *Registry) AddCacheHit(cache string) {
	if r == nil {
		return
	}
	r.FSCacheHits.WithLabelValues(cache).Inc()
}

func (r *Registry) AddCacheMiss(cache string) {
	if r == nil {
		return
	}
	r.FSCacheMisses.WithLabelValues(cache).Inc()
}

func (r *Registry) AddRequest(reqType, status string) {
	if r == nil {
		return
	}
	r.FSRequests.WithLabelValues(reqType, status).Inc()
}
