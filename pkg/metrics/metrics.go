// Package metrics provides Prometheus instrumentation for streamkit components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for streamkit components.
type Registry struct {
	// Engine metrics
	ChunksEnqueued  *prometheus.CounterVec
	ChunksDelivered *prometheus.CounterVec
	BytesQueued     *prometheus.CounterVec
	StreamsOpened   *prometheus.CounterVec
	StreamsFinished *prometheus.CounterVec

	// Backpressure metrics
	BackpressureEvents *prometheus.CounterVec
	DesiredSizeFloor   *prometheus.CounterVec

	// Pipe and tee metrics
	PipesStarted  prometheus.Counter
	PipeOutcomes  *prometheus.CounterVec
	PipeDuration  prometheus.Histogram
	TeeBranches   prometheus.Counter
	TeeChunkReads prometheus.Counter

	// Resource metrics
	ResourceHandles    *prometheus.CounterVec
	ResourceExtracts   *prometheus.CounterVec
	ResourceFinalizers *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by streamkit components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		ChunksEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "stream",
				Name:      "chunks_enqueued_total",
				Help:      "Total number of chunks enqueued into stream controllers",
			},
			[]string{"stream_type"},
		),

		ChunksDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "stream",
				Name:      "chunks_delivered_total",
				Help:      "Total number of chunks handed to readers or sinks",
			},
			[]string{"stream_type"},
		),

		BytesQueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "stream",
				Name:      "bytes_queued_total",
				Help:      "Total bytes enqueued into byte stream controllers",
			},
			[]string{"stream_type"},
		),

		StreamsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "stream",
				Name:      "opened_total",
				Help:      "Total number of streams constructed",
			},
			[]string{"stream_type"},
		),

		StreamsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "stream",
				Name:      "finished_total",
				Help:      "Total number of streams reaching a terminal state",
			},
			[]string{"stream_type", "outcome"},
		),

		BackpressureEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "backpressure",
				Name:      "events_total",
				Help:      "Total number of backpressure toggles",
			},
			[]string{"stream_type", "direction"},
		),

		DesiredSizeFloor: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "backpressure",
				Name:      "desired_size_floor_total",
				Help:      "Times a stream's desired size reached zero or below",
			},
			[]string{"stream_type"},
		),

		PipesStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "pipe",
				Name:      "started_total",
				Help:      "Total number of pipe operations started",
			},
		),

		PipeOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "pipe",
				Name:      "outcomes_total",
				Help:      "Pipe completions by outcome",
			},
			[]string{"outcome"},
		),

		PipeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "streamkit",
				Subsystem: "pipe",
				Name:      "duration_seconds",
				Help:      "Wall time from pipe start to settlement",
				Buckets:   prometheus.DefBuckets,
			},
		),

		TeeBranches: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "tee",
				Name:      "branches_total",
				Help:      "Total number of tee branches created",
			},
		),

		TeeChunkReads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "tee",
				Name:      "upstream_reads_total",
				Help:      "Total number of shared upstream reads performed by tees",
			},
		),

		ResourceHandles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "resource",
				Name:      "handles_total",
				Help:      "Total number of resource-backed streams constructed",
			},
			[]string{"kind"},
		),

		ResourceExtracts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "resource",
				Name:      "extracts_total",
				Help:      "Underlying resources taken back out of pristine streams",
			},
			[]string{"kind"},
		),

		ResourceFinalizers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "resource",
				Name:      "finalizer_closes_total",
				Help:      "Handles closed by the garbage-collection safety net",
			},
			[]string{"kind"},
		),
	}
}
