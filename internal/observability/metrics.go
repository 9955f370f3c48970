package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/protoring/internal/protocol/ring"
)

var (
	registerOnce sync.Once

	ringAppendedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoring",
			Subsystem: "ring",
			Name:      "appended_bytes_total",
			Help:      "Bytes appended to tokenizer buffers.",
		},
		[]string{"source"},
	)
	ringMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoring",
			Subsystem: "ring",
			Name:      "messages_total",
			Help:      "Frames extracted from tokenizer buffers.",
		},
		[]string{"source"},
	)
	ringPayloadSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "protoring",
			Subsystem: "ring",
			Name:      "payload_size_bytes",
			Help:      "Payload size of extracted frames.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		},
		[]string{"source"},
	)
	ringCompactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoring",
			Subsystem: "ring",
			Name:      "compactions_total",
			Help:      "Times live bytes were shifted over the consumed prefix.",
		},
		[]string{"source"},
	)
	ringGrowths = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoring",
			Subsystem: "ring",
			Name:      "growths_total",
			Help:      "Buffer reallocations.",
		},
		[]string{"source"},
	)
	ringCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "protoring",
			Subsystem: "ring",
			Name:      "capacity_bytes",
			Help:      "Current buffer capacity after the last reallocation.",
		},
		[]string{"source"},
	)
	ringFramingFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoring",
			Subsystem: "ring",
			Name:      "framing_failures_total",
			Help:      "Streams rejected with an unrecoverable framing error.",
		},
		[]string{"source"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ringAppendedBytes,
			ringMessages,
			ringPayloadSize,
			ringCompactions,
			ringGrowths,
			ringCapacity,
			ringFramingFailures,
		)
	})
}

// RingObserver returns a ring.Observer recording into the package metrics
// under the given source label.
func RingObserver(source string) ring.Observer {
	RegisterMetrics()
	return &ringObserver{
		appended:  ringAppendedBytes.WithLabelValues(source),
		messages:  ringMessages.WithLabelValues(source),
		payload:   ringPayloadSize.WithLabelValues(source),
		compacted: ringCompactions.WithLabelValues(source),
		grew:      ringGrowths.WithLabelValues(source),
		capacity:  ringCapacity.WithLabelValues(source),
		failures:  ringFramingFailures.WithLabelValues(source),
	}
}

// WriteMetrics dumps the default registry in text exposition format.
func WriteMetrics(path string) error {
	RegisterMetrics()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

type ringObserver struct {
	appended  prometheus.Counter
	messages  prometheus.Counter
	payload   prometheus.Observer
	compacted prometheus.Counter
	grew      prometheus.Counter
	capacity  prometheus.Gauge
	failures  prometheus.Counter
}

func (o *ringObserver) Appended(n int) {
	o.appended.Add(float64(n))
}

func (o *ringObserver) Extracted(_ uint32, payloadLen int) {
	o.messages.Inc()
	o.payload.Observe(float64(payloadLen))
}

func (o *ringObserver) Compacted(int) {
	o.compacted.Inc()
}

func (o *ringObserver) Grew(_, newCap int) {
	o.grew.Inc()
	o.capacity.Set(float64(newCap))
}

func (o *ringObserver) Failed(error) {
	o.failures.Inc()
}
