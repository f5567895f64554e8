package telemetry

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_messages_relayed_total",
			Help: "Messages persisted by the relay, by source.",
		},
		[]string{"source"},
	)

	ChannelsAutoCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrelay_channels_auto_created_total",
			Help: "Channels created implicitly by a first message or DM lookup.",
		},
	)

	SinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_sink_failures_total",
			Help: "Fan-out failures after a successful persist, by sink and event.",
		},
		[]string{"sink", "event"},
	)

	BusPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_bus_published_total",
			Help: "Events published on the internal bus, by topic.",
		},
		[]string{"topic"},
	)

	BusDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_bus_dropped_total",
			Help: "Events dropped because a buffered subscriber was full, by topic.",
		},
		[]string{"topic"},
	)

	SocketEmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_socket_emits_total",
			Help: "Room emits on the realtime broadcaster, by event.",
		},
		[]string{"event"},
	)

	SocketsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentrelay_sockets_connected",
			Help: "Currently connected realtime sessions.",
		},
	)

	UploadRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_upload_rejections_total",
			Help: "Rejected media uploads, by reason.",
		},
		[]string{"reason"},
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_outbound_deliveries_total",
			Help: "Outbound agent reply deliveries, by outcome.",
		},
		[]string{"outcome"},
	)

	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentrelay_operation_duration_seconds",
			Help:    "Latency of relay operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "agentrelay_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesRelayed,
		ChannelsAutoCreated,
		SinkFailures,
		BusPublished,
		BusDropped,
		SocketEmits,
		SocketsConnected,
		UploadRejections,
		Deliveries,
		opDuration,
		heapAlloc,
	)
}

// Trace times one operation.
type Trace struct {
	name  string
	start time.Time
}

// Track starts timing the named operation; call Finish when done.
func Track(name string) *Trace {
	return &Trace{name: name, start: time.Now()}
}

func (tr *Trace) Finish() {
	if tr == nil {
		return
	}
	opDuration.WithLabelValues(tr.name).Observe(time.Since(tr.start).Seconds())
}
