package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveSessions tracks the number of live video sessions in the registry.
var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "faststream_proxy_active_sessions",
	Help: "Number of live video sessions",
})

// ActiveStreams tracks the number of relays currently copying bytes to clients.
var ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "faststream_proxy_active_streams",
	Help: "Number of in-flight relayed streams",
})

// BytesRelayed counts bytes copied from upstream to clients, labeled by mode.
var BytesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "faststream_proxy_bytes_relayed_total",
	Help: "Total bytes relayed to clients",
}, []string{"mode"})

// ChunksRelayed counts chunks written to clients, labeled by mode.
var ChunksRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "faststream_proxy_chunks_relayed_total",
	Help: "Total chunks written to clients",
}, []string{"mode"})

// UpstreamErrors counts upstream failures by error kind (timeout, connection,
// forbidden, http).
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "faststream_proxy_upstream_errors_total",
	Help: "Number of upstream fetch errors",
}, []string{"kind"})

// UpstreamRetries counts 403-triggered Referer-swap retries.
var UpstreamRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "faststream_proxy_upstream_retries_total",
	Help: "Number of single-shot 403 retries against upstream",
})

// StreamDuration observes how long relayed streams last, labeled by mode.
var StreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "faststream_proxy_stream_duration_seconds",
	Help:    "Duration of relayed streams",
	Buckets: prometheus.ExponentialBuckets(0.5, 4, 8),
}, []string{"mode"})

// SessionsExpired counts sessions evicted by the janitor.
var SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "faststream_proxy_sessions_expired_total",
	Help: "Number of sessions evicted by TTL expiry",
})

// MetadataCacheHits and MetadataCacheMisses track the upstream probe cache.
var MetadataCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "faststream_proxy_metadata_cache_hits_total",
	Help: "Upstream metadata cache hits",
})

var MetadataCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "faststream_proxy_metadata_cache_misses_total",
	Help: "Upstream metadata cache misses",
})

// PlaylistsRewritten counts HLS playlists served with proxied URIs.
var PlaylistsRewritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "faststream_proxy_playlists_rewritten_total",
	Help: "Number of HLS playlists rewritten through the proxy",
})
