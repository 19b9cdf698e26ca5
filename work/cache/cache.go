package cache

import (
	"time"

	"faststream-proxy/work/metrics"

	"github.com/maypok86/otter/v2"
)

// Metadata holds the slice of an upstream response needed to answer a
// client HEAD request without re-contacting upstream. Players poke the
// same resource repeatedly before committing to playback, so even a short
// TTL absorbs most of that probe traffic.
type Metadata struct {
	Status        int       // Upstream status code
	ContentType   string    // Raw upstream content type, coercion happens at translation time
	ContentLength string    // Upstream Content-Length, empty when unknown
	LastModified  string    // Upstream Last-Modified, copied through verbatim
	ETag          string    // Upstream ETag, copied through verbatim
	FetchedAt     time.Time // When the metadata was fetched
}

// MetadataCache is a bounded in-memory cache for upstream HEAD metadata,
// keyed by URL fingerprint plus client profile. Entries expire a fixed
// interval after write; capacity eviction is handled by the cache itself.
type MetadataCache struct {
	entries *otter.Cache[string, Metadata]
}

// NewMetadataCache builds a cache holding at most size entries, each
// valid for ttl after being stored.
func NewMetadataCache(size int, ttl time.Duration) *MetadataCache {
	return &MetadataCache{
		entries: otter.Must(&otter.Options[string, Metadata]{
			MaximumSize:      size,
			ExpiryCalculator: otter.ExpiryWriting[string, Metadata](ttl),
		}),
	}
}

// Get returns the cached metadata for key if present and fresh.
func (mc *MetadataCache) Get(key string) (Metadata, bool) {
	if m, ok := mc.entries.GetIfPresent(key); ok {
		metrics.MetadataCacheHits.Inc()
		return m, true
	}
	metrics.MetadataCacheMisses.Inc()
	return Metadata{}, false
}

// Set stores metadata under key, stamping it with the current time when
// the caller left FetchedAt zero.
func (mc *MetadataCache) Set(key string, m Metadata) {
	if m.FetchedAt.IsZero() {
		m.FetchedAt = time.Now()
	}
	mc.entries.Set(key, m)
}

// InvalidateAll drops every cached entry. Called when a new session is
// created so stale metadata from the previous video can never leak into
// answers for the new one.
func (mc *MetadataCache) InvalidateAll() {
	mc.entries.InvalidateAll()
}

// Len reports the approximate number of cached entries.
func (mc *MetadataCache) Len() int {
	return mc.entries.EstimatedSize()
}
