package relay

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"faststream-proxy/work/buffer"
	"faststream-proxy/work/config"
	"faststream-proxy/work/logger"
	"faststream-proxy/work/metrics"
	"faststream-proxy/work/upstream"
)

// Mode selects the chunk size for a relay. It is requested per endpoint
// and never persisted.
type Mode int

const (
	Standard Mode = iota // 512 KiB chunks
	Fast                 // 1 MiB chunks
)

func (m Mode) String() string {
	if m == Fast {
		return "fast"
	}
	return "standard"
}

// Relay copies upstream bodies to clients in mode-sized chunks. Each mode
// keeps its own buffer pool so fast and standard streams never trade
// differently sized buffers back and forth.
type Relay struct {
	cfg      *config.Config
	fast     *buffer.BufferPool
	standard *buffer.BufferPool
	total    atomic.Int64 // lifetime bytes relayed, reported by the status API
}

// New creates a relay with pools for both modes.
func New(cfg *config.Config) *Relay {
	return &Relay{
		cfg:      cfg,
		fast:     buffer.NewBufferPool(cfg.ChunkSizeFast),
		standard: buffer.NewBufferPool(cfg.ChunkSizeStandard),
	}
}

// ChunkSize returns the chunk size for a mode, for header echoes.
func (rl *Relay) ChunkSize(mode Mode) int {
	if mode == Fast {
		return rl.cfg.ChunkSizeFast
	}
	return rl.cfg.ChunkSizeStandard
}

// TotalBytes reports the lifetime byte count relayed to clients.
func (rl *Relay) TotalBytes() int64 {
	return rl.total.Load()
}

func (rl *Relay) pool(mode Mode) *buffer.BufferPool {
	if mode == Fast {
		return rl.fast
	}
	return rl.standard
}

// Stream pulls the upstream body and writes it to the client chunk by
// chunk, flushing after every write so bytes reach the client as they
// arrive instead of after the transfer completes. Backpressure is
// implicit: the next upstream read does not happen until the client
// write returns, so memory stays bounded by one chunk per stream.
//
// The loop ends on upstream EOF (nil error), client disconnect, upstream
// stall, or the configured wall-clock ceiling. A mid-transfer upstream
// error is returned to the caller after logging; the handler lets the
// connection close rather than papering over the truncation.
func (rl *Relay) Stream(ctx context.Context, w http.ResponseWriter, st *upstream.Stream, mode Mode, sessionID string) (int64, error) {
	flusher, _ := w.(http.Flusher)

	pool := rl.pool(mode)
	bb := pool.Get()
	defer pool.Put(bb)
	buf := bb.B

	metrics.ActiveStreams.Inc()
	start := time.Now()
	defer func() {
		metrics.ActiveStreams.Dec()
		metrics.StreamDuration.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
	}()

	// Closing the body is the only way to unblock a read already pending
	// on the upstream socket, so both watchdogs work by closing it and
	// leaving a flag saying why. The stall watchdog starts at the
	// first-data budget and re-arms with the stall budget on every chunk.
	var stalled, ceilingHit atomic.Bool
	watchdog := time.AfterFunc(rl.cfg.FirstDataTimeout, func() {
		stalled.Store(true)
		st.Resp.Body.Close()
	})
	defer watchdog.Stop()

	if rl.cfg.MaxStreamDuration > 0 {
		ceiling := time.AfterFunc(rl.cfg.MaxStreamDuration, func() {
			ceilingHit.Store(true)
			st.Resp.Body.Close()
		})
		defer ceiling.Stop()
	}

	firstData := true
	total := int64(0)

	logger.Debug("[RELAY] Streaming in %s mode, %d byte chunks (session: %s)", mode, len(buf), sessionID)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("[RELAY] Client disconnected after %d bytes (session: %s)", total, sessionID)
			return total, ctx.Err()
		default:
		}

		// ReadFull coalesces upstream reads into full chunks so every
		// client write except the last carries exactly one chunk.
		n, err := io.ReadFull(st.Resp.Body, buf)
		if n > 0 {
			watchdog.Reset(rl.cfg.StallTimeout)
			if firstData {
				firstData = false
				logger.Debug("[RELAY] First data received (session: %s)", sessionID)
			}

			if _, werr := w.Write(buf[:n]); werr != nil {
				logger.Debug("[RELAY] Client write failed after %d bytes: %v (session: %s)", total, werr, sessionID)
				return total, werr
			}
			if flusher != nil {
				flusher.Flush()
			}

			total += int64(n)
			rl.total.Add(int64(n))
			metrics.BytesRelayed.WithLabelValues(mode.String()).Add(float64(n))
			metrics.ChunksRelayed.WithLabelValues(mode.String()).Inc()
		}

		if err != nil {
			switch {
			case err == io.EOF || err == io.ErrUnexpectedEOF:
				logger.Debug("[RELAY] Stream ended normally after %d bytes (session: %s)", total, sessionID)
				return total, nil
			case ctx.Err() != nil:
				logger.Debug("[RELAY] Client disconnected after %d bytes (session: %s)", total, sessionID)
				return total, ctx.Err()
			case stalled.Load():
				if total == 0 {
					logger.Error("[RELAY] No data from upstream within %s (session: %s)", rl.cfg.FirstDataTimeout, sessionID)
				} else {
					logger.Error("[RELAY] Upstream stalled for %s after %d bytes (session: %s)", rl.cfg.StallTimeout, total, sessionID)
				}
				return total, &upstream.Error{Kind: upstream.KindTimeout, URL: streamURL(st)}
			case ceilingHit.Load():
				logger.Warn("[RELAY] Stream exceeded %s ceiling after %d bytes, closing (session: %s)", rl.cfg.MaxStreamDuration, total, sessionID)
				return total, &upstream.Error{Kind: upstream.KindTimeout, URL: streamURL(st)}
			default:
				logger.Error("[RELAY] Upstream read error after %d bytes: %v (session: %s)", total, err, sessionID)
				return total, err
			}
		}
	}
}

// streamURL extracts the upstream URL for error reporting.
func streamURL(st *upstream.Stream) string {
	if st.Resp != nil && st.Resp.Request != nil && st.Resp.Request.URL != nil {
		return st.Resp.Request.URL.String()
	}
	return ""
}
