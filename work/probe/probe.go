package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"faststream-proxy/work/config"
	"faststream-proxy/work/logger"
	"faststream-proxy/work/session"
	"faststream-proxy/work/utils"
)

const (
	sampleTarget = 128 * 1024 // Bytes to download before computing the rate
	readChunk    = 8 * 1024
	probeTimeout = 10 * time.Second
)

// Result is one speed measurement against the current upstream.
type Result struct {
	SpeedKBps float64
	Bytes     int64
	Elapsed   time.Duration
}

// Prober samples download throughput from an upstream URL. Each probe
// uses a throwaway session so measurement traffic never pollutes a live
// session's connection pool.
type Prober struct {
	cfg *config.Config
}

// New creates a prober using the given configuration.
func New(cfg *config.Config) *Prober {
	return &Prober{cfg: cfg}
}

// Measure downloads a small sample from rawURL and reports the observed
// rate in KB/s. The whole probe is bounded by a 10 second budget.
func (p *Prober) Measure(ctx context.Context, rawURL string) (Result, error) {
	s := session.Transient(rawURL)
	defer s.Close()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", "FastSpeedTest/3.0")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := s.Client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return Result{}, fmt.Errorf("speed test got status %d", resp.StatusCode)
	}

	buf := make([]byte, readChunk)
	var downloaded int64
	for downloaded < sampleTarget {
		n, rerr := resp.Body.Read(buf)
		downloaded += int64(n)
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return Result{}, rerr
		}
	}

	elapsed := time.Since(start)
	res := Result{Bytes: downloaded, Elapsed: elapsed}
	if elapsed > 0 {
		res.SpeedKBps = float64(downloaded) / 1024 / elapsed.Seconds()
	}
	logger.Info("[PROBE] Network speed: %.1f KB/s from %s (%d bytes in %s)",
		res.SpeedKBps, utils.LogURL(p.cfg, rawURL), downloaded, elapsed.Round(time.Millisecond))
	return res, nil
}
