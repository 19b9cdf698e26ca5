package session

import (
	"context"
	"time"

	"faststream-proxy/work/logger"

	"github.com/panjf2000/ants/v2"
)

// StartJanitor runs the periodic TTL sweep over the registry. It blocks
// until the context is cancelled and should be launched in its own
// goroutine. Each sweep is submitted to the shared worker pool so a slow
// expiry pass (many transports closing) never delays the tick schedule;
// when the pool is saturated the sweep runs inline instead of being
// skipped.
func (r *Registry) StartJanitor(ctx context.Context, pool *ants.Pool) {
	logger.Debug("[JANITOR] Starting session janitor (interval: %s, ttl: %s)", r.cfg.JanitorInterval, r.cfg.SessionTTL)

	ticker := time.NewTicker(r.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("[JANITOR] Session janitor stopped")
			return
		case <-ticker.C:
			sweep := func() {
				removed := r.ExpireOlderThan(r.cfg.SessionTTL)
				if len(removed) > 0 {
					logger.Info("[JANITOR] Expired %d stale session(s), %d remaining", len(removed), r.Count())
				}
			}
			if pool == nil || pool.Submit(sweep) != nil {
				sweep()
			}
		}
	}
}
