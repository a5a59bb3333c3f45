package map_pool

import (
	"go.uber.org/zap"
)

// eviction is a worker's parting notification to the reaper.
type eviction struct {
	key    string
	reason string
}

// runReaper serializes worker exits. Whenever an exit leaves the pool empty,
// it runs the engine's idle cleanup while still holding the pool lock, so no
// renderer can be constructed while shared native state is being released.
func (p *Pool) runReaper() {
	defer close(p.reaperDone)

	for ev := range p.evictions {
		evictionsTotal.WithLabelValues(ev.reason).Inc()

		p.mu.Lock()
		remaining := len(p.entries)
		if remaining == 0 {
			p.engine.CleanupIdle()
			cleanupsTotal.Inc()
		}
		p.mu.Unlock()

		p.logger.Info("Renderer evicted",
			zap.String("map", keyDigest(ev.key)),
			zap.String("reason", ev.reason),
			zap.Int("remaining", remaining))
	}
}
