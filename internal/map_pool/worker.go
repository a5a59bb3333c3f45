package map_pool

import (
	"runtime"

	"go.uber.org/zap"
)

const (
	reasonIdle      = "idle"
	reasonShutdown  = "shutdown"
	reasonConstruct = "construct_failed"
)

// entry is one key's slot in the pool: the worker's request channel plus the
// lifecycle signals acquirers wait on. ready closes once the renderer is
// constructed; done closes when the worker has retired, with err recording a
// construction failure beforehand.
type entry struct {
	key      string
	requests chan renderRequest
	ready    chan struct{}
	done     chan struct{}
	err      error
}

// runWorker owns one renderer from construction to teardown. The renderer is
// born, used and destroyed on this one OS thread; the lock is never undone,
// so the thread dies with the goroutine instead of rejoining the scheduler
// with native state attached.
func (p *Pool) runWorker(e *entry) {
	defer p.wg.Done()
	runtime.LockOSThread()

	workersLive.Inc()
	defer workersLive.Dec()

	start := p.clock.Now()
	renderer, err := p.engine.NewRenderer(e.key)
	if err != nil {
		e.err = &ConstructionError{Key: e.key, Err: err}
		close(e.done)
		p.remove(e)
		p.logger.Warn("Renderer construction failed",
			zap.String("map", keyDigest(e.key)),
			zap.Error(err))
		p.retire(e, reasonConstruct)
		return
	}
	close(e.ready)
	p.logger.Info("Renderer ready",
		zap.String("map", keyDigest(e.key)),
		zap.Duration("construction", p.clock.Since(start)))

	reason := p.serve(e, renderer)

	// Tear the renderer down before the entry leaves the pool: a
	// replacement worker for this key can only start once this renderer is
	// gone, which keeps one live renderer per key an invariant rather than
	// a likelihood.
	renderer.Close()
	p.remove(e)
	close(e.done)
	p.retire(e, reason)
}

// serve is the worker's request loop. It returns the reason the worker is
// retiring: the idle timer fired or the pool is shutting down.
func (p *Pool) serve(e *entry, renderer Renderer) string {
	timer := p.clock.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case req := <-e.requests:
			start := p.clock.Now()
			data, err := renderer.Render(req.ext)
			req.reply <- renderReply{data: data, err: err}
			observeRender(p.clock.Since(start), err)

			if err != nil {
				p.logger.Warn("Render failed",
					zap.String("map", keyDigest(e.key)),
					zap.Error(err))
			}

			if !timer.Stop() {
				<-timer.Chan()
			}
			timer.Reset(p.idleTimeout)

		case <-timer.Chan():
			p.logger.Info("Renderer idle, retiring", zap.String("map", keyDigest(e.key)))
			return reasonIdle

		case <-p.closing:
			return reasonShutdown
		}
	}
}

// retire hands the exit to the reaper and frees the worker slot, in that
// order: the rendezvous guarantees the cleanup decision for this exit sees
// the entry already removed.
func (p *Pool) retire(e *entry, reason string) {
	p.evictions <- eviction{key: e.key, reason: reason}
	<-p.slots
}
