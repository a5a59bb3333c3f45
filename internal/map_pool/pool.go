// Package map_pool coordinates exclusive access to expensive, stateful map
// renderers. Each distinct definition key gets at most one live renderer,
// pinned to a dedicated OS thread for its whole life; callers talk to it
// through synchronous render channels. Idle renderers evict themselves, and
// a reaper runs engine-wide cleanup whenever the pool drains empty.
package map_pool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"mapforge/internal/tile"
)

const (
	DefaultWorkers     = 24
	DefaultIdleTimeout = time.Hour
)

// Renderer is one live, non-thread-safe rendering resource. The pool
// guarantees every call happens on the single worker thread that constructed
// it.
type Renderer interface {
	Render(ext tile.Extent) ([]byte, error)
	Close()
}

// Engine constructs renderers from definition keys and owns whatever state
// its renderers share. CleanupIdle is only ever called while the pool is
// empty and locked; Shutdown is called exactly once, after Close has retired
// every worker.
type Engine interface {
	NewRenderer(key string) (Renderer, error)
	CleanupIdle()
	Shutdown()
}

type Config struct {
	Engine Engine

	// Workers caps live renderers across all keys. An acquisition for a new
	// key waits for a free slot (or fails fast, for TryAcquireOrCreate).
	Workers int

	// IdleTimeout retires a renderer that has not served a request for this
	// long.
	IdleTimeout time.Duration

	Clock  clockwork.Clock
	Logger *zap.Logger
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Engine == nil {
		return errors.New("map pool needs an engine")
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Workers < 0 {
		return errors.New("map pool worker count must be positive")
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.IdleTimeout < 0 {
		return errors.New("map pool idle timeout must be positive")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Pool is the renderer registry. The mutex guards only the entry table; it
// is never held across construction, rendering or slot waits.
type Pool struct {
	engine      Engine
	idleTimeout time.Duration
	clock       clockwork.Clock
	logger      *zap.Logger

	// slots is a counting semaphore for worker capacity: send to take a
	// slot, receive to free it.
	slots chan struct{}

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	closing    chan struct{}
	evictions  chan eviction
	wg         sync.WaitGroup
	reaperDone chan struct{}
}

func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		engine:      cfg.Engine,
		idleTimeout: cfg.IdleTimeout,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		slots:       make(chan struct{}, cfg.Workers),
		entries:     map[string]*entry{},
		closing:     make(chan struct{}),
		evictions:   make(chan eviction),
		reaperDone:  make(chan struct{}),
	}
	go p.runReaper()

	p.logger.Info("Map pool started",
		zap.Int("workers", cfg.Workers),
		zap.Duration("idle_timeout", cfg.IdleTimeout))
	return p, nil
}

// AcquireOrCreate returns the render channel for key, starting a worker if
// the key has none. It blocks while the pool is at capacity and while the
// renderer is constructing; ctx bounds both waits. A construction failure is
// returned to every caller waiting on it, as a ConstructionError.
func (p *Pool) AcquireOrCreate(ctx context.Context, key string) (*RenderChannel, error) {
	e, err := p.entryFor(ctx, key, true)
	if err != nil {
		return nil, err
	}
	return p.await(ctx, e)
}

// TryAcquireOrCreate is AcquireOrCreate with a fail-fast capacity policy:
// when the key has no renderer and no worker slot is free it returns
// ErrPoolExhausted instead of waiting.
func (p *Pool) TryAcquireOrCreate(key string) (*RenderChannel, error) {
	e, err := p.entryFor(context.Background(), key, false)
	if err != nil {
		return nil, err
	}
	return p.await(context.Background(), e)
}

// Render acquires the renderer for key and performs one synchronous render.
// Losing the race against a worker exit is not something callers can act on,
// so that failure re-acquires and tries again whether it surfaced at
// acquisition or on the channel.
func (p *Pool) Render(ctx context.Context, key string, ext tile.Extent) ([]byte, error) {
	const attempts = 3

	var lastErr error
	for i := 0; i < attempts; i++ {
		ch, err := p.AcquireOrCreate(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrWorkerUnavailable) {
				return nil, err
			}
			lastErr = err
			continue
		}

		data, err := ch.Render(ext)
		if err == nil || !errors.Is(err, ErrWorkerUnavailable) {
			return data, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Len reports how many renderers are live, counting ones still constructing.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close retires every worker, drains the reaper and then shuts the engine
// down. It blocks until in-flight renders have finished and is safe to call
// twice.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.closing)
	p.wg.Wait()

	close(p.evictions)
	<-p.reaperDone

	// Every renderer is gone and no new one can start: the one moment a
	// full engine teardown is safe.
	p.engine.Shutdown()
	p.logger.Info("Map pool closed")
}

// entryFor returns the live entry for key, starting a worker when the key
// has none. block selects the capacity policy for that case.
func (p *Pool) entryFor(ctx context.Context, key string, block bool) (*entry, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if e, ok := p.entries[key]; ok {
		p.mu.Unlock()
		acquiresTotal.WithLabelValues("hit").Inc()
		return e, nil
	}

	// New key: starting a worker takes a slot. Grab one without blocking if
	// we can.
	select {
	case p.slots <- struct{}{}:
		e := p.startWorker(key)
		p.mu.Unlock()
		acquiresTotal.WithLabelValues("miss").Inc()
		return e, nil
	default:
	}
	p.mu.Unlock()

	if !block {
		acquiresTotal.WithLabelValues("exhausted").Inc()
		return nil, ErrPoolExhausted
	}

	// Wait for capacity off-lock, then look again: while we waited, another
	// caller may have started this key's worker, or the pool may have
	// closed.
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closing:
		return nil, ErrPoolClosed
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrPoolClosed
	}
	if e, ok := p.entries[key]; ok {
		p.mu.Unlock()
		<-p.slots
		acquiresTotal.WithLabelValues("hit").Inc()
		return e, nil
	}
	e := p.startWorker(key)
	p.mu.Unlock()
	acquiresTotal.WithLabelValues("miss").Inc()
	return e, nil
}

// startWorker inserts the entry and spawns its worker. The caller holds the
// pool lock and a worker slot; slot ownership passes to the worker, which
// frees it as the last act of retiring.
func (p *Pool) startWorker(key string) *entry {
	e := &entry{
		key:      key,
		requests: make(chan renderRequest),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.entries[key] = e
	p.wg.Add(1)
	go p.runWorker(e)
	return e
}

// await blocks until the entry's renderer is constructed, handing the caller
// its render channel. If the worker is already gone it reports the
// construction failure, or ErrWorkerUnavailable for a worker that served out
// its life, in which case the caller simply re-acquires.
func (p *Pool) await(ctx context.Context, e *entry) (*RenderChannel, error) {
	select {
	case <-e.ready:
		return &RenderChannel{entry: e}, nil
	case <-e.done:
		if e.err != nil {
			return nil, e.err
		}
		return nil, ErrWorkerUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// remove deletes the worker's own entry. Only the owning worker removes its
// entry, exactly once; anything else is a bookkeeping bug worth crashing on.
func (p *Pool) remove(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.entries[e.key]
	if !ok || cur != e {
		panic("map_pool: retiring worker does not own its pool entry")
	}
	delete(p.entries, e.key)
}

// keyDigest fingerprints a definition key for logs; keys hold whole resolved
// definitions and are too bulky to log raw.
func keyDigest(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])[:16]
}
