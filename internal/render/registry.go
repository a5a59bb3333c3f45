// Package render implements the renderer engines behind the map pool: a
// libvips-backed raster engine, a pure-Go debug engine, and the registry
// that routes definition keys to whichever engine they name.
package render

import (
	"fmt"

	"go.uber.org/zap"

	"mapforge/internal/map_pool"
	"mapforge/internal/map_source"
)

// Registry dispatches renderer construction on the definition's engine field
// and fans lifecycle calls out to every registered engine. It is the single
// map_pool.Engine the pool sees.
type Registry struct {
	logger  *zap.Logger
	names   []string
	engines map[string]map_pool.Engine
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger,
		engines: map[string]map_pool.Engine{},
	}
}

// Register adds an engine under a definition engine name. Registration
// happens during startup wiring, before the pool takes requests.
func (r *Registry) Register(name string, engine map_pool.Engine) {
	if _, ok := r.engines[name]; ok {
		panic(fmt.Sprintf("render: engine %q registered twice", name))
	}
	r.engines[name] = engine
	r.names = append(r.names, name)
	r.logger.Info("Render engine registered", zap.String("engine", name))
}

func (r *Registry) NewRenderer(key string) (map_pool.Renderer, error) {
	def, err := map_source.ParseDefinition(key)
	if err != nil {
		return nil, err
	}

	engine, ok := r.engines[def.Engine]
	if !ok {
		return nil, fmt.Errorf("no engine registered for %q", def.Engine)
	}
	return engine.NewRenderer(key)
}

// CleanupIdle runs while the pool is empty and locked; each engine gets the
// call exactly once per drain.
func (r *Registry) CleanupIdle() {
	for _, name := range r.names {
		r.engines[name].CleanupIdle()
	}
}

// Shutdown is the unconditional final teardown, in registration order.
func (r *Registry) Shutdown() {
	for _, name := range r.names {
		r.engines[name].Shutdown()
	}
}
