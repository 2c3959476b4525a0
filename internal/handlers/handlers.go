// Package handlers implements the six inbound HTTP endpoints from spec §6
// (plus the supplemented sync-verification and metrics endpoints), wiring
// the Fan-Out Orchestrator, Deduplicator/Ranker, Translation Cache, and
// Stream Activity Bus behind gin handlers. Grounded on the teacher's
// handlers/subtitle_handler.go: a handler struct holding its collaborator
// services plus a zap logger, constructed once and registered on a route
// group, with typed response DTOs and swagger doc comments on each
// exported method.
package handlers

import (
	"go.uber.org/zap"

	"submaker/internal/cache"
	"submaker/internal/config"
	"submaker/internal/fanout"
	"submaker/internal/pool"
	"submaker/internal/providers"
	"submaker/internal/session"
	"submaker/internal/stream"
)

// Handlers bundles every collaborator the addon-facing routes need. It is
// constructed once at the composition root and its methods registered
// directly as gin.HandlerFunc values.
type Handlers struct {
	orchestrator *fanout.Orchestrator
	registry     *providers.Registry
	pool         *pool.Pool
	cache        *cache.Cache
	bus          *stream.Bus
	sessions     *session.Store
	cfg          *config.Config
	logger       *zap.Logger
	version      string
}

// New builds a Handlers bundle. sessions may be nil in tests that don't
// exercise the session store.
func New(orchestrator *fanout.Orchestrator, registry *providers.Registry, p *pool.Pool, c *cache.Cache, bus *stream.Bus, sessions *session.Store, cfg *config.Config, logger *zap.Logger, version string) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		registry:     registry,
		pool:         p,
		cache:        c,
		bus:          bus,
		sessions:     sessions,
		cfg:          cfg,
		logger:       logger,
		version:      version,
	}
}
