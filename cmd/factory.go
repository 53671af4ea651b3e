package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/alexschratzi/Suni/internal/automation"
	"github.com/alexschratzi/Suni/internal/browser"
	"github.com/alexschratzi/Suni/internal/catalog"
	"github.com/alexschratzi/Suni/internal/config"
	"github.com/alexschratzi/Suni/internal/connection"
	"github.com/alexschratzi/Suni/internal/engine"
	"github.com/alexschratzi/Suni/internal/relay"
	"github.com/alexschratzi/Suni/internal/server"
	"github.com/alexschratzi/Suni/internal/session"
)

// Components holds the initialized services for a running relay. It
// centralizes their lifecycle so serve can tear everything down in order.
type Components struct {
	Browser *browser.Manager
	Pool    *engine.Pool
	Server  *server.Server
}

// buildComponents wires the full dependency graph bottom-up: browser,
// automation engine, worker pool, stores, orchestrator, HTTP server.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) *Components {
	browserMgr := browser.NewManager(ctx, logger, cfg.Browser, cfg.Automation.IdleQuietPeriod)
	auto := automation.New(browserMgr, cfg.Automation, logger)
	pool := engine.NewPool(auto, cfg.Engine, cfg.Automation.AttemptCeiling(), logger)

	cat := catalog.New(cfg.Catalog.DataPath, logger)
	orch := relay.New(
		logger,
		cat,
		session.NewMemoryStore(logger),
		connection.NewMemoryRegistry(logger),
		pool,
		cfg.Server.PublicBaseURL,
	)

	return &Components{
		Browser: browserMgr,
		Pool:    pool,
		Server:  server.New(logger, cfg.Server, cfg.Catalog, orch, cat),
	}
}

// Shutdown stops the components in reverse dependency order: no new HTTP
// work, then drain the pool, then close the browser.
func (c *Components) Shutdown(ctx context.Context, logger *zap.Logger) {
	c.Pool.Stop()
	if err := c.Browser.Shutdown(ctx); err != nil {
		logger.Warn("browser shutdown reported an error", zap.Error(err))
	}
}
