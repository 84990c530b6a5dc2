// Package app provides application initialization and dependency wiring.
//
// Setup builds the full component graph in dependency order: tracing,
// database pool, Genkit with the configured AI provider, the conversation
// and knowledge stores, the tool registry, the agent, and the HTTP server.
// Close releases everything in reverse.
package app

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/relay/api"
	"github.com/koopa0/relay/internal/agent"
	"github.com/koopa0/relay/internal/config"
	"github.com/koopa0/relay/internal/knowledge"
	"github.com/koopa0/relay/internal/log"
	"github.com/koopa0/relay/internal/store"
	"github.com/koopa0/relay/internal/tool"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder // nil when the provider exposes no embedder
	DBPool   *pgxpool.Pool

	// Domain components
	Store     *store.Store
	Knowledge *knowledge.Store // nil when Embedder is nil
	Registry  *tool.Registry
	Agent     *agent.Agent
	Server    *api.Server

	otelCleanup func()
	dbCleanup   func()
}

// Close releases all resources acquired during Setup. Safe to call on a
// partially initialized App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx)
}
