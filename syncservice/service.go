// --- File: syncservice/service.go ---
package syncservice

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-subscriber/internal/api"
	"github.com/tinywideclouds/go-push-subscriber/pkg/registry"
	"github.com/tinywideclouds/go-push-subscriber/syncservice/config"
)

// Wrapper is the HTTP service that persists web push subscriptions for
// authenticated users.
type Wrapper struct {
	*microservice.BaseServer
	logger *slog.Logger
}

// New assembles the service and registers its routes.
func New(
	cfg *config.Config,
	store registry.SubscriptionStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) *Wrapper {
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)
	subscriptionAPI := api.NewSubscriptionAPI(store, logger.With("component", "subscription_api"))

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/register/web", subscriptionAPI.RegisterWeb)
	handle("POST /api/v1/unregister/web", subscriptionAPI.UnregisterWeb)
	handle("GET /api/v1/subscriptions/web", subscriptionAPI.ListWeb)

	// CORS preflight for the whole API namespace.
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer: baseServer,
		logger:     logger,
	}
}

// Start marks the service ready and blocks serving HTTP.
func (w *Wrapper) Start(ctx context.Context) error {
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		return err
	}
	w.logger.Info("Service shutdown complete.")
	return nil
}
