// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/payoutrules/internal/activity"
	"github.com/matthewbaird/payoutrules/internal/config"
	"github.com/matthewbaird/payoutrules/internal/console"
	"github.com/matthewbaird/payoutrules/internal/formula"
	"github.com/matthewbaird/payoutrules/internal/handler"
	"github.com/matthewbaird/payoutrules/internal/logger"
	"github.com/matthewbaird/payoutrules/internal/resolve"
	"github.com/matthewbaird/payoutrules/internal/rules"
)

// Deps are the services the routes dispatch to.
type Deps struct {
	Rules    *rules.Service
	Engine   *resolve.Engine
	Formulas *formula.Cache
	Activity activity.Store
	Sessions *console.Manager
}

// NewRouter registers every route. Everything under /v1 and the console
// requires an owner.
func NewRouter(cfg *config.Config, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(handler.Recovery, handler.Logging, handler.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	th := handler.NewTemplateHandler(d.Rules)
	rh := handler.NewRuleHandler(d.Rules)
	hh := handler.NewHistoryHandler(d.Activity)
	res := handler.NewResolveHandler(d.Engine, d.Rules.Platforms(), d.Formulas)

	r.Group(func(r chi.Router) {
		r.Use(handler.OwnerAuth(cfg.Auth.JWTSecret, cfg.Auth.OwnerHeader))

		r.Route("/v1", func(r chi.Router) {
			// --- Templates ---
			r.Post("/templates", th.CreateTemplate)
			r.Get("/templates", th.ListTemplates)
			r.Get("/templates/{id}", th.GetTemplate)
			r.Patch("/templates/{id}", th.UpdateTemplate)
			r.Delete("/templates/{id}", th.DeleteTemplate)
			r.Post("/templates/{id}/promote", th.PromoteTemplate)
			r.Get("/templates/{id}/history", hh.TemplateHistory)
			r.Get("/custom-fields", th.ListCustomFields)

			// --- Rules ---
			r.Post("/rules", rh.CreateRule)
			r.Get("/rules", rh.ListRules)
			r.Get("/rules/{id}", rh.GetRule)
			r.Patch("/rules/{id}", rh.UpdateRule)
			r.Delete("/rules/{id}", rh.DeleteRule)
			r.Get("/rules/{id}/history", hh.RuleHistory)

			// --- Resolution ---
			r.Post("/formulas/validate", res.ValidateFormula)
			r.Post("/resolve", res.Resolve)
			r.Post("/resolve/batch", res.ResolveBatch)
			r.Get("/platforms", res.ListPlatforms)
			r.Get("/platforms/{platform}/adapters", res.PlatformAdapters)
		})

		if d.Sessions != nil {
			owner := func(r *http.Request) string { return handler.OwnerFrom(r.Context()) }
			r.Get("/console/ws", console.NewHandler(d.Sessions, d.Formulas, owner).ServeHTTP)
		}
	})
	return r
}

// Run serves h until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.ServerConfig, h http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("starting server on %s", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
