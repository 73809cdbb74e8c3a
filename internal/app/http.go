package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lamport/internal/ratelimit"
	"lamport/pkg/platform/httputil"
	"lamport/pkg/platform/middleware/admin"
	"lamport/pkg/platform/middleware/metadata"
)

// Router serves health, readiness and metrics, plus the /admin routes when
// an admin token is configured.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	if a.adminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(chimw.RequestID)
			r.Use(metadata.ClientMetadata)
			if a.limits.AdminPerWindow > 0 && a.adminLimit != nil {
				r.Use(ratelimit.PerIP(a.adminLimit, "admin", a.limits.AdminPerWindow, a.limits.AdminWindow, a.logger()))
			}
			r.Use(admin.RequireAdminToken(a.adminToken, a.logger()))
			r.Get("/lamport", a.handleLamport)
			r.Post("/ledger/sweep", a.handleSweep)
		})
	}
	return r
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.db.PingContext(ctx); err != nil {
		a.notReady(w, r, "database", err)
		return
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			a.notReady(w, r, "redis", err)
			return
		}
	}
	if _, err := a.allocator.Current(ctx); err != nil {
		a.notReady(w, r, "lamport counter", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *App) notReady(w http.ResponseWriter, r *http.Request, dependency string, err error) {
	a.logger().WarnContext(r.Context(), "not ready", "dependency", dependency, "error", err)
	httputil.WriteError(w, httputil.NewError(http.StatusServiceUnavailable, "unavailable", dependency))
}

func (a *App) handleLamport(w http.ResponseWriter, r *http.Request) {
	current, err := a.allocator.Current(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"current": current})
}

func (a *App) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	purged, err := a.Sweep(ctx)
	if err != nil {
		a.logger().ErrorContext(ctx, "manual ledger sweep failed",
			"request_id", chimw.GetReqID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	a.logger().InfoContext(ctx, "manual ledger sweep",
		"purged", purged,
		"client_ip", metadata.GetClientIP(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}
