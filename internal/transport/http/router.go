package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	certhandler "certledger/internal/certificate/handler"
	"certledger/internal/platform/metrics"
	revhandler "certledger/internal/revocation/handler"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/platform/middleware/auth"
	"certledger/pkg/platform/middleware/metadata"
	"certledger/pkg/platform/middleware/ratelimit"
	"certledger/pkg/platform/middleware/request"
	"certledger/pkg/platform/middleware/requesttime"
)

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the router mounts.
type Deps struct {
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Tokens        auth.TokenValidator
	VerifyLimiter *ratelimit.Limiter
	Certificates  *certhandler.Handler
	Revocations   *revhandler.Handler
	Health        map[string]HealthCheck
}

// NewRouter builds the full HTTP surface. Verification endpoints are public
// and rate limited per client IP; everything else requires a bearer token.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(d.Logger))
	r.Use(observe(d.Metrics))

	r.Get("/healthz", health(d.Health))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if d.VerifyLimiter != nil {
			r.Use(d.VerifyLimiter.Middleware)
		}
		d.Certificates.RegisterPublic(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.Tokens, d.Logger))
		d.Certificates.Register(r)
		d.Revocations.Register(r)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	return r
}

// observe records request counts and latency keyed by the matched route
// pattern, never the raw path, to keep label cardinality bounded.
func observe(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(route, strconv.Itoa(status/100)+"xx", time.Since(start).Seconds())
		})
	}
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		httputil.WriteJSON(w, status, map[string]any{"status": state, "checks": results})
	}
}
