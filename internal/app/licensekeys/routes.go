package licensekeys

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/magabrotheeeer/license-keys/docs"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/admin/invites"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/admin/purge"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/admin/userkeys"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/admin/users"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/admin/vip"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/auth/me"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/health"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/keys/activations"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/keys/create"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/keys/durations"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/keys/list"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/keys/remove"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/keys/stream"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/keys/toggle"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/validate"
	"github.com/magabrotheeeer/license-keys/internal/http/middlewarectx"
)

// RouteOptions — параметры маршрутов, не относящиеся к бизнес-логике.
type RouteOptions struct {
	Registry      *prometheus.Registry
	TrustProxy    bool
	HealthChecks  map[string]health.Pinger
	ValidateRPS   float64
	ValidateBurst int
	AuthRPS       float64
	AuthBurst     int
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, svc Services, opts RouteOptions) {
	// Глобальные middleware
	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(
		middlewarectx.RequestLogger(logger),
		middleware.Recoverer,
		middleware.URLFormat,
	)

	validateLimit := middlewarectx.RateLimitMiddleware(logger, middlewarectx.NewIPLimiter(opts.ValidateRPS, opts.ValidateBurst))
	authLimit := middlewarectx.RateLimitMiddleware(logger, middlewarectx.NewIPLimiter(opts.AuthRPS, opts.AuthBurst))
	validateHandler := validate.New(logger, svc.Keys)

	// Игровые клиенты обращаются к корневому /validate.
	r.With(validateLimit).Get("/validate", validateHandler.ServeHTTP)
	r.Get("/health", health.New(logger, opts.HealthChecks).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.With(validateLimit).Get("/validate", validateHandler.ServeHTTP)
		r.Group(func(r chi.Router) {
			r.Use(authLimit)
			r.Post("/register", register.New(logger, svc.Auth).ServeHTTP)
			r.Post("/login", login.New(logger, svc.Auth).ServeHTTP)
		})

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(svc.Auth, logger))
			r.Get("/me", me.New(logger).ServeHTTP)
			r.Get("/durations", durations.New(logger, svc.Keys).ServeHTTP)
			r.Get("/keys", list.New(logger, svc.Keys).ServeHTTP)
			r.Post("/keys", create.New(logger, svc.Keys).ServeHTTP)
			r.Get("/keys/stream", stream.New(logger, svc.Hub).ServeHTTP)
			r.Patch("/keys/{id}/toggle", toggle.New(logger, svc.Keys).ServeHTTP)
			activationsHandler := activations.New(logger, svc.Keys)
			r.Post("/keys/{id}/activations", activationsHandler.ServeHTTP)
			r.Delete("/keys/{id}/activations", activationsHandler.ServeHTTP)

			// Только для администратора
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.AdminOnly(logger))
				r.Delete("/keys/{id}", remove.New(logger, svc.Keys).ServeHTTP)
				r.Get("/admin/users", users.New(logger, svc.Auth).ServeHTTP)
				r.Post("/admin/users/{id}/vip", vip.New(logger, svc.Auth).ServeHTTP)
				r.Delete("/admin/users/{id}", purge.New(logger, svc.Auth).ServeHTTP)
				r.Get("/admin/users/{id}/keys", userkeys.New(logger, svc.Keys).ServeHTTP)
				invitesHandler := invites.New(logger, svc.Invites)
				r.Get("/admin/invites", invitesHandler.List)
				r.Post("/admin/invites", invitesHandler.Create)
			})
		})
	})

	if opts.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
