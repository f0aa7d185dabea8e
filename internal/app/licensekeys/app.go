// Package licensekeys собирает HTTP-сервис лицензионных ключей: хранилище,
// кэш, ленту изменений, сервисы и маршруты.
package licensekeys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/magabrotheeeer/license-keys/internal/cache"
	"github.com/magabrotheeeer/license-keys/internal/config"
	"github.com/magabrotheeeer/license-keys/internal/feed"
	"github.com/magabrotheeeer/license-keys/internal/http/handlers/health"
	"github.com/magabrotheeeer/license-keys/internal/lib/jwt"
	"github.com/magabrotheeeer/license-keys/internal/lib/keygen"
	"github.com/magabrotheeeer/license-keys/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/license-keys/internal/lib/sl"
	"github.com/magabrotheeeer/license-keys/internal/metrics"
	"github.com/magabrotheeeer/license-keys/internal/migrations"
	"github.com/magabrotheeeer/license-keys/internal/services/auth"
	"github.com/magabrotheeeer/license-keys/internal/services/invites"
	"github.com/magabrotheeeer/license-keys/internal/services/keys"
	"github.com/magabrotheeeer/license-keys/internal/services/policy"
	"github.com/magabrotheeeer/license-keys/internal/storage"
	"github.com/magabrotheeeer/license-keys/internal/storage/bolt"
	"github.com/magabrotheeeer/license-keys/internal/storage/postgresql"
)

// Services — бизнес-логика, доступная маршрутам.
type Services struct {
	Auth    *auth.AuthService
	Keys    *keys.KeyService
	Invites *invites.InviteService
	Hub     *feed.Hub
}

type App struct {
	server   *http.Server
	logger   *slog.Logger
	db       storage.Repository
	cache    *cache.Cache
	hub      *feed.Hub
	amqp     *feed.AMQPNotifier
	closers  []func() error
	services Services
}

// New поднимает зависимости по конфигу. Redis и RabbitMQ необязательны:
// пустой адрес отключает их.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.licensekeys.New"

	app := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.close()
		}
	}()

	db, err := OpenStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	app.db = db
	app.closers = append(app.closers, db.Close)

	notifiers := feed.Multi{}
	app.hub = feed.NewHub(logger, feed.DefaultBuffer)
	notifiers = append(notifiers, app.hub)

	if cfg.RabbitMQ.URL != "" {
		conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.Delay)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.closers = append(app.closers, conn.Close)
		ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQ.Exchange, rabbitmq.AuditQueues(cfg.RabbitMQ.Exchange))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.amqp = feed.NewAMQPNotifier(logger, ch, cfg.RabbitMQ.Exchange)
		app.closers = append(app.closers, app.amqp.Close)
		notifiers = append(notifiers, app.amqp)
		logger.Info("key events published to rabbitmq", slog.String("exchange", cfg.RabbitMQ.Exchange))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	keyOpts := []keys.Option{keys.WithMetrics(m)}
	if cfg.Redis.Address != "" {
		c, err := cache.InitServer(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.cache = c
		app.closers = append(app.closers, c.Close)
		keyOpts = append(keyOpts, keys.WithCache(c, cfg.Policy.KeyCacheTTL))
		logger.Info("key cache enabled", slog.Duration("ttl", cfg.Policy.KeyCacheTTL))
	}

	gen := keygen.New(cfg.Policy.KeyPrefix)
	keyService := keys.NewKeyService(db,
		policy.New(policy.Config{
			TrialDurationMinutes: cfg.Policy.TrialDurationMinutes,
			MaxDeviceLimit:       cfg.Policy.MaxDeviceLimit,
		}),
		gen, notifiers, logger, keyOpts...)

	authService := auth.NewAuthService(db,
		jwt.NewJWTMaker(cfg.JWTToken.SecretKey, cfg.JWTToken.TokenTTL),
		auth.Config{
			UserLimit:         cfg.Policy.UserLimit,
			RequireInvite:     cfg.Policy.RequireInvite,
			EmailDomain:       cfg.Policy.EmailDomain,
			BootstrapUsername: cfg.BootstrapAdmin.Username,
			BootstrapPassword: cfg.BootstrapAdmin.Password,
		},
		m, logger, auth.WithKeysRemovedHook(keyService))

	app.services = Services{
		Auth:    authService,
		Keys:    keyService,
		Invites: invites.NewInviteService(db, gen, logger),
		Hub:     app.hub,
	}

	checks := map[string]health.Pinger{"storage": db}
	if app.cache != nil {
		checks["redis"] = app.cache
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, app.services, RouteOptions{
		Registry:      reg,
		TrustProxy:    cfg.HTTPServer.TrustProxy,
		HealthChecks:  checks,
		ValidateRPS:   cfg.RateLimit.ValidateRPS,
		ValidateBurst: cfg.RateLimit.ValidateBurst,
		AuthRPS:       cfg.RateLimit.AuthRPS,
		AuthBurst:     cfg.RateLimit.AuthBurst,
	})

	app.server = &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}
	ok = true
	return app, nil
}

// OpenStorage открывает хранилище, выбранное в конфиге. Для postgres применяются миграции.
func OpenStorage(ctx context.Context, cfg config.Storage, logger *slog.Logger) (storage.Repository, error) {
	switch cfg.Driver {
	case config.DriverBolt:
		db, err := bolt.Open(cfg.BoltPath, cfg.OpenTimeout)
		if err != nil {
			return nil, err
		}
		logger.Info("using bolt storage", slog.String("path", cfg.BoltPath))
		return db, nil
	case config.DriverPostgres:
		pingCtx, cancel := context.WithTimeout(ctx, cfg.OpenTimeout)
		defer cancel()
		db, err := postgresql.New(pingCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("using postgres storage")
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Handler возвращает корневой обработчик.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Services возвращает собранные сервисы.
func (a *App) Services() Services {
	return a.services
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		a.hub.Close()
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

// Close освобождает ресурсы без запуска сервера.
func (a *App) Close() {
	a.close()
}

func (a *App) close() {
	if a.hub != nil {
		a.hub.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close resource", sl.Err(err))
		}
	}
	a.closers = nil
}
