package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/eventreg-api/internal/handler"
	"github.com/noah-isme/eventreg-api/internal/repository"
	"github.com/noah-isme/eventreg-api/internal/scheduler"
	"github.com/noah-isme/eventreg-api/internal/service"
	"github.com/noah-isme/eventreg-api/pkg/cache"
	"github.com/noah-isme/eventreg-api/pkg/config"
	"github.com/noah-isme/eventreg-api/pkg/confirmation"
	"github.com/noah-isme/eventreg-api/pkg/database"
	"github.com/noah-isme/eventreg-api/pkg/events"
	"github.com/noah-isme/eventreg-api/pkg/export"
	"github.com/noah-isme/eventreg-api/pkg/mailer"
	"github.com/noah-isme/eventreg-api/pkg/storage"
	"github.com/noah-isme/eventreg-api/pkg/tracing"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-lived resource of the API process.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	db        *sqlx.DB
	redis     *redis.Client
	publisher events.Publisher
	tracing   *tracing.Provider

	confirmations *service.ConfirmationService
	scheduler     *scheduler.Scheduler
	server        *http.Server
}

// Build connects to the backing services and assembles the HTTP stack.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeResources()
		}
	}()

	app.db, err = database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	app.tracing, err = tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	tracer := app.tracing.Tracer()

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	app.redis, err = cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if app.redis != nil {
		cacheRepo = repository.NewCacheRepository(app.redis, logger.Named("cache"))
	} else {
		logger.Info("REDIS_URL not set, using in-process registration cache")
		cacheRepo = repository.NewMemoryCacheRepository(cfg.Redis.CacheTTL)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Redis.CacheTTL, logger.Named("cache"))

	app.publisher = events.NopPublisher{}
	if cfg.RabbitMQ.URL != "" {
		rabbit, dialErr := events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger.Named("events"))
		if dialErr != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", dialErr)
		}
		app.publisher = rabbit
	}

	sender, err := mailer.New(cfg.Mail, logger.Named("mailer"))
	if err != nil {
		return nil, fmt.Errorf("init mailer: %w", err)
	}

	blobs, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("init payment storage: %w", err)
	}

	signer := confirmation.NewSigner(cfg.Confirmation.SigningSecret)
	renderer := confirmation.NewRenderer(signer, cfg.Confirmation.Currency)

	registrations := repository.NewRegistrationRepository(app.db)
	payments := repository.NewPaymentRepository(app.db)
	admins := repository.NewAdminRepository(app.db)
	audits := repository.NewAuditRepository(app.db)
	validate := validator.New()

	app.confirmations = service.NewConfirmationService(service.ConfirmationDeps{
		Registrations: registrations,
		Payments:      payments,
		Renderer:      renderer,
		Verifier:      signer,
		Sender:        sender,
		Audit:         audits,
		Cache:         cacheSvc,
		Metrics:       metrics,
		Publisher:     app.publisher,
		Tracer:        tracer,
		Logger:        logger.Named("confirmation"),
	}, service.ConfirmationConfig{
		MailTimeout:  cfg.Mail.Timeout,
		MaxAttempts:  cfg.Confirmation.MaxAttempts,
		RetryWorkers: cfg.Confirmation.RetryWorkers,
		RetryDelay:   cfg.Confirmation.RetryDelay,
	})

	workflow := service.NewRegistrationService(service.RegistrationDeps{
		Registrations: registrations,
		Payments:      payments,
		Storage:       blobs,
		Confirmations: app.confirmations,
		Audit:         audits,
		Cache:         cacheSvc,
		Metrics:       metrics,
		Publisher:     app.publisher,
		Exporter:      export.NewCSVExporter(),
		Validator:     validate,
		Tracer:        tracer,
		Logger:        logger.Named("registration"),
	}, service.RegistrationConfig{
		DefaultAmount:           cfg.Workflow.DefaultAmount,
		AllowApproveAfterReject: cfg.Workflow.AllowApproveAfterReject,
		MaxFileSizeBytes:        cfg.Storage.MaxFileSizeBytes,
		AllowedMIMEs:            cfg.Storage.AllowedMIMEs,
		CacheTTL:                cfg.Redis.CacheTTL,
	})

	auth, err := NewAuthService(cfg, admins, audits, validate, logger)
	if err != nil {
		return nil, err
	}

	app.scheduler, err = scheduler.New(cfg.Confirmation.RetrySchedule, app.confirmations, logger.Named("scheduler"))
	if err != nil {
		return nil, err
	}

	router := NewRouter(RouterOptions{
		Env:            cfg.Env,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxUploadBytes: cfg.Storage.MaxFileSizeBytes,
		Tokens:         auth,
		Metrics:        metrics,
		Tracer:         tracer,
		Logger:         logger,
	}, Handlers{
		Registrations: handler.NewRegistrationHandler(workflow),
		Auth:          handler.NewAuthHandler(auth, cfg.Admin.RegistrationEnabled),
		Admin:         handler.NewAdminHandler(workflow, app.confirmations),
		Metrics:       handler.NewMetricsHandler(metrics, app.db),
	})

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

// NewAuthService builds the admin authentication service from configuration.
func NewAuthService(cfg *config.Config, admins *repository.AdminRepository, audits *repository.AuditRepository, validate *validator.Validate, logger *zap.Logger) (*service.AuthService, error) {
	auth, err := service.NewAuthService(admins, audits, validate, logger.Named("auth"), service.AuthConfig{
		Secret: cfg.JWT.Secret,
		Expiry: cfg.JWT.Expiration,
		Issuer: cfg.JWT.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}
	return auth, nil
}

// Run serves HTTP alongside the retry workers and the sweep scheduler until
// ctx is cancelled or one of them fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server starting", zap.String("addr", a.server.Addr), zap.String("env", a.cfg.Env))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("server shutting down")
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		a.confirmations.Start(ctx)
		<-ctx.Done()
		a.confirmations.Stop()
		return nil
	})

	g.Go(func() error {
		return a.scheduler.Run(ctx)
	})

	err := g.Wait()
	a.closeResources()
	return err
}

func (a *App) closeResources() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close event publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("flush traces", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
}
