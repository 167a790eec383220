package server

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	_ "github.com/noah-isme/eventreg-api/api/swagger"
	"github.com/noah-isme/eventreg-api/internal/handler"
	"github.com/noah-isme/eventreg-api/internal/middleware"
	"github.com/noah-isme/eventreg-api/internal/service"
	"github.com/noah-isme/eventreg-api/pkg/config"
	"github.com/noah-isme/eventreg-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/eventreg-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/eventreg-api/pkg/middleware/requestid"
)

// Handlers groups the HTTP handlers mounted by NewRouter.
type Handlers struct {
	Registrations *handler.RegistrationHandler
	Auth          *handler.AuthHandler
	Admin         *handler.AdminHandler
	Metrics       *handler.MetricsHandler
}

// RouterOptions carries the cross-cutting collaborators of the router.
type RouterOptions struct {
	Env            string
	AllowedOrigins []string
	MaxUploadBytes int64
	Tokens         middleware.TokenValidator
	Metrics        *service.MetricsService
	Tracer         trace.Tracer
	Logger         *zap.Logger
}

// NewRouter builds the gin engine with every public, admin and operational route.
func NewRouter(opts RouterOptions, h Handlers) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := gin.New()
	if opts.MaxUploadBytes > 0 {
		// multipart overhead on top of the file itself
		r.MaxMultipartMemory = opts.MaxUploadBytes + 1<<20
	}
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	r.Use(middleware.Metrics(opts.Metrics))
	if opts.Tracer != nil {
		r.Use(middleware.Tracing(opts.Tracer))
	}

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if opts.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.POST("/register", h.Registrations.Register)
	r.POST("/payment", h.Registrations.AttachPayment)
	r.GET("/payment/:id/screenshot", h.Registrations.Screenshot)

	admin := r.Group("/api/admin")
	admin.POST("/login", h.Auth.Login)
	admin.POST("/register", h.Auth.Register)

	secured := admin.Group("")
	secured.Use(middleware.JWT(opts.Tokens))
	{
		secured.GET("/me", h.Auth.Me)
		secured.GET("/registrations", h.Admin.ListRegistrations)
		secured.GET("/registrations/export", h.Admin.ExportRegistrations)
		secured.POST("/approve/:id", h.Admin.Approve)
		secured.POST("/reject/:id", h.Admin.Reject)
		secured.POST("/registrations/:id/resend-confirmation", h.Admin.ResendConfirmation)
		secured.POST("/confirmations/verify", h.Admin.VerifyConfirmation)
	}

	return r
}
