package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/agentsaas/tokenledger/internal/account"
	"github.com/agentsaas/tokenledger/internal/auth"
	"github.com/agentsaas/tokenledger/internal/config"
	"github.com/agentsaas/tokenledger/internal/ledger"
	"github.com/agentsaas/tokenledger/internal/middleware"
	"github.com/agentsaas/tokenledger/internal/notification"
	"github.com/agentsaas/tokenledger/internal/purchase"
	"github.com/agentsaas/tokenledger/internal/usage"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Ledger   ledger.Ledger
	Notifier notification.Notifier
	// AccessLog enables fiber's plain-text access line on stdout.
	AccessLog bool
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Ledger == nil {
		return fmt.Errorf("ledger is required")
	}
	if d.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	// Enforce Redis and the service key outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cfg.ServiceKeyHash == "" {
			return fmt.Errorf("service key hash is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.AccessLog {
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	accountSvc := account.NewService(d.Ledger, d.Logger)
	usageSvc := usage.NewService(d.Ledger, d.Notifier, d.Logger)
	purchaseSvc := purchase.NewService(d.Ledger, d.Notifier, d.Logger)
	authSvc := auth.NewService(d.Cfg)

	accountHandler := account.NewHandler(accountSvc)
	usageHandler := usage.NewHandler(usageSvc)
	purchaseHandler := purchase.NewHandler(purchaseSvc)
	authHandler := auth.NewHandler(authSvc, d.Ledger)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.GetRequestID(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Backend-only routes
	var internal fiber.Router
	if d.Cfg.ServiceKeyHash != "" {
		internal = api.Group("/internal", middleware.ServiceKey(d.Cfg.ServiceKeyHash))
	} else {
		d.Logger.Warn("SERVICE_KEY_HASH not set; internal routes are unauthenticated (development only)")
		internal = api.Group("/internal")
	}
	if d.Cache != nil {
		internal.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterAccountAdminRoutes(internal, accountHandler)
	RegisterUsageRoutes(internal, usageHandler, middleware.AccountRateLimit(d.Cache, d.Cfg.DebitRateLimitPerMinute, d.Logger))
	RegisterPurchaseRoutes(internal, purchaseHandler)
	RegisterTokenRoutes(internal, authHandler)

	// End-user routes, scoped to the account named in the bearer token
	RegisterAccountReadRoutes(api, accountHandler, middleware.AccountOwner(authSvc))

	return nil
}
