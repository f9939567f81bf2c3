package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/kenn289/oryn-alert-hub-sub003/app/controllers"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/cache"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/constants"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/env"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/middleware"
)

type ApiRouter struct {
	payments *controllers.PaymentController
	admin    *controllers.AdminPaymentController
}

func NewApiRouter(payments *controllers.PaymentController, admin *controllers.AdminPaymentController) *ApiRouter {
	return &ApiRouter{payments: payments, admin: admin}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("HTTP_RATE_LIMIT_MAX", 120),
		Expiration: env.GetEnvSeconds("HTTP_RATE_LIMIT_WINDOW_SECONDS", time.Minute),
		Storage:    newLimiterStorage(),
	}))

	v1 := api.Group("/v1")
	v1.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
	})
	v1.Get("/plans", controllers.HandleGetPlans)

	// Webhook is authenticated by its signature, not by API key.
	v1.Post(constants.PaymentWebhookRoute, h.payments.HandleWebhook)

	authed := v1.Group("", middleware.APIKeyAuthMiddleware(), middleware.RequireAuth)
	authed.Get("/user/account", controllers.HandleGetUserAccount)
	authed.Get(constants.SubscriptionRoute, h.payments.HandleGetSubscription)
	authed.Post(constants.PaymentOrdersRoute, h.payments.HandleCreateOrder)
	authed.Post(constants.PaymentVerifyRoute, h.payments.HandleVerifyPayment)

	admin := v1.Group("/admin", middleware.APIKeyAuthMiddleware(), middleware.RequireAdmin)
	admin.Post("/subscriptions/expire-sweep", h.admin.HandleExpireSweep)
	admin.Post("/payments/reconcile", h.admin.HandleReconcileEnqueue)
	admin.Get("/jobs/stats", h.admin.HandleJobStats)
}

// newLimiterStorage backs the HTTP limiter with redis so limits hold across
// instances. Reuses the cache client's connection settings, database 1.
func newLimiterStorage() *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
