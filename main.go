package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/kenn289/oryn-alert-hub-sub003/app/controllers"
	"github.com/kenn289/oryn-alert-hub-sub003/app/repository"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/cache"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/database"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/env"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/jobqueue"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/payments"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/ratelimit"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/risk"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	// Graceful shutdown: stop taking requests, then drain the job queue.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		log.Println("shutting down")
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	manager.Stop()
	if err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires the full service: storage, cache, payment engine,
// HTTP surface and the background job queue.
func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	// Payment engine
	gateway := payments.NewGatewayClientFromEnv()
	lifecycle := payments.NewLifecycle(repos.Subscription, repos.User, nil)
	fsm := payments.NewStateMachine(repos.Order, lifecycle, nil)
	scorer := risk.NewScorer(repos.SecurityEvent)
	issuer := payments.NewIssuer(repos.Order, gateway)
	ingestor := payments.NewIngestor(repos.WebhookEvent, repos.Order, gateway, fsm, scorer, env.GetEnv("GATEWAY_WEBHOOK_SECRET", ""))
	guard := ratelimit.NewGuardFromEnv()

	paymentController := controllers.NewPaymentController(
		issuer, fsm, ingestor, scorer, guard, repos, env.GetEnv("GATEWAY_KEY_SECRET", ""))
	adminController := controllers.NewAdminPaymentController(lifecycle)

	manager := jobqueue.InitManager(&jobqueue.ProcessorDeps{
		Orders:    repos.Order,
		Events:    repos.WebhookEvent,
		Gateway:   gateway,
		FSM:       fsm,
		Ingestor:  ingestor,
		Lifecycle: lifecycle,
	})

	app := fiber.New(fiber.Config{
		AppName: "oryn-alert-hub",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.NewApiRouter(paymentController, adminController))

	return app, manager
}
