package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
	apiv1 "github.com/ManuelReschke/BillFox/internal/api/v1"
	"github.com/ManuelReschke/BillFox/internal/pkg/alerts"
	"github.com/ManuelReschke/BillFox/internal/pkg/archive"
	"github.com/ManuelReschke/BillFox/internal/pkg/billing"
	"github.com/ManuelReschke/BillFox/internal/pkg/cache"
	"github.com/ManuelReschke/BillFox/internal/pkg/database"
	"github.com/ManuelReschke/BillFox/internal/pkg/env"
	"github.com/ManuelReschke/BillFox/internal/pkg/health"
	"github.com/ManuelReschke/BillFox/internal/pkg/mail"
	"github.com/ManuelReschke/BillFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/BillFox/internal/pkg/provider"
	"github.com/ManuelReschke/BillFox/internal/pkg/retryqueue"
	"github.com/ManuelReschke/BillFox/internal/pkg/router"
	"github.com/ManuelReschke/BillFox/internal/pkg/scheduler"
	"github.com/ManuelReschke/BillFox/internal/pkg/syncer"
)

func main() {
	app, manager, err := NewApplication()
	if err != nil {
		log.Fatal(err)
	}

	manager.Start()

	// graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		manager.Stop()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		manager.Stop()
		log.Fatal(err)
	}
}

// NewApplication wires the full service: ledger store, Redis counters,
// provider client, billing service, retry queue, sync coordinator, health
// monitor, scheduler and the HTTP API.
func NewApplication() (*fiber.App, *scheduler.Manager, error) {
	env.SetupEnvFile()

	db, err := database.Setup()
	if err != nil {
		return nil, nil, fmt.Errorf("database setup: %w", err)
	}

	cacheCfg := cache.ConfigFromEnv()
	redisClient := cache.New(cacheCfg)
	counters := counter.New(redisClient)

	repos := repository.NewRepositories(db)

	if err := ensureAdminAccount(repos.User); err != nil {
		return nil, nil, fmt.Errorf("seed admin account: %w", err)
	}

	mailer := mail.NewMailerFromEnv()
	notifier := alerts.NewMailNotifier(mailer, repos.User, repos.RetryQueue)

	providerClient := provider.NewClientFromEnv()
	billingSvc := billing.NewService(repos.User, repos.BillingEvent, repos.WebhookDelivery, billing.DefaultPlanMap(), counters)

	processor := retryqueue.NewProcessor(repos.RetryQueue, counters)
	processor.RegisterHandler(models.RetryOpSendEmail, retryqueue.NewSendEmailHandler(mailer))
	processor.RegisterHandler(models.RetryOpProcessWebhook, retryqueue.NewProcessWebhookHandler(billingSvc, repos.BillingEvent, repos.WebhookDelivery))
	processor.RegisterHandler(models.RetryOpUpdateRecord, retryqueue.NewUpdateRecordHandler(repos.User))

	monitorSvc := health.NewMonitor(
		health.ConfigFromEnv(),
		repos.BillingEvent,
		repos.WebhookDelivery,
		repos.User,
		providerClient,
		notifier,
	)

	coordinator := syncer.NewCoordinator(
		syncer.ConfigFromEnv(),
		repos.User,
		repos.SyncReport,
		repos.RetryQueue,
		billingSvc,
		providerClient,
		notifier,
		monitorSvc,
		counters,
	)

	var archiver scheduler.ReportArchiver
	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("archive config: %w", err)
	}
	if archiveCfg.IsEnabled() {
		client, err := archive.NewClient(archiveCfg, repos.SyncReport)
		if err != nil {
			return nil, nil, fmt.Errorf("archive client: %w", err)
		}
		archiver = client
	}

	manager := scheduler.NewManager(
		scheduler.ConfigFromEnv(),
		coordinator,
		processor,
		monitorSvc,
		archiver,
	)

	apiServer := apiv1.NewAPIServer(
		billingSvc,
		coordinator,
		monitorSvc,
		processor,
		repos.RetryQueue,
		repos.SyncReport,
		repos.AdminAction,
		counters,
		env.GetEnv("BILLING_WEBHOOK_SECRET", ""),
	)

	app := fiber.New(fiber.Config{
		AppName: "BillFox",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_API_USER", "admin"): env.GetEnv("ADMIN_API_PASSWORD", "secret"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app, router.NewApiRouter(apiServer, repos.User, cacheCfg))

	return app, manager, nil
}

// ensureAdminAccount seeds (or re-keys) the operator account named by
// ADMIN_EMAIL so admin API credentials live in the ledger instead of only
// in the environment. Without ADMIN_PASSWORD a one-time password is
// generated and printed on first boot. A no-op when ADMIN_EMAIL is unset.
func ensureAdminAccount(users repository.UserRepository) error {
	email := env.GetEnv("ADMIN_EMAIL", "")
	if email == "" {
		return nil
	}
	password := env.GetEnv("ADMIN_PASSWORD", "")

	existing, err := users.GetByEmail(email)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if password == "" {
			token, terr := models.GenerateToken()
			if terr != nil {
				return terr
			}
			password = token
			log.Printf("Generated one-time admin password for %s: %s", email, password)
		}
		admin, cerr := models.CreateUser(env.GetEnv("ADMIN_NAME", "Operator"), email, password)
		if cerr != nil {
			return cerr
		}
		admin.Role = models.ROLE_ADMIN
		admin.Status = models.STATUS_ACTIVE
		return users.Create(admin)
	}

	if password != "" && !existing.CheckPassword(password) {
		if err := existing.SetPassword(password); err != nil {
			return err
		}
		return users.Update(existing)
	}
	return nil
}
