package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"switch_server/adapter/in/http"
	"switch_server/config"
	"switch_server/pkg/logger"
)

// NewAPI builds the fiber app on top of an already wired dependency graph.
func NewAPI(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
	}))

	healthHandler := http.NewHealthHandler(deps.Redis, deps.Scheduler)
	healthHandler.Register(app)

	api := app.Group("/api/v1")

	oauthHandler := http.NewOAuthHandler(deps.OAuthService)
	oauthHandler.Register(api)

	switchHandler := http.NewSwitchHandler(deps.Registry, deps.Scheduler)
	switchHandler.Register(api)

	logger.Info("API server initialized successfully")
	return app
}
