package bootstrap

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	recoverer "github.com/gofiber/fiber/v2/middleware/recover"

	httpin "mail_worker/adapter/in/http"
	"mail_worker/config"
	"mail_worker/core/port/out"
	"mail_worker/core/service/account"
	"mail_worker/core/service/auth"
	"mail_worker/pkg/logger"
	"mail_worker/pkg/response"
)

// NewAPI builds the fiber app serving the tool and UI surfaces. The API
// process never talks to the worker fleet directly; mutations reach it
// through the event stream.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "mail-worker-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	var notifier out.SupervisorNotifier = out.NopSupervisorNotifier{}

	accountService := account.NewService(
		deps.AccountRepo, deps.ProcessedRepo, deps.Vault, deps.UserRegistry,
		deps.Events, notifier, deps.IngestService,
	)
	settingsService := account.NewSettingsService(deps.SettingsRepo, deps.Events)
	mailboxService := account.NewMailboxService(deps.AccountRepo, deps.IngestService)
	oauthService := auth.NewOAuthService(
		auth.OAuthConfig{
			GoogleClientID:     cfg.GoogleClientID,
			GoogleClientSecret: cfg.GoogleClientSecret,
			MicrosoftClientID:  cfg.MicrosoftClientID,
			MicrosoftTenantID:  cfg.MicrosoftTenantID,
		},
		deps.AccountRepo, deps.Vault, deps.UserRegistry,
		deps.Events, notifier, deps.EditStates,
	)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             1 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return response.FromError(c, err)
		},
	})

	app.Use(recoverer.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	httpin.NewHealthHandler(deps.DB, deps.Mongo, deps.Redis).Register(app)

	api := app.Group("/api/v1", httpin.JWTMiddleware(cfg.JWTSecret))
	httpin.NewAccountHandler(accountService).Register(api)
	httpin.NewMailboxHandler(mailboxService).Register(api)
	httpin.NewSettingsHandler(settingsService).Register(api)
	httpin.NewUIHandler(accountService, settingsService, deps.EditStates, oauthService).Register(api)

	return app, cleanup, nil
}
