package app

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"

	"certforge/internal/handlers"
	u "certforge/internal/utils"
)

// SetupApp creates and configures a new Fiber app instance.
func SetupApp(cfg u.Config, redis *redis.Client) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			u.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

			return c.Status(code).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    code,
					"message": msg,
				},
			})
		},
	})

	RegisterMiddleware(app, cfg)
	if err := RegisterRoutes(app, cfg, redis); err != nil {
		return nil, err
	}

	// Ensure all responses, including 404s, return JSON.
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app, nil
}

// RegisterRoutes mounts all route handlers to the app.
func RegisterRoutes(app *fiber.App, cfg u.Config, redis *redis.Client) error {
	v1 := app.Group("/v1")

	// One shared service so all routes use the same Chrome pool.
	svc, err := handlers.NewCertificateService(cfg, redis)
	if err != nil {
		return err
	}

	v1.Post("/certificates", svc.HandleIssue)
	v1.Post("/certificates/preview", svc.HandlePreview)
	v1.Get("/chrome/stats", svc.HandleChromeStats)

	v1.Get("/monitor", monitor.New())
	return nil
}
