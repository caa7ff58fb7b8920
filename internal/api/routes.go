package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func SetupRoutes(app *fiber.App, handler *Handler, log *zap.Logger) {
	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} ${pid} ${locals:requestid} ${status} - ${method} ${path}\n",
		TimeFormat: time.RFC3339,
	}))

	// Prometheus scrape endpoint
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API v1 routes
	api := app.Group("/api/v1")

	api.Get("/health", handler.GetHealth)

	// Weather routes
	weather := api.Group("/weather")
	weather.Get("/logs", handler.GetLogs)
	weather.Get("/insights", handler.GetInsights)
	weather.Post("/insights/generate", handler.GenerateInsights)
	weather.Get("/export/:format", handler.Export)

	// Location administration
	locations := api.Group("/locations")
	locations.Get("/", handler.GetLocations)
	locations.Post("/", handler.UpsertLocation)
	locations.Delete("/:id", handler.DeleteLocation)
	locations.Post("/:id/collect", handler.CollectLocation)

	api.Get("/scheduler/status", handler.GetSchedulerStatus)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Endpoint not found",
			"path":  c.Path(),
		})
	})

	log.Info("Routes registered", zap.Int("handlers", int(app.HandlersCount())))
}
