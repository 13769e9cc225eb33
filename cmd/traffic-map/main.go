package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	httpapi "traffic-map/internal/api/http"
	"traffic-map/internal/config"
	"traffic-map/internal/scheduler"
	"traffic-map/internal/store"
	"traffic-map/internal/surface"
	"traffic-map/internal/traffic"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound surface calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// External map surface behind the one-time bootstrap gateway.
	remote := surface.NewRemoteSurface(httpClient, cfg.SurfaceBaseURL)
	gateway := surface.NewGateway(remote, surface.InitConfig{
		APIKey:      cfg.MapAPIKey,
		CenterLat:   cfg.CenterLat,
		CenterLng:   cfg.CenterLng,
		DefaultZoom: cfg.DefaultZoom,
	}, cfg.BootstrapTimeout)

	// In-memory store with configured report retention.
	memStore := store.NewMemoryStore(cfg.UploadHistoryLimit)

	// Core service orchestrating validation, reconciliation and overlays.
	service := traffic.NewService(gateway, memStore)

	// Initial dataset, best effort; the map simply starts empty otherwise.
	if cfg.DatasetPath != "" {
		if raw, err := os.ReadFile(cfg.DatasetPath); err != nil {
			log.Printf("startup: dataset %s not loaded: %v", cfg.DatasetPath, err)
		} else if report, err := service.ReplaceDataset(context.Background(), raw, "startup"); err != nil {
			log.Printf("startup: dataset %s not applied: %v", cfg.DatasetPath, err)
		} else {
			log.Printf("startup: dataset loaded with %d locations", report.Locations)
		}
	}

	// Scheduler that re-reads the dataset file when it changes.
	sched := scheduler.New(cfg.DatasetPath, cfg.RefreshInterval, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "traffic-map",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "traffic-map",
			"surface": gateway.State().String(),
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
