package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/foxxcyber/roomscan/internal/config"
	"github.com/foxxcyber/roomscan/internal/database"
	"github.com/foxxcyber/roomscan/internal/handlers"
	"github.com/foxxcyber/roomscan/internal/middleware"
	"github.com/foxxcyber/roomscan/internal/services"
)

// staleAfter is how old a PROCESSING session must be before startup reports it.
const staleAfter = 15 * time.Minute

func main() {
	// Load .env file if it exists
	godotenv.Load()

	// Load configuration
	cfg, err := config.LoadWithOverlay()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	pipelineLogger := newPipelineLogger(cfg)

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	reportStaleSessions(db)

	provider := newVisionProvider(cfg, pipelineLogger)
	archiver := newArchiver(cfg)

	scanService := services.NewRoomScanService(
		db, db, db,
		provider,
		services.NewUsageGovernor(db, services.UsageLimits{
			UserDaily:     cfg.QuotaUserDaily,
			PropertyDaily: cfg.QuotaPropertyDaily,
			Bypass:        cfg.QuotaBypass,
		}),
		services.NewImagePreprocessor(cfg.ImageMaxWidth, cfg.ImageJPEGQuality, cfg.MaxImageBytes),
		services.RoomScanConfig{
			ProviderName:    cfg.VisionProvider,
			MatchDuplicates: cfg.DuplicateMatchEnabled,
			Archiver:        archiver,
			Logger:          pipelineLogger,
		},
	)

	if cfg.QuotaBypass {
		log.Println("Warning: scan quotas are bypassed")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    bodyLimit(cfg),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	h := handlers.New(cfg, scanService, validator.New())
	handlers.RegisterRoutes(app, h, middleware.AuthRequired(cfg))

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	log.Printf("Server starting on port %s (provider=%s, archive=%t)", port, cfg.VisionProvider, archiver != nil)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func newPipelineLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newVisionProvider(cfg *config.Config, logger *slog.Logger) services.VisionProvider {
	var inner services.VisionProvider
	switch cfg.VisionProvider {
	case config.ProviderOpenAI:
		inner = services.NewOpenAIVisionProvider(services.OpenAIVisionConfig{
			APIKey:  cfg.VisionAPIKey,
			BaseURL: cfg.VisionBaseURL,
			Models:  cfg.ModelCandidates(),
			Timeout: cfg.VisionTimeout,
		}, &http.Client{Timeout: cfg.VisionTimeout}, logger)
		log.Printf("Vision provider: %s (models %v)", cfg.VisionProvider, cfg.ModelCandidates())
	default:
		inner = services.NewStubVisionProvider()
		log.Println("Vision provider: deterministic stub")
	}

	retrier := services.NewRetrier(services.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      250 * time.Millisecond,
	}, services.WithRetryLogger(logger))
	return services.NewRetryingProvider(inner, retrier)
}

// newArchiver returns nil when archival is disabled or cannot be set up;
// scans run without it.
func newArchiver(cfg *config.Config) services.Archiver {
	if !cfg.ArchiveEnabled {
		log.Println("Scan image archival is disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch cfg.ArchiveBackend {
	case config.ArchiveBackendS3:
		archiver, err := services.NewS3Archiver(ctx, services.S3ArchiverConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.ArchiveBucket,
			Region:    cfg.S3Region,
		})
		if err != nil {
			log.Printf("Warning: Failed to initialize S3 archiver: %v", err)
			return nil
		}
		log.Printf("Scan image archival: s3 bucket %s", cfg.ArchiveBucket)
		return archiver
	default:
		if cfg.S3Endpoint == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			log.Println("S3 credentials not configured, scan image archival disabled")
			return nil
		}
		archiver, err := services.NewMinioArchiver(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.ArchiveBucket, cfg.S3Region, cfg.S3UseSSL)
		if err != nil {
			log.Printf("Warning: Failed to initialize storage service: %v", err)
			return nil
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Printf("Warning: Failed to ensure S3 bucket exists: %v", err)
		}
		log.Printf("Scan image archival: minio bucket %s", archiver.BucketName())
		return archiver
	}
}

// reportStaleSessions logs sessions a previous process left PROCESSING.
// Reconciling them is left to an operator.
func reportStaleSessions(db *database.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids, err := db.ListStaleScanSessions(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		log.Printf("Warning: Failed to list stale scan sessions: %v", err)
		return
	}
	if len(ids) > 0 {
		log.Printf("Warning: %d scan session(s) still PROCESSING from a previous run: %v", len(ids), ids)
	}
}

func bodyLimit(cfg *config.Config) int {
	const slack = 1 << 20
	limit := int64(cfg.MaxImagesPerScan)*cfg.MaxImageBytes + slack
	if limit < 4*1024*1024 {
		return 4 * 1024 * 1024
	}
	return int(limit)
}
