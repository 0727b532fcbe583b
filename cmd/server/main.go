package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stemmix/api/internal/client"
	"github.com/stemmix/api/internal/config"
	"github.com/stemmix/api/internal/device"
	"github.com/stemmix/api/internal/handler"
	"github.com/stemmix/api/internal/middleware"
	"github.com/stemmix/api/internal/pipeline"
	"github.com/stemmix/api/internal/separator"
	"github.com/stemmix/api/internal/service"
	"github.com/stemmix/api/internal/store"
	"github.com/stemmix/api/internal/stream"
	"github.com/stemmix/api/internal/syncer"
	"github.com/stemmix/api/internal/worker"
	ws "github.com/stemmix/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize storage
	st, err := store.NewStore(cfg.Storage.DataDir, cfg.Storage.QuotaBytes)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// Initialize external clients
	fetcherClient := client.NewFetcherClient(&cfg.Fetcher)
	encoderClient := client.NewEncoderClient(&cfg.Encoder)

	// Initialize R2 client (optional - continues if not configured)
	var r2Client *client.R2Client
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		var err error
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		}
	} else {
		log.Println("Info: R2 storage not configured, exports stay local")
	}

	// Select separation engine
	var engine separator.Engine
	if cfg.Separator.Engine == "demucs" {
		engine = separator.NewDemucsEngine(&cfg.Separator)
	} else {
		engine = separator.NewHTTPEngine(&cfg.Separator)
	}

	// Live mix plumbing
	broadcaster := stream.NewBroadcaster()
	syncController := syncer.NewController(
		time.Duration(cfg.Sync.IntervalMs)*time.Millisecond,
		time.Duration(cfg.Sync.ThresholdMs)*time.Millisecond,
		time.Duration(cfg.Sync.StaleMs)*time.Millisecond,
	)

	// Hardware monitoring output (optional)
	if cfg.Monitor.Enabled {
		monitor, err := device.NewMonitor(broadcaster)
		if err != nil {
			log.Printf("Warning: monitor output not available: %v", err)
		} else {
			defer monitor.Close()
		}
	}

	// Initialize services
	registry := pipeline.NewRegistry()
	uploadDir := filepath.Join(cfg.Storage.DataDir, "uploads")
	exportDir := filepath.Join(cfg.Storage.DataDir, "exports")

	jobService := service.NewJobService(redisClient, asynqClient, registry, uploadDir)
	songService := service.NewSongService(st)
	mixerService := service.NewMixerService(st, broadcaster, syncController)

	var storageClient client.StorageClient
	if r2Client != nil {
		storageClient = r2Client
	}
	var encoder client.MediaEncoder
	if encoderClient.IsConfigured() {
		encoder = encoderClient
	}
	exportService := service.NewExportService(st, storageClient, encoder, exportDir)

	// Initialize handlers
	songHandler := handler.NewSongHandler(songService, jobService, validate)
	jobHandler := handler.NewJobHandler(jobService)
	mixerHandler := handler.NewMixerHandler(mixerService, validate)
	syncHandler := handler.NewSyncHandler(mixerService, validate)
	exportHandler := handler.NewExportHandler(exportService, validate)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    250 * 1024 * 1024, // uploads carry whole WAV containers
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"engine":  string(engine.State()),
				"fetcher": fetcherClient.IsConfigured(),
				"encoder": encoderClient.IsConfigured(),
				"r2":      r2Client != nil,
			},
		})
	})

	// Locally produced exports when R2 is absent
	app.Static("/exports", exportDir)

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Song routes
	songs := api.Group("/songs")
	songs.Post("/upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), songHandler.Upload)
	songs.Post("/remote", rateLimiter.RemoteLimit(cfg.RateLimit.RemotePerHour), songHandler.Remote)
	songs.Get("/", songHandler.List)
	songs.Get("/:id", songHandler.Get)
	songs.Patch("/:id", songHandler.Rename)
	songs.Delete("/:id", songHandler.Delete)
	api.Get("/storage", songHandler.Storage)

	// Job routes
	jobs := api.Group("/jobs")
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	// Mixer routes
	mixerGroup := api.Group("/mixer", rateLimiter.MixerLimit(cfg.RateLimit.MixerPerMin))
	mixerGroup.Post("/load", mixerHandler.Load)
	mixerGroup.Post("/unload", mixerHandler.Unload)
	mixerGroup.Get("/", mixerHandler.State)
	mixerGroup.Put("/tracks/:stem", mixerHandler.UpdateTrack)
	mixerGroup.Put("/pitch", mixerHandler.Pitch)
	mixerGroup.Put("/master", mixerHandler.Master)
	mixerGroup.Post("/transport", mixerHandler.Transport)

	// Sync routes
	syncGroup := api.Group("/sync")
	syncGroup.Post("/bind", syncHandler.Bind)
	syncGroup.Post("/unbind", syncHandler.Unbind)
	syncGroup.Post("/clock", syncHandler.Clock)
	syncGroup.Get("/", syncHandler.State)

	// Export route
	api.Post("/export", rateLimiter.ExportLimit(cfg.RateLimit.ExportPerHour), exportHandler.Export)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Live mix preview
	if cfg.Stream.Enabled {
		app.Get("/stream/mix", adaptor.HTTPHandler(stream.NewHTTPHandler(broadcaster)))
		app.Post("/offer", adaptor.HTTPHandler(stream.NewWebRTCHandler(broadcaster)))
	}

	// Start Asynq worker server
	go startWorkerServer(cfg, jobService, registry, fetcherClient, engine, st, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		mixerService.Unload()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	jobService *service.JobService,
	registry *pipeline.Registry,
	fetcher client.MediaFetcher,
	engine separator.Engine,
	st *store.Store,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			// Separation saturates one machine; more would thrash.
			Concurrency: 1,
			Queues: map[string]int{
				"pipeline": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	pipelineWorker := worker.NewPipelineWorker(jobService, registry, fetcher, engine, st, hub)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeProcess, pipelineWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
