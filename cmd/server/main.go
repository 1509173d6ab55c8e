package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/clock"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/lock"
	"github.com/maheshrc27/postflow/internal/notify"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/repository/memory"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/storage"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()
	setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store repository.Store
	var db *sqlx.DB
	if cfg.PostgresURI != "" {
		var err error
		db, err = repository.Open(ctx, cfg.PostgresURI)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		store = repository.NewStore(db)
	} else {
		slog.Warn("POSTGRES_URI not set, keeping posts in memory")
		store = memory.New()
	}

	httpClient := newHTTPClient()

	var uploader storage.Uploader
	var media publisher.MediaSource
	if cfg.R2.BucketName != "" {
		r2, err := storage.NewR2(ctx, cfg.R2, httpClient)
		if err != nil {
			log.Fatalf("Failed to configure R2: %v", err)
		}
		uploader, media = r2, r2
	} else {
		slog.Warn("R2 bucket not configured, keeping media in memory")
		m := storage.NewMemory()
		uploader, media = m, m
	}

	var notifier notify.Notifier = notify.NewLog(slog.Default())
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
		if err != nil {
			log.Fatalf("Failed to connect to kafka: %v", err)
		}
		defer kafka.Close()
		notifier = kafka
	}

	registry := publisher.NewRegistry(
		publisher.NewInstagram(httpClient, cfg.InstagramGraphURL),
		publisher.NewTiktok(httpClient, cfg.TiktokAPIURL),
		publisher.NewLinkedin(httpClient, cfg.LinkedinAPIURL),
		publisher.NewYoutube(media),
		publisher.NewTwitter(httpClient, cfg.TwitterAPIKey, cfg.TwitterAPISecret),
		publisher.NewReddit(cfg.RedditClientID, cfg.RedditClientSecret),
		publisher.NewMedium(),
	)

	clk := clock.Real{}

	var locker lock.Locker = lock.NewLocal()
	var redisClient *redis.Client
	if cfg.RedisURI != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
		defer redisClient.Close()
		locker = lock.NewRedis(redisClient, lockTTL(cfg))
	}

	uploadLogService := service.NewUploadLogService(store, clk, cfg.Policy())
	publishService := service.NewPublishService(*cfg, store, uploadLogService, registry, locker, notifier, clk)
	postService := service.NewPostService(store, uploader, registry, clk)

	dispatchQueue := queue.NewQueue(publishService)

	var dispatcher queue.Dispatcher
	var asynqServer *asynq.Server
	var local *queue.Local
	if redisClient != nil {
		redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
		client := asynq.NewClient(redisConn)
		defer client.Close()
		dispatcher = queue.NewAsynq(client, "publish")

		asynqServer = asynq.NewServer(redisConn, asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues:      map[string]int{"publish": 1},
		})
		slog.Info("starting the asynq server")
		if err := asynqServer.Start(queue.NewServeMux(dispatchQueue)); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	} else {
		local = queue.NewLocal(ctx, dispatchQueue, cfg.WorkerConcurrency)
		dispatcher = local
	}

	scheduler := job.NewScheduler(store.Posts(), publishService, dispatcher, clk, cfg.SchedulerInterval)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Could not start scheduler: %v", err)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error(err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "last_tick": scheduler.LastTick()})
	})

	authMiddleware := middleware.NewAuthMiddleware(*cfg)
	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(postService)
	api.Post("/posts", post.CreatePost)
	api.Get("/posts/:id/status", post.UploadStatus)

	attempts := handlers.NewAttemptHandler(publishService)
	api.Post("/attempts/:id/retry", attempts.Retry)

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	slog.Info("server is running", "addr", cfg.HTTPAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	scheduler.Stop()
	if err := app.Shutdown(); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}
	if asynqServer != nil {
		asynqServer.Shutdown()
	}
	if local != nil {
		local.Wait()
	}
	cancel()
	closeDB(db)
	slog.Info("server shutdown complete")
}

// newHTTPClient has no client timeout: each publish is bounded by its
// per-platform context deadline, and media streams can outlast the default.
func newHTTPClient() *http.Client {
	return &http.Client{}
}

// lockTTL covers the slowest publish call plus the commit.
func lockTTL(cfg *config.Config) time.Duration {
	longest := cfg.DefaultTimeout
	for _, d := range cfg.PublishTimeouts {
		longest = max(longest, d)
	}
	return longest + time.Minute
}

func closeDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
}
