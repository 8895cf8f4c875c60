package main

import (
	"log"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/request-queue-system/internal/auth"
	"github.com/request-queue-system/internal/catalog"
	"github.com/request-queue-system/internal/event"
	"github.com/request-queue-system/internal/guest"
	"github.com/request-queue-system/internal/notify"
	"github.com/request-queue-system/internal/queue"
	"github.com/request-queue-system/internal/ws"
	"github.com/request-queue-system/pkg/config"
	"github.com/request-queue-system/pkg/database"
	"github.com/request-queue-system/pkg/events"
	"github.com/request-queue-system/pkg/redis"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize MySQL database
	db, err := database.NewMySQLDB(
		cfg.MySQLHost,
		cfg.MySQLPort,
		cfg.MySQLUser,
		cfg.MySQLPassword,
		cfg.MySQLDatabase,
	)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisHost + ":" + cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	// Kafka mirror for external change consumers; optional in development.
	var sink notify.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient := events.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaClient.Close()
		sink = kafkaClient
	}

	notifier := notify.New(sink)
	defer notifier.Close()

	// Initialize services
	cooldowns := redis.NewCooldownStore(redisClient)
	eventService := event.NewService(db, redisClient)
	guestService := guest.NewService(db)
	queueService := queue.NewService(db, cooldowns, eventService, notifier)
	catalogClient := catalog.NewClient(cfg.CatalogClientID, cfg.CatalogClientSecret)

	// Initialize handlers
	eventHandler := event.NewHandler(eventService, cfg.JWTSecret)
	guestHandler := guest.NewHandler(guestService)
	queueHandler := queue.NewHandler(queueService, guestService)
	catalogHandler := catalog.NewHandler(catalogClient)
	wsHandler := ws.NewHandler(notifier)

	// Initialize Gin router
	router := gin.Default()

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Guest-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	v1 := router.Group("/api/v1")

	// Public routes: guests join, submit, and watch the queue.
	eventHandler.RegisterPublicRoutes(v1)
	guestHandler.RegisterRoutes(v1)
	queueHandler.RegisterPublicRoutes(v1)
	catalogHandler.RegisterRoutes(v1)
	v1.GET("/events/:id/ws", wsHandler.HandleWebSocket)

	// Operator routes: triage, reorder, configure.
	operator := v1.Group("/")
	operator.Use(auth.OperatorAuth(cfg.JWTSecret))
	{
		eventHandler.RegisterOperatorRoutes(operator)
		queueHandler.RegisterOperatorRoutes(operator)
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
