package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/auth"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/sweeper"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

const serviceName = "messaging-service"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), serviceName, os.Getenv("OTLP_ENDPOINT"))
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(os.Getenv("AMQP_URL"), getEnv("AMQP_EXCHANGE", "quit_tracker_events"))
	defer publisher.Close()
	observability.SetPublisher(publisher)
	emitter := telemetry.NewAuditEmitter(publisher, "audit_log.messaging", serviceName, getEnv("ENVIRONMENT", "development"))

	verifier := auth.NewJWTVerifier(getEnv("JWT_SECRET", "dev-secret"))

	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)
	marathonRepo := repositories.NewMarathonRepo(database)

	registry := presence.NewRegistry()
	hub := ws.NewHub()

	conversationHandler := handlers.NewConversationHandler(convRepo, messageRepo, userRepo, registry, emitter)
	sessionHandler := ws.NewSessionHandler(hub, convRepo, messageRepo, registry, verifier)

	marathonSweeper := sweeper.New(marathonRepo, sweepInterval(), emitter)
	adminHandler := handlers.NewAdminHandler(marathonSweeper)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go marathonSweeper.Run(sweepCtx)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.POST("/conversations", authMiddleware, conversationHandler.CreateConversation)
	router.GET("/conversations/:conversation_id", authMiddleware, conversationHandler.GetConversation)
	router.PUT("/conversations/:conversation_id/read", authMiddleware, conversationHandler.MarkRead)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.GetMessages)
	router.GET("/search-users", authMiddleware, conversationHandler.SearchUsers)

	router.POST("/admin/marathons/sweep", authMiddleware, middleware.RequireAdmin(), adminHandler.RunMarathonSweep)

	router.GET("/ws", sessionHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, emitter, os.Getenv("DEBUG_ROUTES") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func sweepInterval() time.Duration {
	raw := os.Getenv("MARATHON_SWEEP_INTERVAL")
	if raw == "" {
		return sweeper.DefaultInterval
	}
	interval, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid MARATHON_SWEEP_INTERVAL %q, using default: %v", raw, err)
		return sweeper.DefaultInterval
	}
	return interval
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
