package main

import (
	"context"
	"log"

	"tutifruti/config"
	"tutifruti/handlers"
	"tutifruti/models"
	"tutifruti/routes"
	"tutifruti/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database models
	err = db.AutoMigrate(
		&models.User{},
		&models.Party{},
		&models.Round{},
		&models.Answer{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis and the channel layer on top of it
	redisClient := config.InitRedis(cfg)
	channels := services.NewRedisChannelLayer(redisClient)

	// Initialize services
	authService := services.NewAuthService(db, cfg.JWTSecret)
	partyService := services.NewPartyService(db)

	// Initialize WebSocket hub
	hub := services.NewHub(partyService, channels)
	go hub.Run()

	// Initialize the party session manager and recover parties that were
	// interrupted by a crash or restart
	ctx := context.Background()
	sessionManager := services.NewSessionManager(partyService, channels, hub, services.DefaultSessionConfig())
	if err := sessionManager.RecoverInterrupted(ctx); err != nil {
		log.Printf("Failed to recover interrupted parties: %v", err)
	}
	go sessionManager.Run(ctx)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	partyHandler := handlers.NewPartyHandler(partyService, authService)

	// Setup Gin router
	router := gin.Default()

	// Add CORS middleware
	router.Use(cors.Default())

	// Setup routes
	routes.SetupRoutes(router, authHandler, partyHandler, hub, partyService, cfg.JWTSecret)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(cfg.BindAddress + ":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
