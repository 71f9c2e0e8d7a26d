package routes

import (
	"log"
	"net/http"
	"strconv"

	"tutifruti/handlers"
	"tutifruti/middleware"
	"tutifruti/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	partyHandler *handlers.PartyHandler,
	hub *services.Hub,
	partyService *services.PartyService,
	jwtSecret string,
) {
	// API routes
	api := router.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(jwtSecret))
		{
			// User profile
			protected.GET("/auth/profile", authHandler.GetProfile)

			// Party routes
			parties := protected.Group("/parties")
			{
				parties.GET("", partyHandler.ListParties)
				parties.POST("", partyHandler.CreateParty)
				parties.GET("/:id", partyHandler.GetParty)
				parties.GET("/:id/answers/:username", partyHandler.GetPartyAnswers)
			}
		}
	}

	// WebSocket endpoint: one duplex connection per player per party.
	// Browsers cannot set headers on websocket upgrades, so the JWT
	// travels as a query parameter.
	router.GET("/ws/party/:id", func(c *gin.Context) {
		partyID, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid party ID"})
			return
		}

		token := c.Query("token")
		userID, username, err := middleware.ParseToken(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		// The party must exist before the connection joins it
		if _, err := partyService.GetParty(c.Request.Context(), uint(partyID)); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Party not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed for party %d, user %d: %v", partyID, userID, err)
			return
		}

		log.Printf("WebSocket connection established for party %d, user %d (%s)", partyID, userID, username)
		hub.RegisterClient(conn, uint(partyID), userID, username)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
