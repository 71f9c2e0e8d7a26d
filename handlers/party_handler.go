package handlers

import (
	"net/http"
	"strconv"

	"tutifruti/services"

	"github.com/gin-gonic/gin"
)

type PartyHandler struct {
	partyService *services.PartyService
	authService  *services.AuthService
}

func NewPartyHandler(partyService *services.PartyService, authService *services.AuthService) *PartyHandler {
	return &PartyHandler{
		partyService: partyService,
		authService:  authService,
	}
}

func (h *PartyHandler) CreateParty(c *gin.Context) {
	var req services.CreatePartyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	party, err := h.partyService.CreateParty(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, party)
}

// ListParties returns every party the user can enter: open parties plus
// closed ones the user played in.
func (h *PartyHandler) ListParties(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	parties, err := h.partyService.AvailableParties(userID.(uint))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, parties)
}

// GetParty returns the party detail: configuration, joined players, the
// current round if any, the scoreboard and the requesting user's answer
// history.
func (h *PartyHandler) GetParty(c *gin.Context) {
	partyID, err := parsePartyID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid party ID"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx := c.Request.Context()
	party, err := h.partyService.GetParty(ctx, partyID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Party not found"})
		return
	}

	scores, err := h.partyService.PlayersScores(ctx, partyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	rounds, err := h.partyService.AnswersForUser(ctx, partyID, userID.(uint))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	response := gin.H{
		"party":  party,
		"scores": scores,
		"rounds": rounds,
	}

	// The current round only matters while the party runs
	if party.IsStarted() && party.IsOpen() {
		if round, err := h.partyService.CurrentRound(ctx, partyID); err == nil {
			response["current_round"] = round
		}
	}

	c.JSON(http.StatusOK, response)
}

// GetPartyAnswers returns another player's answer history in the party,
// for the per-user answers modal.
func (h *PartyHandler) GetPartyAnswers(c *gin.Context) {
	partyID, err := parsePartyID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid party ID"})
		return
	}

	username := c.Param("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username required"})
		return
	}

	user, err := h.authService.GetProfileByUsername(username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	rounds, err := h.partyService.AnswersForUser(c.Request.Context(), partyID, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"username": user.Username, "rounds": rounds})
}

func parsePartyID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}
