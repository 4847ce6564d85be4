package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/channelchat-server/internal/auth"
	"github.com/vovakirdan/channelchat-server/internal/store"
)

// AdminHandlers provides moderation endpoints. All routes require an admin.
type AdminHandlers struct {
	store       store.Store
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAdminHandlers creates a new admin handlers instance.
func NewAdminHandlers(st store.Store, authService *auth.Service, logger *zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{
		store:       st,
		authService: authService,
		log:         logger,
	}
}

// ActivationCodeResponse represents an activation code in API responses.
type ActivationCodeResponse struct {
	Code      string `json:"code"`
	IsUsed    bool   `json:"isUsed"`
	CreatedBy string `json:"createdBy"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
}

func codeResponse(code *store.ActivationCode) ActivationCodeResponse {
	return ActivationCodeResponse{
		Code:      code.Code,
		IsUsed:    code.IsUsed,
		CreatedBy: code.CreatedBy,
		CreatedAt: code.CreatedAt.Format(time.RFC3339),
		ExpiresAt: code.ExpiresAt().Format(time.RFC3339),
	}
}

// CreateCode issues a new activation code.
// POST /api/admin/codes
func (h *AdminHandlers) CreateCode(c *gin.Context) {
	admin, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	code, err := h.authService.IssueActivationCode(c.Request.Context(), admin.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to issue activation code")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("by", admin.ID).Msg("activation code issued")
	c.JSON(http.StatusCreated, codeResponse(code))
}

// ListCodes lists all activation codes, newest first.
// GET /api/admin/codes
func (h *AdminHandlers) ListCodes(c *gin.Context) {
	codes, err := h.store.ListActivationCodes(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list activation codes")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	response := make([]ActivationCodeResponse, 0, len(codes))
	for _, code := range codes {
		response = append(response, codeResponse(code))
	}
	c.JSON(http.StatusOK, response)
}

// BanChannel handles POST /api/admin/channels/:channelId/ban.
func (h *AdminHandlers) BanChannel(c *gin.Context) { h.setChannelBanned(c, true) }

// UnbanChannel handles POST /api/admin/channels/:channelId/unban.
func (h *AdminHandlers) UnbanChannel(c *gin.Context) { h.setChannelBanned(c, false) }

func (h *AdminHandlers) setChannelBanned(c *gin.Context, banned bool) {
	ctx := c.Request.Context()
	channelID := c.Param("channelId")

	ch, err := h.store.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
			return
		}
		h.log.Error().Err(err).Str("channel_id", channelID).Msg("failed to load channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if ch.IsBanned == banned {
		msg := "channel is not banned"
		if banned {
			msg = "channel is already banned"
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
		return
	}

	if err := h.store.SetChannelBanned(ctx, ch.ChannelID, banned); err != nil {
		h.log.Error().Err(err).Str("channel_id", ch.ChannelID).Msg("failed to update channel ban")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("channel_id", ch.ChannelID).Bool("banned", banned).Msg("channel ban updated")
	c.JSON(http.StatusOK, gin.H{"channelId": ch.ChannelID, "isBanned": banned})
}

// BanUser handles POST /api/admin/users/:userId/ban.
func (h *AdminHandlers) BanUser(c *gin.Context) { h.setUserBanned(c, true) }

// UnbanUser handles POST /api/admin/users/:userId/unban.
func (h *AdminHandlers) UnbanUser(c *gin.Context) { h.setUserBanned(c, false) }

func (h *AdminHandlers) setUserBanned(c *gin.Context, banned bool) {
	ctx := c.Request.Context()
	userID := c.Param("userId")

	user, err := h.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if banned && user.IsAdmin {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "admins cannot be banned"})
		return
	}
	if user.IsBanned == banned {
		msg := "user is not banned"
		if banned {
			msg = "user is already banned"
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
		return
	}

	if err := h.store.SetUserBanned(ctx, user.ID, banned); err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to update user ban")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("user_id", user.ID).Bool("banned", banned).Msg("user ban updated")
	c.JSON(http.StatusOK, gin.H{"userId": user.ID, "isBanned": banned})
}
