package http

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/channelchat-server/internal/store"
)

const (
	maxChannelNameLen        = 50
	maxChannelDescriptionLen = 200
	maxChannelsPerCreator    = 10
	maxChannelMembers        = 1000

	defaultPageSize      = 20
	maxPageSize          = 100
	defaultMessagesLimit = 100
	maxMessagesLimit     = 500
	defaultCleanDays     = 30
)

// ChannelHandlers provides HTTP handlers for channel management endpoints.
type ChannelHandlers struct {
	store store.Store
	log   *zerolog.Logger
	now   func() time.Time
}

// NewChannelHandlers creates a new channel handlers instance.
func NewChannelHandlers(st store.Store, logger *zerolog.Logger) *ChannelHandlers {
	return &ChannelHandlers{
		store: st,
		log:   logger,
		now:   time.Now,
	}
}

// CreateChannelRequest represents the create channel request body.
type CreateChannelRequest struct {
	Name        string `json:"name" binding:"required"`
	ChannelID   string `json:"channelId" binding:"required"`
	Description string `json:"description"`
}

// CleanMessagesRequest represents the clean-messages request body.
type CleanMessagesRequest struct {
	Days *int `json:"days"`
}

// ChannelResponse represents a channel in API responses.
type ChannelResponse struct {
	ChannelID     string `json:"channelId"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	CreatorID     string `json:"creatorId"`
	IsPublic      bool   `json:"isPublic"`
	IsActive      bool   `json:"isActive"`
	IsBanned      bool   `json:"isBanned"`
	MemberCount   int    `json:"memberCount"`
	MessagesCount int    `json:"messagesCount"`
	IsCreator     bool   `json:"isCreator,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

// Pagination describes a page of a listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// MessageResponse represents a stored message in API responses.
type MessageResponse struct {
	ID           int64  `json:"id"`
	AuthorUserID string `json:"authorUserId,omitempty"`
	Username     string `json:"username"`
	Content      string `json:"content"`
	Timestamp    string `json:"timestamp"`
	IsSystem     bool   `json:"isSystem"`
}

func summaryResponse(sum *store.ChannelSummary) ChannelResponse {
	return ChannelResponse{
		ChannelID:     sum.ChannelID,
		Name:          sum.Name,
		Description:   sum.Description,
		CreatorID:     sum.CreatorID,
		IsPublic:      sum.IsPublic,
		IsActive:      sum.IsActive,
		IsBanned:      sum.IsBanned,
		MemberCount:   sum.MemberCount,
		MessagesCount: sum.MessagesCount,
		CreatedAt:     sum.CreatedAt.Format(time.RFC3339),
	}
}

func messageResponse(m *store.Message) MessageResponse {
	resp := MessageResponse{
		ID:        m.ID,
		Username:  m.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp.Format(time.RFC3339Nano),
		IsSystem:  m.IsSystem,
	}
	if m.AuthorUserID != nil {
		resp.AuthorUserID = *m.AuthorUserID
	}
	return resp
}

func queryInt(c *gin.Context, key string, def, lo, hi int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return min(max(v, lo), hi)
}

// loadChannel fetches the channel named by the :channelId path parameter and
// writes a 404 or 500 response when that fails.
func (h *ChannelHandlers) loadChannel(c *gin.Context) (*store.Channel, bool) {
	channelID := c.Param("channelId")
	ch, err := h.store.GetChannel(c.Request.Context(), channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
			return nil, false
		}
		h.log.Error().Err(err).Str("channel_id", channelID).Msg("failed to load channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return nil, false
	}
	return ch, true
}

func (h *ChannelHandlers) summary(c *gin.Context, ch *store.Channel) (ChannelResponse, error) {
	count, err := h.store.CountMessages(c.Request.Context(), ch.ChannelID)
	if err != nil {
		return ChannelResponse{}, err
	}
	return summaryResponse(&store.ChannelSummary{Channel: *ch, MemberCount: len(ch.Members), MessagesCount: count}), nil
}

// appendSystemMessage records a membership change in the channel log. Failures are only logged.
func (h *ChannelHandlers) appendSystemMessage(c *gin.Context, channelID string, user *store.User, content string) {
	author := user.ID
	msg := &store.Message{
		ChannelID:    channelID,
		AuthorUserID: &author,
		Username:     user.Username,
		Content:      content,
		Timestamp:    h.now().UTC(),
		IsSystem:     true,
	}
	if err := h.store.AppendMessage(c.Request.Context(), channelID, msg); err != nil {
		h.log.Warn().Err(err).Str("channel_id", channelID).Msg("failed to record system message")
	}
}

func displayName(u *store.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// ListPublic handles listing public, non-banned channels.
// GET /api/channels/public?search=&page=&limit=
func (h *ChannelHandlers) ListPublic(c *gin.Context) {
	page := queryInt(c, "page", 1, 1, math.MaxInt32)
	limit := queryInt(c, "limit", defaultPageSize, 1, maxPageSize)

	channels, total, err := h.store.ListPublicChannels(c.Request.Context(), c.Query("search"), (page-1)*limit, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list public channels")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		response = append(response, summaryResponse(ch))
	}
	c.JSON(http.StatusOK, gin.H{
		"channels": response,
		"pagination": Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	})
}

// Search looks up a single channel by id, case-insensitively.
// GET /api/channels/search/:channelId
func (h *ChannelHandlers) Search(c *gin.Context) {
	channelID := c.Param("channelId")
	if !store.ChannelIDPattern.MatchString(channelID) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid channel id"})
		return
	}
	ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	if ch.IsBanned {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found or banned"})
		return
	}
	resp, err := h.summary(c, ch)
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", ch.ChannelID).Msg("failed to count messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Create handles channel creation. The creator becomes the first member.
// POST /api/channels
func (h *ChannelHandlers) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create channel request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	switch {
	case req.Name == "" || utf8.RuneCountInString(req.Name) > maxChannelNameLen:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("name must be 1-%d characters", maxChannelNameLen)})
		return
	case !store.ChannelIDPattern.MatchString(req.ChannelID):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "channel id must start with @ followed by 5-20 letters, digits or underscores"})
		return
	case utf8.RuneCountInString(req.Description) > maxChannelDescriptionLen:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("description must be at most %d characters", maxChannelDescriptionLen)})
		return
	}

	ctx := c.Request.Context()
	count, err := h.store.CountChannelsByCreator(ctx, user.ID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to count channels")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if count >= maxChannelsPerCreator {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "channel limit reached"})
		return
	}

	ch := &store.Channel{
		ChannelID:   req.ChannelID,
		Name:        req.Name,
		Description: req.Description,
		IsPublic:    true,
		IsActive:    true,
		CreatorID:   user.ID,
		CreatedAt:   h.now().UTC(),
	}
	if err := h.store.CreateChannel(ctx, ch); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "channel id already exists"})
			return
		}
		h.log.Error().Err(err).Str("channel_id", req.ChannelID).Msg("failed to create channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("channel_id", ch.ChannelID).Str("creator_id", user.ID).Msg("channel created successfully")
	resp := summaryResponse(&store.ChannelSummary{Channel: *ch, MemberCount: 1})
	resp.IsCreator = true
	c.JSON(http.StatusCreated, resp)
}

// Join adds the caller to the channel's persisted member set.
// POST /api/channels/:channelId/join
func (h *ChannelHandlers) Join(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	if !store.ChannelIDPattern.MatchString(c.Param("channelId")) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid channel id"})
		return
	}
	ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	switch {
	case ch.IsBanned:
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found or banned"})
		return
	case !ch.IsActive:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "channel is inactive"})
		return
	case ch.HasMember(user.ID):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "already a member"})
		return
	case len(ch.Members) >= maxChannelMembers:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "channel is full"})
		return
	}

	if err := h.store.AddMember(c.Request.Context(), ch.ChannelID, user.ID); err != nil {
		h.log.Error().Err(err).Str("channel_id", ch.ChannelID).Msg("failed to add member")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	h.appendSystemMessage(c, ch.ChannelID, user, displayName(user)+" joined the channel")

	c.JSON(http.StatusOK, gin.H{
		"channelId":   ch.ChannelID,
		"name":        ch.Name,
		"memberCount": len(ch.Members) + 1,
	})
}

// Leave removes the caller from the channel's member set. Creators cannot leave.
// POST /api/channels/:channelId/leave
func (h *ChannelHandlers) Leave(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	if !ch.HasMember(user.ID) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "not a member of this channel"})
		return
	}
	if ch.CreatorID == user.ID {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "the creator cannot leave; delete the channel instead"})
		return
	}

	if err := h.store.RemoveMember(c.Request.Context(), ch.ChannelID, user.ID); err != nil {
		h.log.Error().Err(err).Str("channel_id", ch.ChannelID).Msg("failed to remove member")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	h.appendSystemMessage(c, ch.ChannelID, user, displayName(user)+" left the channel")

	c.JSON(http.StatusOK, gin.H{"channelId": ch.ChannelID, "left": true})
}

// Mine lists the channels the caller is a member of.
// GET /api/channels/mine
func (h *ChannelHandlers) Mine(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	channels, err := h.store.ListUserChannels(c.Request.Context(), user.ID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to list user channels")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		resp := summaryResponse(ch)
		resp.IsCreator = ch.CreatorID == user.ID
		response = append(response, resp)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(response), "channels": response})
}

// Messages returns a page of the channel log, oldest first.
// GET /api/channels/:channelId/messages?limit=&before=
func (h *ChannelHandlers) Messages(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	if !ch.HasMember(user.ID) && !user.IsAdmin {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this channel"})
		return
	}
	if ch.IsBanned && !user.IsAdmin {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "channel is banned"})
		return
	}

	limit := queryInt(c, "limit", defaultMessagesLimit, 1, maxMessagesLimit)
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "before must be an RFC 3339 timestamp"})
			return
		}
		before = &t
	}

	ctx := c.Request.Context()
	msgs, err := h.store.ListMessages(ctx, ch.ChannelID, limit, before)
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", ch.ChannelID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	total, err := h.store.CountMessages(ctx, ch.ChannelID)
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", ch.ChannelID).Msg("failed to count messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, messageResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{
		"channelId":     ch.ChannelID,
		"channelName":   ch.Name,
		"messages":      response,
		"hasMore":       total > limit,
		"totalMessages": total,
	})
}

// Delete removes a channel. Only its creator or an admin may do this.
// DELETE /api/channels/:channelId
func (h *ChannelHandlers) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	if ch.CreatorID != user.ID && !user.IsAdmin {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the creator or an admin can delete this channel"})
		return
	}

	if err := h.store.DeleteChannel(c.Request.Context(), ch.ChannelID); err != nil {
		h.log.Error().Err(err).Str("channel_id", ch.ChannelID).Msg("failed to delete channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("channel_id", ch.ChannelID).Str("by", user.ID).Msg("channel deleted")
	c.JSON(http.StatusOK, gin.H{"channelId": ch.ChannelID, "deleted": true})
}

// CleanMessages removes non-system messages older than the given number of days.
// POST /api/channels/:channelId/clean-messages
func (h *ChannelHandlers) CleanMessages(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CleanMessagesRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}
	days := defaultCleanDays
	if req.Days != nil {
		days = *req.Days
	}
	if days < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "days must not be negative"})
		return
	}

	ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	if ch.CreatorID != user.ID && !user.IsAdmin {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the creator or an admin can clean messages"})
		return
	}

	ctx := c.Request.Context()
	cutoff := h.now().UTC().AddDate(0, 0, -days)
	removed, err := h.store.CleanMessages(ctx, ch.ChannelID, cutoff)
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", ch.ChannelID).Msg("failed to clean messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	remaining, err := h.store.CountMessages(ctx, ch.ChannelID)
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", ch.ChannelID).Msg("failed to count messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("channel_id", ch.ChannelID).Int("removed", removed).Msg("channel messages cleaned")
	c.JSON(http.StatusOK, gin.H{"removedCount": removed, "remainingCount": remaining})
}
