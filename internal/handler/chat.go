package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"estate_chat/internal/service"
	"estate_chat/pkg/logger"
)

type ChatHandler struct {
	chatService service.ChatService
	log         logger.Logger
}

func NewChatHandler(chatService service.ChatService, log logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		log:         log,
	}
}

type CreateChatRequest struct {
	ParticipantID uuid.UUID `json:"participant_id" binding:"required"`
	ListingID     uuid.UUID `json:"listing_id" binding:"required"`
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	chat, created, err := h.chatService.CreateChat(c.Request.Context(), userID, req.ParticipantID, req.ListingID)
	if err != nil {
		h.log.Warn("Failed to create chat", "error", err, "user_id", userID, "listing_id", req.ListingID)
		respondError(c, err, "Failed to start conversation. Please try again.")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respond(c, status, chat)
}

func (h *ChatHandler) ListChats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	chats, err := h.chatService.ListChats(c.Request.Context(), userID, page, limit)
	if err != nil {
		respondError(c, err, "Failed to load conversations.")
		return
	}

	respond(c, http.StatusOK, chats)
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	chat, err := h.chatService.GetChat(c.Request.Context(), chatID, userID)
	if err != nil {
		respondError(c, err, "Failed to load conversation.")
		return
	}

	respond(c, http.StatusOK, chat)
}

type SendMessageRequest struct {
	Content  string `json:"content" binding:"required"`
	ClientID string `json:"client_id"`
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	message, err := h.chatService.SendMessage(c.Request.Context(), chatID, userID, req.Content, req.ClientID)
	if err != nil {
		h.log.Warn("Failed to send message", "error", err, "chat_id", chatID, "user_id", userID)
		respondError(c, err, "Failed to send message. Please try again.")
		return
	}

	respond(c, http.StatusCreated, message)
}

type MarkReadResponse struct {
	ChatID uuid.UUID `json:"chat_id"`
	Count  int       `json:"count"`
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	count, err := h.chatService.MarkRead(c.Request.Context(), chatID, userID)
	if err != nil {
		respondError(c, err, "Failed to mark messages as read.")
		return
	}

	respond(c, http.StatusOK, MarkReadResponse{ChatID: chatID, Count: count})
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	if err := h.chatService.DeleteChat(c.Request.Context(), chatID, userID); err != nil {
		respondError(c, err, "Failed to delete conversation.")
		return
	}

	c.JSON(http.StatusOK, Envelope{Success: true, Message: "Conversation deleted"})
}

type UnreadResponse struct {
	Count int `json:"count"`
}

func (h *ChatHandler) TotalUnread(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	count, err := h.chatService.TotalUnread(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to load unread count.")
		return
	}

	respond(c, http.StatusOK, UnreadResponse{Count: count})
}
