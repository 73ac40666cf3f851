package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"estate_chat/internal/service"
	"estate_chat/pkg/logger"
)

type UserHandler struct {
	userService service.UserService
	log         logger.Logger
}

func NewUserHandler(userService service.UserService, log logger.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		log:         log,
	}
}

func (h *UserHandler) GetMe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	user, err := h.userService.GetMe(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to load profile.")
		return
	}

	respond(c, http.StatusOK, user)
}

type UpdateMeRequest struct {
	DisplayName string  `json:"display_name" binding:"required"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

func (h *UserHandler) UpdateMe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	user, err := h.userService.UpdateMe(c.Request.Context(), userID, req.DisplayName, req.AvatarURL)
	if err != nil {
		respondError(c, err, "Failed to update profile.")
		return
	}

	respond(c, http.StatusOK, user)
}
