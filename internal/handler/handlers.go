package handler

import (
	"estate_chat/internal/config"
	"estate_chat/internal/realtime"
	"estate_chat/internal/service"
	"estate_chat/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	User      *UserHandler
	Chat      *ChatHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, hub *realtime.Hub, checks map[string]Pinger, cfg *config.Config, log logger.Logger) *Handlers {
	dispatcher := realtime.NewDispatcher(hub, services.Chat, log).WithRateLimit(services.RateLimit, cfg.RateLimit)

	return &Handlers{
		Health:    NewHealthHandler(checks, hub.ClientCount),
		Auth:      NewAuthHandler(services.Auth, log),
		User:      NewUserHandler(services.User, log),
		Chat:      NewChatHandler(services.Chat, log),
		WebSocket: NewWebSocketHandler(hub, dispatcher, cfg, log),
	}
}
