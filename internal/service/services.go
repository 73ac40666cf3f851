package service

import (
	"estate_chat/internal/config"
	"estate_chat/internal/repository"
	"estate_chat/pkg/logger"
)

type Services struct {
	Auth      AuthService
	User      UserService
	Chat      ChatService
	RateLimit RateLimitService
	Audit     ChatAudit
}

func NewServices(repos *repository.Repositories, broadcaster Broadcaster, cfg *config.Config, log logger.Logger) *Services {
	audit := NewChatAudit(repos.Audit, log)

	return &Services{
		Auth:      NewAuthService(repos.User, cfg.JWT, log),
		User:      NewUserService(repos.User, log),
		Chat:      NewChatService(repos.Chat, repos.Listing, repos.User, audit, broadcaster, cfg.Chat, log),
		RateLimit: NewRateLimitService(repos.RateLimit, log),
		Audit:     audit,
	}
}
