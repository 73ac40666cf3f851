package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"estate_chat/internal/config"
	"estate_chat/internal/domain"
	"estate_chat/internal/service"
	"estate_chat/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	cfg              config.RateLimitConfig
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, cfg config.RateLimitConfig, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		cfg:              cfg,
		log:              log,
	}
}

// LimitByIP для открытых эндпоинтов (регистрация, вход)
func (m *RateLimitMiddleware) LimitByIP(scope string) gin.HandlerFunc {
	return m.limit(func(c *gin.Context) string {
		return domain.RateLimitKey(scope, domain.RateLimitSubjectIP, c.ClientIP())
	})
}

// LimitByUser ставится после RequireAuth
func (m *RateLimitMiddleware) LimitByUser(scope string) gin.HandlerFunc {
	return m.limit(func(c *gin.Context) string {
		if userID, ok := c.Get(ContextUserID); ok {
			return domain.RateLimitKey(scope, domain.RateLimitSubjectUser, userID)
		}
		return domain.RateLimitKey(scope, domain.RateLimitSubjectIP, c.ClientIP())
	})
}

func (m *RateLimitMiddleware) limit(keyFn func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		limit := m.cfg.Requests

		allowed, err := m.rateLimitService.CheckLimit(c.Request.Context(), key, limit)
		if err != nil {
			// Redis недоступен: не блокируем пользователей
			m.log.Error("Rate limit check failed", "error", err)
			c.Next()
			return
		}

		if !allowed {
			c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "Rate limit exceeded"})
			return
		}

		count, err := m.rateLimitService.Increment(c.Request.Context(), key, m.cfg.Window)
		if err != nil {
			m.log.Error("Rate limit increment failed", "error", err)
		}

		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
