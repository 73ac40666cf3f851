package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"estate_chat/pkg/errors"
	"estate_chat/pkg/logger"
)

// ErrorHandler отвечает конвертом {success:false, message} на ошибки, добавленные через c.Error,
// и на панику в обработчике
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Panic in handler", "panic", r, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
			}
		}()

		c.Next()

		// Проверяем есть ли ошибки
		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			statusCode := errors.HTTPStatusFromError(err.Err)

			message := err.Error()
			if statusCode == http.StatusInternalServerError {
				log.Error("Request failed", "error", err.Err, "path", c.Request.URL.Path)
				message = "Internal server error"
			}

			c.JSON(statusCode, gin.H{"success": false, "message": message})
		}
	}
}
