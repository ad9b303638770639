package middleware

import (
	"roomsignal/internal/core/domain"
	"roomsignal/pkg/errors"
	"roomsignal/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last error attached with c.Error as a
// structured {code, message, details} body.
func ErrorHandlerMiddleware(log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr := domain.ToAppError(err)
		ctx := c.Request.Context()

		if appErr.HTTPStatus >= 500 {
			log.LogError(ctx, err, "request failed",
				zap.String("code", string(appErr.Code)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
			)
		} else {
			log.WithContext(ctx).Debug("request rejected",
				zap.String("code", string(appErr.Code)),
				zap.String("message", appErr.Message),
				zap.String("path", c.FullPath()),
			)
		}

		c.JSON(appErr.HTTPStatus, appErr.Body())
	}
}

// RecoveryMiddleware turns a panic in a handler into a 500 response.
func RecoveryMiddleware(log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithContext(c.Request.Context()).Error("panic recovered",
					zap.Any("panic", r),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
				)
				appErr := errors.NewInternalError("internal server error")
				c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Body())
			}
		}()

		c.Next()
	}
}
