package api

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/taskrun/engine/internal/engine"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ErrorHandlingMiddleware recovers panics and maps the engine's typed errors
// onto HTTP statuses. Handlers push errors with c.Error instead of writing
// responses themselves.
func ErrorHandlingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method))

				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Code:    "INTERNAL_ERROR",
					Message: "An internal error occurred",
				})
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		logger.Error("request error",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method))

		var validationErr *engine.ValidationError
		var notFoundErr *engine.NotFoundError
		var conflictErr *engine.ConflictError
		var stateErr *engine.StateError
		var lockErr *engine.LockTimeoutError

		switch {
		case errors.As(err, &validationErr):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: validationErr.Error(),
			})
		case errors.As(err, &notFoundErr), errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "NOT_FOUND",
				Message: err.Error(),
			})
		case errors.As(err, &conflictErr):
			c.JSON(http.StatusConflict, ErrorResponse{
				Code:    "SNAPSHOT_CONFLICT",
				Message: conflictErr.Error(),
			})
		case errors.Is(err, gorm.ErrDuplicatedKey):
			c.JSON(http.StatusConflict, ErrorResponse{
				Code:    "DUPLICATE",
				Message: "Resource already exists",
			})
		case errors.As(err, &stateErr):
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Code:    "ILLEGAL_TRANSITION",
				Message: stateErr.Error(),
			})
		case errors.As(err, &lockErr):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Code:    "LOCK_TIMEOUT",
				Message: lockErr.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Code:    "INTERNAL_ERROR",
				Message: "An error occurred while processing your request",
				Details: err.Error(),
			})
		}
	}
}

func Cors() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	return cors.New(config)
}
