package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/bhulekhchain/title-registry/internal/api/shared/errors"
	"github.com/bhulekhchain/title-registry/internal/logger"
)

// errorResponse wraps an API error in the response body
type errorResponse struct {
	Error *apierrors.APIError `json:"error"`
}

// respondBadRequest responds with a bad request error
func respondBadRequest(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusBadRequest, errorResponse{apierrors.NewBadRequestError(message, details...)})
}

// respondValidationError responds with a validation error
func respondValidationError(c *gin.Context, details string) {
	c.JSON(http.StatusBadRequest, errorResponse{apierrors.NewValidationError(details)})
}

// respondUnauthorized responds when no actor was resolved for the request
func respondUnauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, errorResponse{apierrors.NewUnauthorizedError("Authentication required")})
}

// respondError maps err to its status. Server-side failures are logged; client errors are not.
func respondError(c *gin.Context, err error, message string) {
	status, apiErr := apierrors.FromError(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorCtx(c.Request.Context(), err,
			zap.String("message", message),
			zap.String("path", c.FullPath()),
			zap.Int("status", status))
	}
	c.JSON(status, errorResponse{apiErr})
}
