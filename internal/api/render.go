package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/raworc/raworc/internal/common/errors"
)

// respondError renders any error as the {"error": {...}} envelope. AppError
// carries its own status and code; anything else is a 500 INTERNAL_ERROR.
func respondError(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)

	body := gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
	}
	if appErr.Err != nil && appErr.HTTPStatus < http.StatusInternalServerError {
		body["details"] = appErr.Err.Error()
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{"error": body})
}

// bindJSON decodes the request body and translates binding failures into a
// 400 envelope.
func bindJSON(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		respondError(c, apperrors.BadRequestf("invalid request body: %v", err))
		return false
	}
	return true
}
