package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentmesh/acp/pkg/models"
)

// statusForCode maps the wire error taxonomy to HTTP statuses.
func statusForCode(code models.ErrorCode) int {
	switch code {
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeInvalidInput:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders any error as the wire error body. Unclassified
// errors become server_error and are logged.
func writeError(c *gin.Context, err error) {
	var acpErr *models.Error
	if !errors.As(err, &acpErr) {
		slog.Error("Unexpected error", "path", c.FullPath(), "error", err)
		acpErr = models.NewError(models.CodeServerError, "an unexpected error occurred")
	}
	c.JSON(statusForCode(acpErr.Code), acpErr)
}

// writeErrorStatus renders an error with an explicit HTTP status,
// overriding the code mapping. Used for the 403 resume rejections.
func writeErrorStatus(c *gin.Context, status int, err *models.Error) {
	c.JSON(status, err)
}

// writeBindError renders a body parse or validation failure as 400
// invalid_input.
func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.NewError(models.CodeInvalidInput, "%s", err.Error()))
}
