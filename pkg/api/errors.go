package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// errorResponse is the JSON body written for any non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps err to an HTTP status and JSON body, logging anything
// that isn't an expected, already-classified error.
func writeError(c *gin.Context, err error) {
	var valErr *validationError

	switch {
	case errors.As(err, &valErr):
		c.JSON(http.StatusBadRequest, errorResponse{Error: valErr.Error()})
	default:
		slog.Error("api: unhandled request error", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// validationError marks a malformed or incomplete request body.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
