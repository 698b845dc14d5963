package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pailflow/pailflow/pkg/pkgerrors"
)

// ErrorResponse is the structured body every non-2xx response carries (§7
// "User-visible behavior"): `{error, detail, message, balance?}`.
type ErrorResponse struct {
	Error   string  `json:"error"`
	Detail  string  `json:"detail,omitempty"`
	Message string  `json:"message,omitempty"`
	Balance float64 `json:"balance,omitempty"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: code, Detail: message, Message: message})
}

func writeInsufficientCredits(c *gin.Context, balance float64) {
	c.JSON(http.StatusPaymentRequired, ErrorResponse{
		Error:   "insufficient_credits",
		Message: "account balance is below the minimum required to start a bot",
		Balance: balance,
	})
}

// mapDomainError maps an error surfaced by the orchestrator/workflow engine
// to an HTTP status and structured body (§7 error-kind taxonomy).
func mapDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, pkgerrors.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, pkgerrors.ErrPlacementUnavailable):
		writeError(c, http.StatusInternalServerError, "placement_failed", err.Error())
	default:
		var placementErr *pkgerrors.PlacementError
		if errors.As(err, &placementErr) {
			writeError(c, http.StatusInternalServerError, "placement_failed", placementErr.Error())
			return
		}
		slog.Error("api: unexpected error", "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
