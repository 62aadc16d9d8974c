package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"kanban-api/domain"
)

const contextKeyErrorStage = "errorStage"

var errDuplicateRequest = errors.New("duplicate idempotency key")

// statusFor maps coordinator and storage errors to HTTP statuses.
func statusFor(err error) (int, string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrContractViolation):
		return http.StatusBadRequest, "contract"
	case errors.Is(err, domain.ErrDeclined):
		return http.StatusConflict, "declined"
	case errors.Is(err, errDuplicateRequest):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "storage"
	}
}

// writeError renders err as a JSON error body. Server errors are logged.
func writeError(c echo.Context, err error) error {
	status, stage := statusFor(err)
	c.Set(contextKeyErrorStage, stage)
	body := errorResponse{Error: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.JSON(status, body)
}
