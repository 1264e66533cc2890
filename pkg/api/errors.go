package api

import (
	"errors"
	"log/slog"

	echo "github.com/labstack/echo/v5"

	"github.com/subterminator/agents/pkg/errs"
)

// writeError maps a taxonomy error to the OpenAI-shaped wire error.
// Underlying causes are logged, never sent to clients.
func writeError(c *echo.Context, err error) error {
	kind := errs.KindOf(err)
	if kind == errs.KindInternal || kind == errs.KindConfiguration {
		slog.Error("Request failed", "error", err)
	} else {
		slog.Warn("Request rejected", "kind", kind, "error", err)
	}

	// Only client-addressable kinds expose their message; everything else
	// gets a generic body so internals never leak.
	message := "internal error"
	switch kind {
	case errs.KindInputValidation, errs.KindRateLimit,
		errs.KindDatabaseUnavailable, errs.KindAgentTimeout:
		var taxErr *errs.Error
		if errors.As(err, &taxErr) {
			message = taxErr.Message
		}
	}

	return c.JSON(kind.HTTPStatus(), &ErrorResponse{Error: ErrorBody{
		Message: message,
		Type:    kind.WireType(),
		Code:    kind.Code(),
	}})
}
