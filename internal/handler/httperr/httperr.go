// Package httperr maps service errors onto HTTP responses.
package httperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	chatservice "github.com/tripwise/planner/backend/internal/service/chat"
	"github.com/tripwise/planner/backend/internal/service/inference"
)

// Status picks the HTTP status for err.
func Status(err error) int {
	switch {
	case errors.Is(err, inference.ErrInvalidParameter),
		errors.Is(err, chatservice.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, chatservice.ErrUserRequired):
		return http.StatusUnauthorized
	case errors.Is(err, inference.ErrModelUnavailable),
		errors.Is(err, inference.ErrNoBackend):
		return http.StatusServiceUnavailable
	case errors.Is(err, inference.ErrGenerationTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message is the client-facing text for err. Internal failures are not
// echoed back.
func Message(err error) string {
	switch Status(err) {
	case http.StatusInternalServerError:
		return "failed to generate a response"
	case http.StatusServiceUnavailable:
		return "model not available"
	case http.StatusGatewayTimeout:
		return "model took too long to respond"
	default:
		return err.Error()
	}
}

// Log records err on the request logger when it is a server-side failure.
func Log(ctx context.Context, err error) {
	if Status(err) >= http.StatusInternalServerError {
		zerolog.Ctx(ctx).Error().Err(err).Msg("request failed")
	}
}
