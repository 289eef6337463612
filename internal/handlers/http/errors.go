package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/pkg/validator"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/switchboard"
)

var (
	// ErrMalformedBody is returned when a request body is not valid JSON.
	ErrMalformedBody = errors.New("malformed request body")

	// ErrEphemeralOverHTTP is returned when an ephemeral subscription is
	// requested outside of a websocket.
	ErrEphemeralOverHTTP = errors.New("ephemeral subscriptions are created over websocket")
)

type errorBody struct {
	Error  string   `json:"error"`
	Issues []string `json:"issues,omitempty"`
}

// statusOf maps a domain error to its response status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrMalformedBody),
		errors.Is(err, ErrEphemeralOverHTTP),
		errors.Is(err, validator.ErrValidationFailed),
		errors.Is(err, chainstream.ErrUnknownChain),
		errors.Is(err, switchboard.ErrImmutableField):
		return http.StatusBadRequest
	case errors.Is(err, switchboard.ErrSubscriptionNotFound),
		errors.Is(err, subscription.ErrSubscriptionNotFound):
		return http.StatusNotFound
	case errors.Is(err, subscription.ErrSubscriptionExists):
		return http.StatusConflict
	case errors.Is(err, switchboard.ErrCapacityExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error(ctx, "request failed", "error", err)
		writeJSON(w, status, errorBody{Error: http.StatusText(status)})
		return
	}

	body := errorBody{Error: err.Error()}
	if errors.Is(err, validator.ErrValidationFailed) {
		body = errorBody{Error: validator.ErrValidationFailed.Error(), Issues: validator.Issues(err)}
	}

	writeJSON(w, status, body)
}
