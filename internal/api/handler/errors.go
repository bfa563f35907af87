package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/snapfind/internal/api/response"
	"github.com/kiranshivaraju/snapfind/internal/search"
	"github.com/kiranshivaraju/snapfind/internal/vision"
)

// writeError maps orchestration errors onto the API error envelope.
func writeError(w http.ResponseWriter, err error) {
	var (
		allFailed *vision.AllFailedError
		unknown   *vision.UnknownProviderError
		cfgErr    *search.ConfigError
	)

	switch {
	case errors.As(err, &unknown):
		response.Error(w, http.StatusBadRequest, "UNKNOWN_PROVIDER",
			"The requested vision provider is not available",
			map[string]any{"provider": unknown.Name, "available": unknown.Available})
	case errors.Is(err, vision.ErrNoProvidersAvailable):
		response.Error(w, http.StatusServiceUnavailable, "NO_PROVIDERS",
			"No vision providers are configured and enabled", nil)
	case errors.As(err, &allFailed):
		response.Error(w, http.StatusBadGateway, "ALL_PROVIDERS_FAILED",
			"Every vision provider failed to identify the image", allFailed.Failures)
	case errors.As(err, &cfgErr):
		response.Error(w, http.StatusServiceUnavailable, "SEARCH_NOT_CONFIGURED",
			cfgErr.Error(), map[string]any{"backend": cfgErr.Backend, "missing": cfgErr.Missing})
	case errors.Is(err, search.ErrNoBackendConfigured):
		response.Error(w, http.StatusServiceUnavailable, "SEARCH_NOT_CONFIGURED",
			"No search backend has credentials configured", nil)
	case errors.Is(err, search.ErrNoResults):
		response.Error(w, http.StatusNotFound, "NO_RESULTS",
			"No products matched the query", nil)
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(w, http.StatusGatewayTimeout, "TIMEOUT",
			"The request took too long and was cancelled", nil)
	default:
		slog.Error("unhandled request error", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
}
