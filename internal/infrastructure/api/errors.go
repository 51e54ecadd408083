package api

import (
	"errors"
	"net/http"

	"shopify-catalog-mirror/internal/domain"

	"github.com/rs/zerolog"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoCredential):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrentSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNeedsReauthorization), errors.Is(err, domain.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidCredential), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrTransient), errors.Is(err, domain.ErrMalformed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("Request failed")
		if status == http.StatusInternalServerError {
			resp.Error = "internal server error"
		}
	}
	if kind := domain.ClassifyError(err); kind != domain.ErrorKindInternal {
		resp.Kind = kind
	}
	writeJSON(w, status, resp)
}
