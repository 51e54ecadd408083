package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"shopify-catalog-mirror/internal/domain"

	goshopify "github.com/bold-commerce/go-shopify/v4"
)

const defaultRetryAfter = time.Second

// classifyError maps a go-shopify error onto the domain failure taxonomy
func classifyError(op string, err error) error {
	var (
		rateLimit    goshopify.RateLimitError
		rateLimitPtr *goshopify.RateLimitError
		response     goshopify.ResponseError
		responsePtr  *goshopify.ResponseError
		decoding     goshopify.ResponseDecodingError
		decodingPtr  *goshopify.ResponseDecodingError
		syntaxErr    *json.SyntaxError
		typeErr      *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &rateLimit):
		return rateLimited(op, rateLimit.RetryAfter, rateLimit.Message)
	case errors.As(err, &rateLimitPtr):
		return rateLimited(op, rateLimitPtr.RetryAfter, rateLimitPtr.Message)
	case errors.As(err, &response):
		return classifyResponse(op, response)
	case errors.As(err, &responsePtr):
		return classifyResponse(op, *responsePtr)
	case errors.As(err, &decoding):
		return classifyResponse(op, goshopify.ResponseError{Status: decoding.Status, Message: decoding.Message})
	case errors.As(err, &decodingPtr):
		return classifyResponse(op, goshopify.ResponseError{Status: decodingPtr.Status, Message: decodingPtr.Message})
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return fmt.Errorf("%w: %s: failed to decode response: %v", domain.ErrMalformed, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrTransient, op, err)
	}
}

func classifyResponse(op string, resp goshopify.ResponseError) error {
	switch status := resp.Status; {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s: status %d: %s", domain.ErrAuthExpired, op, status, responseMessage(resp))
	case status == http.StatusTooManyRequests:
		return rateLimited(op, 0, responseMessage(resp))
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s: status %d: %s", domain.ErrTransient, op, status, responseMessage(resp))
	case status == http.StatusOK:
		// GraphQL level errors
		msg := responseMessage(resp)
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "access denied"), strings.Contains(lower, "access_denied"):
			return fmt.Errorf("%w: %s: %s", domain.ErrAuthExpired, op, msg)
		case strings.Contains(lower, "throttled"):
			return rateLimited(op, 0, msg)
		default:
			return fmt.Errorf("%w: %s: graphql errors: %s", domain.ErrMalformed, op, msg)
		}
	default:
		return fmt.Errorf("%w: %s: unexpected status %d: %s", domain.ErrMalformed, op, status, responseMessage(resp))
	}
}

func responseMessage(resp goshopify.ResponseError) string {
	parts := make([]string, 0, len(resp.Errors)+1)
	if resp.Message != "" {
		parts = append(parts, resp.Message)
	}
	for _, e := range resp.Errors {
		if e != "" && e != resp.Message {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "; ")
}

func rateLimited(op string, retryAfterSeconds int, msg string) error {
	retryAfter := time.Duration(retryAfterSeconds) * time.Second
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	return fmt.Errorf("%s: %w", op, &domain.RateLimitedError{RetryAfter: retryAfter, Message: msg})
}

// callError turns the error of one outbound call into a domain error. A parent cancellation
// is returned as is; the per-call deadline counts as a transient failure.
func callError(parent, call context.Context, op string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("failed to %s: %w", op, parent.Err())
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: request timed out", domain.ErrTransient, op)
	}
	return classifyError(op, err)
}
