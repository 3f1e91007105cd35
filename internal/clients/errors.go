package clients

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// ChannelError is a classified failure returned by an upstream API
type ChannelError struct {
	Source     string
	Kind       models.UpdateErrorKind
	StatusCode int
	Message    string
}

func (e *ChannelError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (status %d, %s): %s", e.Source, e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s API error (%s): %s", e.Source, e.Kind, e.Message)
}

// NewHTTPError classifies a non-2xx response
func NewHTTPError(source string, statusCode int, body []byte) *ChannelError {
	msg := string(body)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return &ChannelError{
		Source:     source,
		Kind:       KindForStatus(statusCode),
		StatusCode: statusCode,
		Message:    msg,
	}
}

// KindForStatus maps an HTTP status to an update error kind
func KindForStatus(statusCode int) models.UpdateErrorKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return models.UpdateErrorRateLimited
	case statusCode == http.StatusNotFound:
		return models.UpdateErrorNotFound
	case statusCode == http.StatusBadRequest, statusCode == http.StatusUnprocessableEntity,
		statusCode == http.StatusConflict:
		return models.UpdateErrorValidation
	default:
		return models.UpdateErrorTransient
	}
}

// Classify returns the update error kind for any client error. Network
// failures, timeouts and open circuits are transient.
func Classify(err error) models.UpdateErrorKind {
	var chErr *ChannelError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingIdentifier):
		return models.UpdateErrorMissingIdentifier
	case errors.As(err, &chErr):
		return chErr.Kind
	default:
		return models.UpdateErrorTransient
	}
}
