package clients

import (
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// HTTPOptions holds transport settings shared by every upstream client
type HTTPOptions struct {
	HTTPClient *http.Client
	Retrier    *Retrier
	RateLimit  rate.Limit
	Burst      int
}

// Option customizes HTTPOptions
type Option func(*HTTPOptions)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *HTTPOptions) { o.HTTPClient = c }
}

// WithRetrier replaces the default retrier
func WithRetrier(r *Retrier) Option {
	return func(o *HTTPOptions) { o.Retrier = r }
}

// WithRateLimit sets requests per second and burst
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *HTTPOptions) {
		o.RateLimit = rate.Limit(perSecond)
		o.Burst = burst
	}
}

// BuildHTTPOptions applies opts over the per-client defaults
func BuildHTTPOptions(perSecond float64, opts []Option) HTTPOptions {
	o := HTTPOptions{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		RateLimit:  rate.Limit(perSecond),
		Burst:      1,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Retrier == nil {
		o.Retrier = NewRetrier(nil, NewCircuitBreaker(5, 30*time.Second))
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	return o
}

// CredentialString reads a string credential, accepting numbers as well
func CredentialString(credentials map[string]interface{}, key string) string {
	switch v := credentials[key].(type) {
	case string:
		return v
	case float64:
		return formatFloatID(v)
	default:
		return ""
	}
}

func formatFloatID(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
