package generation

import "errors"

// Outcome classes for a completion call. Transports wrap one of these so
// callers can use errors.Is.
var (
	// ErrAuth is returned when the provider rejects the credentials. Not retried.
	ErrAuth = errors.New("completion provider rejected credentials")

	// ErrConfig is returned for a malformed request or a response missing
	// required fields. Not retried.
	ErrConfig = errors.New("completion request or response is malformed")

	// ErrRateLimited is returned when the provider throttles the caller. Retried.
	ErrRateLimited = errors.New("completion provider rate limited the request")

	// ErrTransient is returned for network failures and provider-side errors. Retried.
	ErrTransient = errors.New("transient completion failure")
)

// IsRetryable reports whether err belongs to a class that is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
