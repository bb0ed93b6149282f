package crawler

import (
	"errors"
)

// Failure causes. Tier fetchers wrap one of these so the dispatcher can tell
// them apart when it logs a fallback.
var (
	ErrInvalidURL        = errors.New("invalid url")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrNoIdentifier      = errors.New("no page identifier")
	ErrPageMissing       = errors.New("page missing")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrAPIError          = errors.New("api error")
	ErrServerError       = errors.New("server error")
	ErrBadStatus         = errors.New("non-success status")
	ErrEmptyBody         = errors.New("empty body")
	ErrNotHTML           = errors.New("non-html content type")
	ErrEmptyContent      = errors.New("empty content")
	ErrBlocked           = errors.New("anti-bot challenge detected")
	ErrTransport         = errors.New("transport error")
	ErrRendererDisabled  = errors.New("renderer disabled")
)

var reasonOrder = []error{
	ErrInvalidURL,
	ErrCircuitOpen,
	ErrNoIdentifier,
	ErrPageMissing,
	ErrInvalidIdentifier,
	ErrServerError,
	ErrAPIError,
	ErrBadStatus,
	ErrEmptyBody,
	ErrNotHTML,
	ErrEmptyContent,
	ErrBlocked,
	ErrTransport,
	ErrRendererDisabled,
}

// Reason maps err to the short label used in logs and metrics.
func Reason(err error) string {
	if err == nil {
		return "ok"
	}
	for _, sentinel := range reasonOrder {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "unknown"
}
