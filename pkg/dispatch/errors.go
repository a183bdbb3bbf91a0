package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"mercator-hq/ganymede/pkg/upstream"
)

// ErrorKind is the closed classification of upstream outcomes. Every
// failure maps to exactly one kind; the dispatcher's policy table keys off
// it instead of threading raw errors through control flow.
type ErrorKind int

const (
	// KindUnknown is the conservative bucket: switch account, long backoff.
	KindUnknown ErrorKind = iota

	// KindAuthExpired means the bearer token was rejected; refresh and
	// retry once, then try the next endpoint.
	KindAuthExpired

	// KindAuthPermanentlyInvalid means the credential is dead; the
	// account is invalidated.
	KindAuthPermanentlyInvalid

	// KindRateLimitedUserQuota is a per-account quota limit.
	KindRateLimitedUserQuota

	// KindRateLimitedDaily is a daily quota limit with a one-hour floor.
	KindRateLimitedDaily

	// KindRateLimitedCapacity is server-wide congestion; retry the same
	// account after a short backoff, no account penalty.
	KindRateLimitedCapacity

	// KindServerTransient is a 5xx; back off and try the next endpoint.
	KindServerTransient

	// KindBadRequest is a non-429 4xx; fatal for the request.
	KindBadRequest

	// KindNetworkTransient is a connection-level failure.
	KindNetworkTransient

	// KindContentFiltered is a success-path outcome surfaced as text.
	KindContentFiltered
)

// String returns the kind's wire name.
func (k ErrorKind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindAuthPermanentlyInvalid:
		return "auth_invalid"
	case KindRateLimitedUserQuota:
		return "rate_limited_user_quota"
	case KindRateLimitedDaily:
		return "rate_limited_daily"
	case KindRateLimitedCapacity:
		return "rate_limited_capacity"
	case KindServerTransient:
		return "server_transient"
	case KindBadRequest:
		return "bad_request"
	case KindNetworkTransient:
		return "network_transient"
	case KindContentFiltered:
		return "content_filtered"
	default:
		return "unknown"
	}
}

// IsRateLimit reports whether the kind marks the account rate-limited.
func (k ErrorKind) IsRateLimit() bool {
	return k == KindRateLimitedUserQuota || k == KindRateLimitedDaily
}

// Classification is the dispatcher's view of one upstream failure.
type Classification struct {
	Kind ErrorKind

	// ResetMillis is the server-suggested reset (unix millis), 0 if none.
	ResetMillis int64

	// Message is extracted from the upstream payload for the client.
	Message string

	// Status is the upstream HTTP status, 0 for network failures.
	Status int
}

// Classify maps an upstream error to its classification.
func Classify(err error) Classification {
	if upstream.IsPermanentAuthError(err) {
		return Classification{Kind: KindAuthPermanentlyInvalid, Message: err.Error(), Status: http.StatusUnauthorized}
	}

	var se *upstream.StatusError
	if errors.As(err, &se) {
		return classifyStatus(se)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: KindNetworkTransient, Message: err.Error()}
	}

	// Anything else at this layer is a connection-level failure.
	return Classification{Kind: KindNetworkTransient, Message: err.Error()}
}

func classifyStatus(se *upstream.StatusError) Classification {
	c := Classification{
		ResetMillis: se.RetryAfterMillis,
		Message:     extractMessage(se.Body),
		Status:      se.Code,
	}
	lower := strings.ToLower(se.Body)

	switch {
	case se.Code == http.StatusUnauthorized:
		c.Kind = KindAuthExpired

	case se.Code == http.StatusForbidden:
		c.Kind = KindAuthPermanentlyInvalid

	case se.Code == http.StatusTooManyRequests:
		switch {
		case strings.Contains(lower, "daily") || strings.Contains(lower, "per day"):
			c.Kind = KindRateLimitedDaily
		case strings.Contains(lower, "capacity") || strings.Contains(lower, "overloaded") || strings.Contains(lower, "try again later"):
			c.Kind = KindRateLimitedCapacity
		default:
			c.Kind = KindRateLimitedUserQuota
		}

	case se.Code >= 400 && se.Code < 500:
		c.Kind = KindBadRequest

	case se.Code >= 500:
		c.Kind = KindServerTransient

	default:
		c.Kind = KindUnknown
	}
	return c
}

// extractMessage digs the human message out of a structured error payload,
// falling back to the raw body.
func extractMessage(body string) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	if len(body) > 300 {
		return body[:300] + "..."
	}
	return body
}

// Error is the dispatcher's terminal failure for one request.
type Error struct {
	// Kind is the dominant classification.
	Kind ErrorKind

	// Message is client-facing.
	Message string

	// HTTPStatus is the status the handler should return.
	HTTPStatus int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
