package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/upstream"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "401 is expired auth",
			err:  &upstream.StatusError{Code: http.StatusUnauthorized, Body: "token expired"},
			want: KindAuthExpired,
		},
		{
			name: "403 is permanent auth",
			err:  &upstream.StatusError{Code: http.StatusForbidden, Body: "PERMISSION_DENIED"},
			want: KindAuthPermanentlyInvalid,
		},
		{
			name: "429 defaults to user quota",
			err:  &upstream.StatusError{Code: http.StatusTooManyRequests, Body: `{"error":{"message":"Quota exceeded"}}`},
			want: KindRateLimitedUserQuota,
		},
		{
			name: "429 daily",
			err:  &upstream.StatusError{Code: http.StatusTooManyRequests, Body: "daily limit reached"},
			want: KindRateLimitedDaily,
		},
		{
			name: "429 capacity",
			err:  &upstream.StatusError{Code: http.StatusTooManyRequests, Body: "The model is overloaded, try again later"},
			want: KindRateLimitedCapacity,
		},
		{
			name: "400 is fatal",
			err:  &upstream.StatusError{Code: http.StatusBadRequest, Body: "invalid argument"},
			want: KindBadRequest,
		},
		{
			name: "500 is transient",
			err:  &upstream.StatusError{Code: http.StatusInternalServerError, Body: "internal"},
			want: KindServerTransient,
		},
		{
			name: "503 is transient",
			err:  &upstream.StatusError{Code: http.StatusServiceUnavailable, Body: "unavailable"},
			want: KindServerTransient,
		},
		{
			name: "permanent refresh failure",
			err:  &upstream.PermanentAuthError{Account: "a", Reason: "invalid_grant"},
			want: KindAuthPermanentlyInvalid,
		},
		{
			name: "connection error is network transient",
			err:  errors.New("dial tcp: connection refused"),
			want: KindNetworkTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.want {
				t.Errorf("Classify() kind = %s, want %s", got.Kind, tt.want)
			}
		})
	}
}

func TestClassify_ExtractsMessage(t *testing.T) {
	err := &upstream.StatusError{
		Code: http.StatusBadRequest,
		Body: `{"error":{"code":400,"message":"thinking.budget_tokens is too large","status":"INVALID_ARGUMENT"}}`,
	}
	got := Classify(err)
	if got.Message != "thinking.budget_tokens is too large" {
		t.Errorf("message = %q, want the upstream error message", got.Message)
	}
}

func TestClassify_CarriesReset(t *testing.T) {
	reset := time.Now().Add(42 * time.Second).UnixMilli()
	err := &upstream.StatusError{
		Code:             http.StatusTooManyRequests,
		Body:             "quota",
		RetryAfterMillis: reset,
	}
	got := Classify(err)
	if got.ResetMillis != reset {
		t.Errorf("reset = %d, want %d", got.ResetMillis, reset)
	}
}

func TestErrorKindString(t *testing.T) {
	kinds := map[ErrorKind]string{
		KindAuthExpired:            "auth_expired",
		KindAuthPermanentlyInvalid: "auth_invalid",
		KindRateLimitedUserQuota:   "rate_limited_user_quota",
		KindRateLimitedDaily:       "rate_limited_daily",
		KindRateLimitedCapacity:    "rate_limited_capacity",
		KindServerTransient:        "server_transient",
		KindBadRequest:             "bad_request",
		KindNetworkTransient:       "network_transient",
		KindContentFiltered:        "content_filtered",
		KindUnknown:                "unknown",
	}
	for kind, want := range kinds {
		if kind.String() != want {
			t.Errorf("%d.String() = %q, want %q", kind, kind.String(), want)
		}
	}
}

func TestDispatchError(t *testing.T) {
	err := &Error{Kind: KindBadRequest, Message: "boom", HTTPStatus: 400}
	if want := fmt.Sprintf("%s: boom", KindBadRequest); err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
