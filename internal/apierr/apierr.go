// Package apierr classifies upstream HTTP/network failures into the error
// taxonomy from spec §7, so every layer reports Kind/Retryable/UserSignal
// uniformly instead of inventing its own ad-hoc handling.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is one taxonomy bucket.
type Kind string

const (
	KindRateLimit         Kind = "rate_limit"
	KindServiceUnavailable Kind = "service_unavailable"
	KindDatabaseError     Kind = "database_error"
	KindAuthentication    Kind = "authentication"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindClientError       Kind = "client_error"
	KindServerError       Kind = "server_error"
	KindTimeout           Kind = "timeout"
	KindNetwork           Kind = "network"
	KindDNS               Kind = "dns"
	KindMaxTokens         Kind = "max_tokens"
	KindProhibitedContent Kind = "prohibited_content"
	KindInvalidSource     Kind = "invalid_source"
	KindUnknown           Kind = "unknown"
)

// classification is the static metadata for a Kind.
type classification struct {
	retryable bool
	signal    string
}

var table = map[Kind]classification{
	KindRateLimit:          {retryable: true, signal: "wait a few minutes"},
	KindServiceUnavailable: {retryable: true, signal: "try again later"},
	KindDatabaseError:      {retryable: true, signal: "trying next provider"},
	KindAuthentication:     {retryable: false, signal: "check credentials"},
	KindQuotaExceeded:      {retryable: false, signal: "daily limit reached"},
	KindClientError:        {retryable: false, signal: "invalid request"},
	KindServerError:        {retryable: true, signal: "server error"},
	KindTimeout:            {retryable: true, signal: "network issue"},
	KindNetwork:            {retryable: true, signal: "network issue"},
	KindDNS:                {retryable: false, signal: "network issue"},
	KindMaxTokens:          {retryable: false, signal: "translation too long, try a smaller batch"},
	KindProhibitedContent:  {retryable: false, signal: "content was rejected by the translator"},
	KindInvalidSource:      {retryable: false, signal: "source text could not be translated"},
	KindUnknown:            {retryable: false, signal: "unexpected error"},
}

// Retryable reports whether k should be retried inside the provider client's
// bounded retry budget.
func (k Kind) Retryable() bool { return table[k].retryable }

// UserSignal is the short user-facing guidance string for k.
func (k Kind) UserSignal() string { return table[k].signal }

// Error wraps an underlying error with its classified Kind and an
// already-logged marker so upper layers don't double-log it (spec §7).
type Error struct {
	Kind           Kind
	StatusCode     int
	Err            error
	alreadyLogged  bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// MarkLogged flags the error as already reported to telemetry/logs.
func (e *Error) MarkLogged() { e.alreadyLogged = true }

// AlreadyLogged reports whether MarkLogged was previously called.
func (e *Error) AlreadyLogged() bool { return e.alreadyLogged }

// New builds a classified error from a raw cause.
func New(kind Kind, statusCode int, cause error) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Err: cause}
}

// quotaMarkers are substrings OpenSubtitles (and similarly shaped upstreams)
// embed in a 406 body when the caller's daily download quota is exhausted.
var quotaMarkers = []string{"quota", "daily limit", "limit reached"}

// ClassifyHTTP maps an HTTP status code (and, for ambiguous codes, a lowered
// response body snippet) to a Kind.
func ClassifyHTTP(statusCode int, bodySnippet string) Kind {
	lower := strings.ToLower(bodySnippet)
	switch statusCode {
	case 401, 403:
		return KindAuthentication
	case 406:
		for _, m := range quotaMarkers {
			if strings.Contains(lower, m) {
				return KindQuotaExceeded
			}
		}
		return KindClientError
	case 429, 456, 459:
		return KindRateLimit
	case 469:
		return KindDatabaseError
	case 503:
		return KindServiceUnavailable
	}
	switch {
	case statusCode >= 400 && statusCode < 500:
		return KindClientError
	case statusCode >= 500:
		return KindServerError
	}
	return KindUnknown
}

// ClassifyNetwork maps a transport-level Go error (timeouts, connection
// resets/refused, DNS failures) to a Kind.
func ClassifyNetwork(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"):
		return KindNetwork
	case strings.Contains(msg, "timeout"):
		return KindTimeout
	}
	return KindNetwork
}

// IsRetryableHTTPStatus reports whether status is one of the provider
// client's retry-eligible statuses (§4.1: timeout, ECONNRESET/REFUSED, HTTP
// 429/503/5xx).
func IsRetryableHTTPStatus(status int) bool {
	switch status {
	case 429, 503:
		return true
	}
	return status >= 500
}
