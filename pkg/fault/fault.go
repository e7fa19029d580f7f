// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package fault provides kind-tagged errors. Retry decisions and HTTP status
// mapping consult the kind, never the message text.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an error for propagation policy.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuth              Kind = "auth"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindRateLimited       Kind = "rate_limited"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindUpstreamTimeout   Kind = "upstream_timeout"
	KindUpstreamTransient Kind = "upstream_transient"
	KindUpstreamPermanent Kind = "upstream_permanent"
	KindInternal          Kind = "internal"
)

// Fault is an error with a kind and optional cause.
// Messages must never include credentials.
type Fault struct {
	Kind    Kind
	Message string
	Cause   error

	// RetryAfterSeconds is set for rate_limited faults.
	RetryAfterSeconds int
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap returns the cause for errors.Is/As chains.
func (f *Fault) Unwrap() error {
	return f.Cause
}

// New creates a fault with the given kind and message.
func New(kind Kind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault wrapping a cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// RateLimited creates a rate_limited fault carrying a retry-after hint.
func RateLimited(retryAfterSeconds int, format string, args ...interface{}) *Fault {
	return &Fault{
		Kind:              KindRateLimited,
		Message:           fmt.Sprintf(format, args...),
		RetryAfterSeconds: retryAfterSeconds,
	}
}

// KindOf returns the kind of an error, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// As extracts the fault from an error chain, if any.
func As(err error) (*Fault, bool) {
	var f *Fault
	ok := errors.As(err, &f)
	return f, ok
}

// Retryable reports whether the error class permits a bounded retry.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindUpstreamTimeout, KindUpstreamTransient:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind to its HTTP response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindQuotaExceeded:
		return http.StatusPaymentRequired
	case KindUpstreamTimeout, KindUpstreamTransient:
		return http.StatusServiceUnavailable
	case KindUpstreamPermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
