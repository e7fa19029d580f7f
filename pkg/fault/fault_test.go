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
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := New(KindAuth, "missing api key")
	assert.Equal(t, KindAuth, KindOf(err))

	wrapped := fmt.Errorf("activation failed: %w", err)
	assert.Equal(t, KindAuth, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindRateLimited, true},
		{KindUpstreamTimeout, true},
		{KindUpstreamTransient, true},
		{KindValidation, false},
		{KindAuth, false},
		{KindQuotaExceeded, false},
		{KindUpstreamPermanent, false},
		{KindInternal, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Retryable(New(tt.kind, "x")), string(tt.kind))
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusUnprocessableEntity},
		{KindAuth, http.StatusUnauthorized},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindQuotaExceeded, http.StatusPaymentRequired},
		{KindUpstreamTimeout, http.StatusServiceUnavailable},
		{KindUpstreamTransient, http.StatusServiceUnavailable},
		{KindUpstreamPermanent, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(New(tt.kind, "x")), string(tt.kind))
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	err := RateLimited(120, "hourly limit exceeded")
	f, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, 120, f.RetryAfterSeconds)
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(err))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindUpstreamTransient, cause, "mcp call failed")
	assert.ErrorIs(t, err, cause)
}
