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
package llm

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/teradata-labs/heddle/pkg/fault"
)

const maxErrorBody = 500

// classifyStatus maps a vendor HTTP error status to a fault. The body is
// truncated; credentials never appear in vendor error bodies we relay.
func classifyStatus(provider string, status int, body []byte, retryAfter string) error {
	snippet := string(body)
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.New(fault.KindAuth, "%s rejected credentials (HTTP %d)", provider, status)
	case status == http.StatusTooManyRequests:
		seconds := 60
		if retryAfter != "" {
			if n, err := strconv.Atoi(retryAfter); err == nil && n > 0 {
				seconds = n
			}
		}
		return fault.RateLimited(seconds, "%s rate limited: %s", provider, snippet)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fault.New(fault.KindUpstreamTimeout, "%s timed out (HTTP %d)", provider, status)
	case status == http.StatusInternalServerError ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == 529: // Anthropic overloaded
		return fault.New(fault.KindUpstreamTransient, "%s unavailable (HTTP %d): %s", provider, status, snippet)
	default:
		return fault.New(fault.KindUpstreamPermanent, "%s error (HTTP %d): %s", provider, status, snippet)
	}
}

// classifyTransport maps a transport-level error to a fault.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindUpstreamTimeout, err, "%s request timed out", provider)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fault.Wrap(fault.KindUpstreamTransient, err, "%s request failed", provider)
}
