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
package executor

import (
	"context"
	"time"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/types"
	"go.uber.org/zap"
)

const (
	llmMaxAttempts = 3
	llmBaseDelay   = 1 * time.Second
	llmCallTimeout = 120 * time.Second
)

// chatWithRetry wraps provider Chat calls with exponential backoff. Only
// retryable faults (rate_limited, upstream_timeout, upstream_transient) are
// retried; auth and validation failures surface immediately.
func (e *Executor) chatWithRetry(ctx context.Context, provider types.LLMProvider, messages []types.Message, tools []types.ToolDefinition) (*types.LLMResponse, error) {
	var lastErr error
	delay := llmBaseDelay

	for attempt := 1; attempt <= llmMaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
		resp, err := provider.Chat(callCtx, messages, tools)
		cancel()
		if err == nil {
			if attempt > 1 {
				log.Info("llm retry succeeded",
					zap.Int("attempt", attempt),
					zap.String("provider", provider.Name()))
			}
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !fault.Retryable(err) || attempt == llmMaxAttempts {
			break
		}

		wait := delay
		if f, ok := fault.As(err); ok && f.RetryAfterSeconds > 0 {
			wait = time.Duration(f.RetryAfterSeconds) * time.Second
		}
		log.Warn("llm call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", llmMaxAttempts),
			zap.Duration("delay", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}

	return nil, lastErr
}
