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
// Package tokens provides deterministic token estimation for context-window
// budgeting. The estimator is a fixed character ratio, independent of
// provider, so budgets are reproducible across models.
package tokens

import "github.com/teradata-labs/heddle/pkg/types"

const (
	// DefaultCharsPerToken is the fixed estimation ratio.
	DefaultCharsPerToken = 4

	// MessageOverheadTokens is the per-message formatting overhead added by
	// EstimateMessages. Role framing and structure cost at least this much.
	MessageOverheadTokens = 4
)

// Estimator converts between characters and tokens using a fixed ratio.
// Estimates round up, so they are safe to compare against hard budgets.
type Estimator struct {
	charsPerToken int
	overhead      int
	exact         *ExactCounter
}

// NewEstimator creates an estimator with the default 4-chars-per-token ratio.
func NewEstimator() *Estimator {
	return NewEstimatorWithRatio(DefaultCharsPerToken, MessageOverheadTokens)
}

// NewEstimatorWithRatio creates an estimator with a custom ratio and
// per-message overhead. Ratio values below 1 fall back to the default;
// overhead is clamped to the minimum.
func NewEstimatorWithRatio(charsPerToken, overhead int) *Estimator {
	if charsPerToken < 1 {
		charsPerToken = DefaultCharsPerToken
	}
	if overhead < MessageOverheadTokens {
		overhead = MessageOverheadTokens
	}
	return &Estimator{charsPerToken: charsPerToken, overhead: overhead}
}

// NewExactEstimator creates an estimator that counts with tiktoken
// cl100k_base instead of the character ratio. CharsFor stays ratio-based;
// the inverse direction only sizes condensation targets.
func NewExactEstimator() *Estimator {
	e := NewEstimator()
	e.exact = GetExactCounter()
	return e
}

// Estimate returns the token estimate for text, rounding up.
func (e *Estimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	if e.exact != nil {
		return e.exact.Count(text)
	}
	return (len(text) + e.charsPerToken - 1) / e.charsPerToken
}

// CharsFor returns the number of characters that fit in the given token
// budget. Inverse of Estimate under the same ratio.
func (e *Estimator) CharsFor(tokenCount int) int {
	if tokenCount <= 0 {
		return 0
	}
	return tokenCount * e.charsPerToken
}

// EstimateMessages sums per-message estimates plus the fixed per-message
// overhead. Tool calls and tool results count toward the message they ride on.
func (e *Estimator) EstimateMessages(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += e.overhead
		total += e.Estimate(msg.Content)
		for _, block := range msg.ContentBlocks {
			total += e.Estimate(block.Text)
		}
		for _, call := range msg.ToolCalls {
			total += e.Estimate(call.Name)
			for k, v := range call.Input {
				total += e.Estimate(k)
				if s, ok := v.(string); ok {
					total += e.Estimate(s)
				} else {
					total += 2
				}
			}
		}
		if msg.ToolResult != nil {
			if s, ok := msg.ToolResult.Data.(string); ok {
				total += e.Estimate(s)
			} else if msg.ToolResult.Data != nil {
				total += 16
			}
		}
	}
	return total
}
