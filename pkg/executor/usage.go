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
	"sync"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/llm"
	"github.com/teradata-labs/heddle/pkg/types"
)

var missingUsageOnce sync.Once

// ExtractUsage recovers token usage from a provider response. Providers
// that fill Usage directly win; otherwise the metadata is searched in
// precedence order: usage_metadata, then response_metadata's
// token_usage/usage/usage_metadata, then per-generation metadata. Both
// input_tokens/output_tokens and prompt_tokens/completion_tokens spellings
// are accepted. Absent usage stays zero and is logged once per process.
func ExtractUsage(resp *types.LLMResponse, model string) types.Usage {
	u := resp.Usage
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		u = usageFromMetadata(resp.Metadata)
	}
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		missingUsageOnce.Do(func() {
			log.Warn("provider reported no token usage; counters will undercount")
		})
		return u
	}
	u.TotalTokens = u.InputTokens + u.OutputTokens
	if u.CostMicroUSD == 0 {
		u.CostMicroUSD = llm.CostMicroUSD(model, u.InputTokens, u.OutputTokens)
	}
	return u
}

func usageFromMetadata(meta map[string]interface{}) types.Usage {
	if meta == nil {
		return types.Usage{}
	}
	if u, ok := usageFromMap(meta["usage_metadata"]); ok {
		return u
	}
	if rm, ok := meta["response_metadata"].(map[string]interface{}); ok {
		for _, key := range []string{"token_usage", "usage", "usage_metadata"} {
			if u, ok := usageFromMap(rm[key]); ok {
				return u
			}
		}
	}
	if gens, ok := meta["generations"].([]interface{}); ok {
		for _, g := range gens {
			gm, ok := g.(map[string]interface{})
			if !ok {
				continue
			}
			if u, ok := usageFromMap(gm["usage"]); ok {
				return u
			}
		}
	}
	return types.Usage{}
}

func usageFromMap(v interface{}) (types.Usage, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return types.Usage{}, false
	}
	in := intField(m, "input_tokens")
	out := intField(m, "output_tokens")
	if in == 0 && out == 0 {
		in = intField(m, "prompt_tokens")
		out = intField(m, "completion_tokens")
	}
	if in == 0 && out == 0 {
		return types.Usage{}, false
	}
	return types.Usage{InputTokens: in, OutputTokens: out}, true
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
