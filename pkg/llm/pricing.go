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

import "strings"

// modelPrice holds per-million-token prices in micro-USD. Integer math end
// to end: cost never accumulates float drift.
type modelPrice struct {
	inputMicroPerMTok  int64
	outputMicroPerMTok int64
}

// priceTable maps model id prefixes to prices. Longest matching prefix wins.
// Unknown models price at zero rather than guessing.
var priceTable = map[string]modelPrice{
	// Anthropic
	"claude-opus":   {15_000_000, 75_000_000},
	"claude-sonnet": {3_000_000, 15_000_000},
	"claude-haiku":  {800_000, 4_000_000},
	"claude-3-5":    {3_000_000, 15_000_000},

	// OpenAI
	"gpt-4o-mini": {150_000, 600_000},
	"gpt-4o":      {2_500_000, 10_000_000},
	"gpt-4.1":     {2_000_000, 8_000_000},
	"o3":          {2_000_000, 8_000_000},

	// Google
	"gemini-2.5-pro":   {1_250_000, 10_000_000},
	"gemini-2.5-flash": {300_000, 2_500_000},
	"gemini-2.0-flash": {100_000, 400_000},
	"gemini-1.5-pro":   {1_250_000, 5_000_000},

	// Bedrock model ids carry a vendor prefix.
	"anthropic.claude-opus":   {15_000_000, 75_000_000},
	"anthropic.claude-sonnet": {3_000_000, 15_000_000},
	"anthropic.claude-haiku":  {800_000, 4_000_000},

	// Friendli serverless meta models
	"meta-llama": {600_000, 600_000},
}

// CostMicroUSD prices a call in integer micro-USD. Local models and unknown
// ids cost zero.
func CostMicroUSD(model string, inputTokens, outputTokens int) int64 {
	price, ok := priceFor(model)
	if !ok {
		return 0
	}
	in := int64(inputTokens) * price.inputMicroPerMTok / 1_000_000
	out := int64(outputTokens) * price.outputMicroPerMTok / 1_000_000
	return in + out
}

func priceFor(model string) (modelPrice, bool) {
	model = strings.ToLower(model)
	var (
		best    modelPrice
		bestLen = -1
	)
	for prefix, price := range priceTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = price
			bestLen = len(prefix)
		}
	}
	return best, bestLen >= 0
}
