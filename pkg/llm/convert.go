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
	"encoding/json"

	"github.com/teradata-labs/heddle/pkg/types"
)

// messageText flattens a message to plain text. Block content takes
// precedence over the Content field; thinking blocks are skipped.
func messageText(m types.Message) string {
	if len(m.ContentBlocks) == 0 {
		return m.Content
	}
	var out string
	for _, b := range m.ContentBlocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// toolResultText serializes a tool result for the wire.
func toolResultText(r *types.ToolResult) string {
	if r == nil {
		return ""
	}
	if r.Error != nil {
		return "error: " + r.Error.Message
	}
	if s, ok := r.Data.(string); ok {
		return s
	}
	data, err := json.Marshal(r.Data)
	if err != nil {
		return ""
	}
	return string(data)
}

// schemaMap converts a tool schema to a generic map for providers that take
// raw JSON schema objects. A nil schema yields a minimal object schema.
func schemaMap(s *types.JSONSchema) map[string]interface{} {
	if s == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	data, err := json.Marshal(types.NormalizeSchema(s))
	if err != nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return m
}

// splitSystem separates system messages from the conversation for providers
// that carry the system prompt out of band.
func splitSystem(messages []types.Message) (string, []types.Message) {
	var system string
	rest := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += messageText(m)
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
