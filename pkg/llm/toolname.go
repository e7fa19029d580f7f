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

// SanitizeToolName converts a tool name to a provider-compatible form.
// Providers restrict tool names (Bedrock: ^[a-zA-Z0-9_-]{1,64}$, Gemini:
// ^[a-zA-Z_][a-zA-Z0-9_]*$), while MCP tools use colon namespacing like
// "vantage-mcp:execute_sql". Colons become underscores.
func SanitizeToolName(name string) string {
	return strings.ReplaceAll(name, ":", "_")
}

// BuildToolNameMap maps sanitized names back to the originals so tool calls
// round-trip through a restrictive provider unchanged.
func BuildToolNameMap(names []string) map[string]string {
	m := make(map[string]string, len(names))
	for _, name := range names {
		m[SanitizeToolName(name)] = name
	}
	return m
}

// ReverseToolName resolves a sanitized name to its original, passing through
// names that were never sanitized.
func ReverseToolName(nameMap map[string]string, sanitized string) string {
	if original, ok := nameMap[sanitized]; ok {
		return original
	}
	return sanitized
}
