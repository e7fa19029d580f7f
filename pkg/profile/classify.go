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
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/types"
	"go.uber.org/zap"
)

// Classifier categorizes an MCP server's advertised capabilities.
type Classifier interface {
	Classify(ctx context.Context, mode ClassificationMode, tools []types.ToolDefinition, prompts []PromptInfo) (*Classification, error)
}

// LLMClassifier delegates categorization to an LLM. Light mode sends names
// and descriptions only; full mode includes argument schemas.
type LLMClassifier struct {
	provider types.LLMProvider
}

// NewLLMClassifier creates a classifier backed by the given provider.
func NewLLMClassifier(provider types.LLMProvider) *LLMClassifier {
	return &LLMClassifier{provider: provider}
}

const classifyPrompt = `Categorize the following capabilities of a tool server.
Respond with a single JSON object mapping category names (lowercase snake_case,
e.g. "database", "filesystem", "search", "visualization", "other") to arrays of
capability names. Use the key "tools" for tools and "prompts" for prompts:
{"tools": {"<category>": ["name", ...]}, "prompts": {"<category>": ["name", ...]}}

%s`

// Classify runs one LLM call over the advertised surface and parses the
// categorized result. Capabilities the LLM omits land in "other".
func (c *LLMClassifier) Classify(ctx context.Context, mode ClassificationMode, tools []types.ToolDefinition, prompts []PromptInfo) (*Classification, error) {
	var sb strings.Builder
	sb.WriteString("TOOLS:\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		if mode == ClassifyFull && t.InputSchema != nil {
			if schema, err := json.Marshal(t.InputSchema); err == nil {
				fmt.Fprintf(&sb, "  schema: %s\n", schema)
			}
		}
	}
	if len(prompts) > 0 {
		sb.WriteString("PROMPTS:\n")
		for _, p := range prompts {
			fmt.Fprintf(&sb, "- %s: %s\n", p.Name, p.Description)
		}
	}

	resp, err := c.provider.Chat(ctx, []types.Message{
		{Role: "user", Content: fmt.Sprintf(classifyPrompt, sb.String())},
	}, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamTransient, err, "classification call failed")
	}

	parsed := struct {
		Tools   map[string][]string `json:"tools"`
		Prompts map[string][]string `json:"prompts"`
	}{}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil {
		log.Warn("classification response unparseable, using single category",
			zap.Error(err))
		parsed.Tools = nil
	}

	result := &Classification{
		Tools:              map[string][]ToolInfo{},
		Prompts:            map[string][]PromptInfo{},
		LastClassifiedAt:   time.Now(),
		ClassifiedWithMode: mode,
	}

	descOf := map[string]string{}
	for _, t := range tools {
		descOf[t.Name] = t.Description
	}
	assigned := map[string]bool{}
	for category, names := range parsed.Tools {
		for _, name := range names {
			if _, known := descOf[name]; !known {
				continue // hallucinated name
			}
			result.Tools[category] = append(result.Tools[category],
				ToolInfo{Name: name, Description: descOf[name]})
			assigned[name] = true
		}
	}
	for _, t := range tools {
		if !assigned[t.Name] {
			result.Tools["other"] = append(result.Tools["other"],
				ToolInfo{Name: t.Name, Description: t.Description})
		}
	}

	promptDesc := map[string]string{}
	for _, p := range prompts {
		promptDesc[p.Name] = p.Description
	}
	assignedPrompts := map[string]bool{}
	for category, names := range parsed.Prompts {
		for _, name := range names {
			if _, known := promptDesc[name]; !known {
				continue
			}
			result.Prompts[category] = append(result.Prompts[category],
				PromptInfo{Name: name, Description: promptDesc[name]})
			assignedPrompts[name] = true
		}
	}
	for _, p := range prompts {
		if !assignedPrompts[p.Name] {
			result.Prompts["other"] = append(result.Prompts["other"], p)
		}
	}

	return result, nil
}

// extractJSON strips markdown fences the LLM may wrap the object in.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		text = strings.TrimPrefix(text, "json")
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// keywordCategories maps substrings of a capability name or description to a
// category. First match wins; unmatched capabilities land in "other".
var keywordCategories = []struct {
	category string
	words    []string
}{
	{"database", []string{"sql", "query", "table", "schema", "database", "db"}},
	{"filesystem", []string{"file", "directory", "path", "read", "write"}},
	{"search", []string{"search", "find", "lookup", "retrieve"}},
	{"visualization", []string{"chart", "plot", "graph", "canvas", "render", "visual"}},
	{"web", []string{"http", "url", "fetch", "browse", "web"}},
}

// KeywordClassifier is the deterministic fallback used when no classification
// LLM is configured. Mode is ignored; matching only sees names and
// descriptions.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(ctx context.Context, mode ClassificationMode, tools []types.ToolDefinition, prompts []PromptInfo) (*Classification, error) {
	result := &Classification{
		Tools:              map[string][]ToolInfo{},
		Prompts:            map[string][]PromptInfo{},
		LastClassifiedAt:   time.Now(),
		ClassifiedWithMode: mode,
	}
	for _, t := range tools {
		cat := keywordCategory(t.Name + " " + t.Description)
		result.Tools[cat] = append(result.Tools[cat], ToolInfo{Name: t.Name, Description: t.Description})
	}
	for _, p := range prompts {
		cat := keywordCategory(p.Name + " " + p.Description)
		result.Prompts[cat] = append(result.Prompts[cat], p)
	}
	return result, nil
}

func keywordCategory(text string) string {
	text = strings.ToLower(text)
	for _, kc := range keywordCategories {
		for _, w := range kc.words {
			if strings.Contains(text, w) {
				return kc.category
			}
		}
	}
	return "other"
}
