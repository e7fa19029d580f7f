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
	"fmt"
	"regexp"
	"strings"

	"github.com/teradata-labs/heddle/pkg/types"
)

// canvasLanguages are the fenced-block languages promoted to canvas payloads
// without heuristic inspection.
var canvasLanguages = map[string]bool{
	"html":       true,
	"css":        true,
	"javascript": true,
	"python":     true,
	"sql":        true,
	"markdown":   true,
	"json":       true,
	"svg":        true,
	"mermaid":    true,
}

var fencedBlockRE = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)[ \t]*\n(.*?)```")

// heuristicSample bounds how much of an untagged block the language sniffer
// inspects.
const heuristicSample = 500

// extractCanvasBlocks scans answer text for fenced code blocks and converts
// recognized ones into canvas payloads, removing them from the text. Blocks
// with no usable language tag are sniffed from their first characters;
// unrecognized blocks stay in the text untouched.
func extractCanvasBlocks(answer string) (string, []types.ComponentPayload) {
	matches := fencedBlockRE.FindAllStringSubmatchIndex(answer, -1)
	if len(matches) == 0 {
		return answer, nil
	}

	var payloads []types.ComponentPayload
	var out strings.Builder
	prev := 0
	for _, m := range matches {
		lang := strings.ToLower(answer[m[2]:m[3]])
		code := answer[m[4]:m[5]]
		if !canvasLanguages[lang] {
			lang = sniffLanguage(code)
		}
		if lang == "" {
			continue
		}
		out.WriteString(answer[prev:m[0]])
		prev = m[1]

		lines := strings.Count(strings.TrimRight(code, "\n"), "\n") + 1
		payloads = append(payloads, types.ComponentPayload{
			Component: "canvas",
			Payload: map[string]interface{}{
				"title":             canvasTitle(lang, len(payloads)+1),
				"language":          lang,
				"content":           code,
				"line_count":        lines,
				"preview_supported": lang == "html" || lang == "svg" || lang == "mermaid" || lang == "markdown",
			},
		})
	}
	if payloads == nil {
		return answer, nil
	}
	out.WriteString(answer[prev:])
	return strings.TrimSpace(out.String()), payloads
}

func canvasTitle(lang string, n int) string {
	return fmt.Sprintf("%s snippet %d", strings.ToUpper(lang[:1])+lang[1:], n)
}

// sniffLanguage guesses the language of an untagged block from its opening
// characters. Conservative: a miss keeps the block inline.
func sniffLanguage(code string) string {
	sample := strings.TrimSpace(code)
	if len(sample) > heuristicSample {
		sample = sample[:heuristicSample]
	}
	upper := strings.ToUpper(sample)
	switch {
	case strings.HasPrefix(sample, "<!DOCTYPE") || strings.HasPrefix(sample, "<html"):
		return "html"
	case strings.HasPrefix(sample, "<svg"):
		return "svg"
	case strings.HasPrefix(upper, "SELECT ") || strings.HasPrefix(upper, "WITH ") ||
		strings.HasPrefix(upper, "INSERT ") || strings.HasPrefix(upper, "CREATE TABLE"):
		return "sql"
	case strings.HasPrefix(sample, "{") && strings.HasSuffix(strings.TrimSpace(sample), "}"):
		return "json"
	case strings.HasPrefix(sample, "graph ") || strings.HasPrefix(sample, "sequenceDiagram") ||
		strings.HasPrefix(sample, "flowchart "):
		return "mermaid"
	case strings.HasPrefix(sample, "def ") || strings.HasPrefix(sample, "import ") ||
		strings.HasPrefix(sample, "from "):
		return "python"
	default:
		return ""
	}
}

// hasCanvasTool reports whether any bound tool renders to a canvas.
func hasCanvasTool(tools []types.ToolDefinition) bool {
	for _, t := range tools {
		if strings.Contains(strings.ToLower(t.Name), "canvas") {
			return true
		}
	}
	return false
}

// hasCanvasPayload reports whether a canvas payload was already produced by
// a tool this turn.
func hasCanvasPayload(payloads []types.ComponentPayload) bool {
	for _, p := range payloads {
		if p.Component == "canvas" {
			return true
		}
	}
	return false
}
