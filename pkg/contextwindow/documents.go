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
package contextwindow

import (
	"context"
	"fmt"
	"strings"

	"github.com/teradata-labs/heddle/pkg/tokens"
	"github.com/teradata-labs/heddle/pkg/types"
)

// maxDocumentChars caps one attachment's contribution.
const maxDocumentChars = 50_000

// documentContextModule injects uploaded-document extracts. Truncation
// prefers document boundaries: whole files are included until the budget
// runs out, and only the first file is ever cut mid-document.
type documentContextModule struct {
	est *tokens.Estimator
}

func (m *documentContextModule) ID() string                            { return ModuleDocumentContext }
func (m *documentContextModule) Weight() float64                       { return 0.10 }
func (m *documentContextModule) AppliesTo(types.ProfileKind) bool      { return true }
func (m *documentContextModule) Condensable() bool                     { return true }
func (m *documentContextModule) Purge(ownerID, sessionID string) error { return nil }

func (m *documentContextModule) Contribute(ctx context.Context, budget int, tc *TurnContext) (Contribution, error) {
	content, count := m.render(tc, budget)
	if content == "" {
		return Contribution{}, nil
	}
	return Contribution{
		Content:    content,
		TokensUsed: m.est.Estimate(content),
		Metadata:   map[string]interface{}{"document_count": count},
	}, nil
}

func (m *documentContextModule) Condense(ctx context.Context, content string, target int, tc *TurnContext) (string, error) {
	condensed, _ := m.render(tc, target)
	return condensed, nil
}

func (m *documentContextModule) render(tc *TurnContext, budget int) (string, int) {
	if tc.Session == nil || len(tc.Session.Attachments) == 0 {
		return "", 0
	}

	remaining := m.est.CharsFor(budget)
	var b strings.Builder
	count := 0
	for _, doc := range tc.Session.Attachments {
		text := doc.Content
		if len(text) > maxDocumentChars {
			text = text[:maxDocumentChars]
		}
		header := fmt.Sprintf("=== DOCUMENT: %s ===\n", doc.Filename)
		need := len(header) + len(text) + 1
		if need > remaining {
			if count > 0 {
				break
			}
			// First document gets cut rather than dropped entirely.
			avail := remaining - len(header) - 1
			if avail <= 0 {
				break
			}
			text = text[:min(avail, len(text))]
			need = len(header) + len(text) + 1
		}
		b.WriteString(header)
		b.WriteString(text)
		b.WriteString("\n")
		remaining -= need
		count++
	}
	return b.String(), count
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
