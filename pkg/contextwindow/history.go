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

	"github.com/teradata-labs/heddle/pkg/session"
	"github.com/teradata-labs/heddle/pkg/tokens"
	"github.com/teradata-labs/heddle/pkg/types"
)

// conversationHistoryModule renders prior chat messages. Invalid messages
// never enter the context. Under budget pressure a sliding window keeps the
// most recent message pairs; the last user/assistant pair survives as long
// as it fits.
type conversationHistoryModule struct {
	est *tokens.Estimator
}

func (m *conversationHistoryModule) ID() string                            { return ModuleConversationHistory }
func (m *conversationHistoryModule) Weight() float64                       { return 0.30 }
func (m *conversationHistoryModule) AppliesTo(types.ProfileKind) bool      { return true }
func (m *conversationHistoryModule) Condensable() bool                     { return true }
func (m *conversationHistoryModule) Purge(ownerID, sessionID string) error { return nil }

func (m *conversationHistoryModule) Contribute(ctx context.Context, budget int, tc *TurnContext) (Contribution, error) {
	if tc.Session == nil {
		return Contribution{}, nil
	}
	messages := tc.Session.ValidMessages()
	if len(messages) == 0 {
		return Contribution{}, nil
	}
	kept := m.window(messages, budget)
	if len(kept) == 0 {
		return Contribution{}, nil
	}
	content := renderMessages(kept)
	return Contribution{
		Content:    content,
		TokensUsed: m.est.Estimate(content),
		Metadata: map[string]interface{}{
			"messages_total": len(messages),
			"messages_kept":  len(kept),
		},
	}, nil
}

func (m *conversationHistoryModule) Condense(ctx context.Context, content string, target int, tc *TurnContext) (string, error) {
	if tc.Session == nil {
		return "", nil
	}
	kept := m.window(tc.Session.ValidMessages(), target)
	if len(kept) == 0 {
		return "", nil
	}
	return renderMessages(kept), nil
}

// window keeps the most recent messages whose rendered estimate fits the
// budget, walking backwards so the newest pair is retained first.
func (m *conversationHistoryModule) window(messages []types.Message, budget int) []types.Message {
	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := m.est.EstimateMessages(messages[i : i+1])
		if total+cost > budget {
			break
		}
		total += cost
		start = i
	}
	return messages[start:]
}

func renderMessages(messages []types.Message) string {
	var b strings.Builder
	b.WriteString("CONVERSATION HISTORY:\n")
	for _, msg := range messages {
		text := msg.Content
		if text == "" {
			for _, block := range msg.ContentBlocks {
				if block.Type == "text" {
					text += block.Text
				}
			}
		}
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, text)
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(&b, "  (called %s)\n", call.Name)
		}
	}
	return b.String()
}

// workflowHistoryModule summarizes prior turns' tool activity, newest first
// under pressure.
type workflowHistoryModule struct {
	est *tokens.Estimator
}

func (m *workflowHistoryModule) ID() string      { return ModuleWorkflowHistory }
func (m *workflowHistoryModule) Weight() float64 { return 0.05 }
func (m *workflowHistoryModule) AppliesTo(kind types.ProfileKind) bool {
	return kind == types.ProfileToolEnabled || kind == types.ProfileGenie
}
func (m *workflowHistoryModule) Condensable() bool                     { return true }
func (m *workflowHistoryModule) Purge(ownerID, sessionID string) error { return nil }

func (m *workflowHistoryModule) Contribute(ctx context.Context, budget int, tc *TurnContext) (Contribution, error) {
	if tc.Session == nil || len(tc.Session.WorkflowHistory) == 0 {
		return Contribution{}, nil
	}
	content := m.render(tc.Session.WorkflowHistory, budget)
	if content == "" {
		return Contribution{}, nil
	}
	return Contribution{Content: content, TokensUsed: m.est.Estimate(content)}, nil
}

func (m *workflowHistoryModule) Condense(ctx context.Context, content string, target int, tc *TurnContext) (string, error) {
	if tc.Session == nil {
		return "", nil
	}
	return m.render(tc.Session.WorkflowHistory, target), nil
}

// render emits newest turns first until the budget is spent, then restores
// chronological order.
func (m *workflowHistoryModule) render(traces []session.TurnTrace, budget int) string {
	var lines []string
	total := m.est.Estimate("WORKFLOW HISTORY:\n")
	for i := len(traces) - 1; i >= 0; i-- {
		trace := traces[i]
		if !trace.IsValid {
			continue
		}
		line := summarizeTrace(trace)
		cost := m.est.Estimate(line)
		if total+cost > budget {
			break
		}
		total += cost
		lines = append([]string{line}, lines...)
	}
	if len(lines) == 0 {
		return ""
	}
	return "WORKFLOW HISTORY:\n" + strings.Join(lines, "\n") + "\n"
}

func summarizeTrace(trace session.TurnTrace) string {
	var parts []string
	for _, step := range trace.ExecutionTrace {
		part := fmt.Sprintf("%s=%s", step.Action.ToolName, step.OutputSummary.Status)
		if n := len(step.OutputSummary.Results); n > 0 {
			part += fmt.Sprintf(" (%d rows)", n)
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("turn %d: no tools", trace.TurnNumber)
	}
	return fmt.Sprintf("turn %d: %s", trace.TurnNumber, strings.Join(parts, ", "))
}
