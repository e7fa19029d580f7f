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
// Package session provides per-user persistent multi-turn conversation state.
// One JSON document per session, owner-scoped on disk, written atomically.
package session

import (
	"time"

	"github.com/teradata-labs/heddle/pkg/types"
)

// Session is the durable state of one conversation.
type Session struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	ProfileID string `json:"profile_id"`
	Name      string `json:"name,omitempty"`

	// ChatObject is the ordered message list. Messages marked Invalid are
	// retained but excluded from LLM context.
	ChatObject []types.Message `json:"chat_object"`

	// WorkflowHistory holds one trace per completed turn.
	WorkflowHistory []TurnTrace `json:"workflow_history"`

	// Attachments are uploaded-document extracts available to the
	// document_context module.
	Attachments []Attachment `json:"attachments,omitempty"`

	// CurrentQuery is the user message of the in-flight turn.
	CurrentQuery string `json:"current_query,omitempty"`

	// LastTurnData carries the previous turn's successful tool results for
	// plan hydration.
	LastTurnData map[string]interface{} `json:"last_turn_data,omitempty"`

	// ModuleState holds context-module scoped state, cleared by purge.
	ModuleState map[string]interface{} `json:"module_state,omitempty"`

	IsArchived bool `json:"is_archived"`

	// Counters
	TurnCount    int   `json:"turn_count"`
	TotalTokens  int   `json:"total_tokens"`
	CostMicroUSD int64 `json:"cost_micro_usd"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment is an uploaded-document extract referenced by a session.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Chars    int    `json:"chars"`
}

// TurnTrace records the tool activity of one turn.
type TurnTrace struct {
	TurnNumber     int             `json:"turn_number"`
	ExecutionTrace []ExecutionStep `json:"execution_trace"`
	IsValid        bool            `json:"is_valid"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// ExecutionStep is one tool invocation within a turn trace.
type ExecutionStep struct {
	Action        StepAction  `json:"action"`
	OutputSummary StepSummary `json:"output_summary"`
}

// StepAction identifies the tool and its arguments.
type StepAction struct {
	ToolName string                 `json:"tool_name"`
	Args     map[string]interface{} `json:"args,omitempty"`
}

// StepSummary captures the outcome of a tool invocation.
type StepSummary struct {
	Status   string                 `json:"status"`
	Results  []interface{}          `json:"results,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ValidMessages returns the chat messages eligible for LLM context.
func (s *Session) ValidMessages() []types.Message {
	out := make([]types.Message, 0, len(s.ChatObject))
	for _, m := range s.ChatObject {
		if !m.Invalid {
			out = append(out, m)
		}
	}
	return out
}

// LastValidTrace returns the most recent valid turn trace, or nil.
func (s *Session) LastValidTrace() *TurnTrace {
	for i := len(s.WorkflowHistory) - 1; i >= 0; i-- {
		if s.WorkflowHistory[i].IsValid {
			return &s.WorkflowHistory[i]
		}
	}
	return nil
}

// AppendMessage appends a chat message and bumps UpdatedAt.
func (s *Session) AppendMessage(msg types.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.ChatObject = append(s.ChatObject, msg)
	s.UpdatedAt = time.Now()
}
