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
// Package executor runs the ReAct conversation loop: LLM calls interleaved
// with MCP tool invocations, streamed to the client as a typed event
// sequence.
package executor

import "time"

// EventType identifies one conversation event.
type EventType string

const (
	EventAgentStart      EventType = "conversation_agent_start"
	EventLLMStep         EventType = "conversation_llm_step"
	EventLLMComplete     EventType = "conversation_llm_complete"
	EventToolInvoked     EventType = "conversation_tool_invoked"
	EventToolCompleted   EventType = "conversation_tool_completed"
	EventAgentComplete   EventType = "conversation_agent_complete"
	EventStatusIndicator EventType = "status_indicator_update"
	EventComponentRender EventType = "component_render"
)

// Event is one entry in a turn's event stream. Events from a single turn
// reach the consumer in emission order.
type Event struct {
	Type      EventType              `json:"type"`
	Turn      int                    `json:"turn"`
	Sequence  int                    `json:"sequence"`
	Provider  string                 `json:"provider,omitempty"`
	Model     string                 `json:"model,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// statusEvent builds a status_indicator_update payload.
// target is "llm" or "db"; state is "busy" or "idle".
func statusEvent(target, state string) map[string]interface{} {
	return map[string]interface{}{"target": target, "state": state}
}
