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
// Package types contains shared types used across the heddle framework.
// This package breaks import cycles by providing common types that the
// executor, assembler, and LLM packages all depend on.
package types

import (
	"context"
	"time"
)

// ProfileKind is the activation mode of a profile.
type ProfileKind string

const (
	ProfileToolEnabled ProfileKind = "tool_enabled"
	ProfileLLMOnly     ProfileKind = "llm_only"
	ProfileRAGFocused  ProfileKind = "rag_focused"
	ProfileGenie       ProfileKind = "genie"
)

// Valid reports whether the kind is one of the four activation modes.
func (k ProfileKind) Valid() bool {
	switch k {
	case ProfileToolEnabled, ProfileLLMOnly, ProfileRAGFocused, ProfileGenie:
		return true
	}
	return false
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	// ID is a unique identifier for this tool call
	ID string `json:"id"`

	// Name is the tool name
	Name string `json:"name"`

	// Input contains the tool parameters as decoded JSON
	Input map[string]interface{} `json:"input"`
}

// ContentBlock is one piece of a multi-part message. Thinking blocks are
// produced by extended-reasoning models and are dropped from final answers.
type ContentBlock struct {
	// Type is "text", "thinking", or "image"
	Type string `json:"type"`

	// Text holds text or thinking content
	Text string `json:"text,omitempty"`

	// MediaType and Data hold base64 image content (multimodal input)
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`

	// ContentBlocks contains multi-part content. When present it takes
	// precedence over Content.
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`

	// ToolCalls contains tool invocations (assistant role)
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolUseID ties a tool result back to the tool_use block it answers
	ToolUseID string `json:"tool_use_id,omitempty"`

	// ToolName is the invoked tool's name (tool role). Some providers key
	// tool results by name rather than call id.
	ToolName string `json:"tool_name,omitempty"`

	// ToolResult contains a tool execution result (tool role)
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Invalid marks a message that is retained in the session but excluded
	// from LLM context
	Invalid bool `json:"invalid,omitempty"`

	// Timestamp when the message was created
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Usage tracks LLM token usage. Cost is carried in integer micro-USD
// (USD x 1,000,000) so accounting never accumulates float drift.
type Usage struct {
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
	TotalTokens  int   `json:"total_tokens"`
	CostMicroUSD int64 `json:"cost_micro_usd"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostMicroUSD += other.CostMicroUSD
}

// LLMResponse represents a response from the LLM.
type LLMResponse struct {
	// Content is the text response (if no tool calls)
	Content string

	// ContentBlocks carries the raw block list when the provider returns
	// one (may include thinking blocks)
	ContentBlocks []ContentBlock

	// ToolCalls contains requested tool executions
	ToolCalls []ToolCall

	// StopReason indicates why the LLM stopped
	StopReason string

	// Usage tracks token usage when the provider reports it directly
	Usage Usage

	// Metadata contains provider-specific metadata. Token counts are
	// extracted from here when Usage is zero (several shapes accepted,
	// see executor.ExtractUsage).
	Metadata map[string]interface{}
}

// LLMProvider defines the interface for LLM providers. Implementations wrap
// whatever SDK or HTTP surface the provider exposes; the core only depends
// on this interface.
type LLMProvider interface {
	// Chat sends a conversation to the LLM and returns the response
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*LLMResponse, error)

	// Name returns the provider name (anthropic, openai, gemini, ...)
	Name() string

	// Model returns the model identifier
	Model() string
}

// ToolDefinition describes a tool offered to the LLM.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category,omitempty"`
	InputSchema *JSONSchema `json:"input_schema,omitempty"`
}

// ToolInvoker executes a named tool with decoded arguments.
// The MCP client implements this; the executor only sees the interface.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error)
}

// ToolResult represents the outcome of tool execution.
type ToolResult struct {
	// Success indicates if the tool executed successfully
	Success bool `json:"success"`

	// Data contains the result data (format varies by tool)
	Data interface{} `json:"data,omitempty"`

	// Error contains error information if execution failed
	Error *ToolError `json:"error,omitempty"`

	// Metadata contains tool-specific metadata. Component render payloads
	// ride here under the "_component_llm_events" key.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// ExecutionTimeMs is the wall-clock duration of the call
	ExecutionTimeMs int64 `json:"execution_time_ms,omitempty"`
}

// ToolError represents a tool execution error with structured information.
type ToolError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Retryable indicates if the operation can be retried
	Retryable bool `json:"retryable,omitempty"`

	// Suggestion provides a hint for fixing the error
	Suggestion string `json:"suggestion,omitempty"`
}

// ComponentPayload is a render instruction captured from tool output or
// synthesized by auto-canvas. RenderTarget "sub_window" payloads are
// streamed to the client in real time; all payloads are returned to the
// caller for inline rendering.
type ComponentPayload struct {
	Component    string                 `json:"component"`
	RenderTarget string                 `json:"render_target,omitempty"`
	Payload      map[string]interface{} `json:"payload"`
}
