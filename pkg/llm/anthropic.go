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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/types"
)

const (
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
	defaultClaude     = "claude-sonnet-4-5-20250929"
)

type anthropicConfig struct {
	APIKey  string
	Model   string
	limiter *RateLimiter
}

// anthropicClient implements types.LLMProvider against the Messages API.
type anthropicClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	limiter    *RateLimiter
}

func newAnthropic(cfg anthropicConfig) (*anthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fault.New(fault.KindAuth, "anthropic api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultClaude
	}
	return &anthropicClient{
		apiKey:     cfg.APIKey,
		model:      model,
		endpoint:   anthropicEndpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    cfg.limiter,
	}, nil
}

func (c *anthropicClient) Name() string  { return "anthropic" }
func (c *anthropicClient) Model() string { return c.model }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`

	// text, thinking
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat implements types.LLMProvider.
func (c *anthropicClient) Chat(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (*types.LLMResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	system, rest := splitSystem(messages)
	req := anthropicRequest{
		Model:     c.model,
		MaxTokens: DefaultMaxTokens,
		System:    system,
		Messages:  convertAnthropicMessages(rest),
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaMap(t.InputSchema),
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport("anthropic", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport("anthropic", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("anthropic", resp.StatusCode, respBody, resp.Header.Get("Retry-After"))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamPermanent, err, "anthropic response unparseable")
	}

	out := &types.LLMResponse{
		StopReason: parsed.StopReason,
		Usage: types.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			TotalTokens:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
			CostMicroUSD: CostMicroUSD(c.model, parsed.Usage.InputTokens, parsed.Usage.OutputTokens),
		},
		Metadata: map[string]interface{}{
			"latency_ms": time.Since(start).Milliseconds(),
		},
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
			out.ContentBlocks = append(out.ContentBlocks, types.ContentBlock{Type: "text", Text: block.Text})
		case "thinking":
			out.ContentBlocks = append(out.ContentBlocks, types.ContentBlock{Type: "thinking", Text: block.Text})
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	return out, nil
}

func convertAnthropicMessages(messages []types.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			msg := anthropicMessage{Role: "assistant"}
			if text := messageText(m); text != "" {
				msg.Content = append(msg.Content, anthropicContentBlock{Type: "text", Text: text})
			}
			for _, call := range m.ToolCalls {
				msg.Content = append(msg.Content, anthropicContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: call.Input,
				})
			}
			out = append(out, msg)
		case "tool":
			// Tool results travel as user messages on this API.
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolUseID,
					Content:   toolResultText(m.ToolResult),
					IsError:   m.ToolResult != nil && !m.ToolResult.Success,
				}},
			})
		default:
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []anthropicContentBlock{{Type: "text", Text: messageText(m)}},
			})
		}
	}
	return out
}
