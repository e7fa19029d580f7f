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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/types"
)

const defaultOllamaHost = "http://localhost:11434"

type ollamaConfig struct {
	Host    string
	Model   string
	limiter *RateLimiter
}

// ollamaClient implements types.LLMProvider against a local Ollama server.
// Local inference costs nothing; usage still reports token counts.
type ollamaClient struct {
	host       string
	model      string
	httpClient *http.Client
	limiter    *RateLimiter
}

func newOllama(cfg ollamaConfig) (*ollamaClient, error) {
	if cfg.Model == "" {
		return nil, fault.New(fault.KindValidation, "ollama model is required")
	}
	host := cfg.Host
	if host == "" {
		host = defaultOllamaHost
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return &ollamaClient{
		host:  strings.TrimSuffix(host, "/"),
		model: cfg.Model,
		// Local models are slow on first load.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		limiter:    cfg.limiter,
	}, nil
}

func (c *ollamaClient) Name() string  { return "ollama" }
func (c *ollamaClient) Model() string { return c.model }

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description,omitempty"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// Chat implements types.LLMProvider.
func (c *ollamaClient) Chat(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (*types.LLMResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req := ollamaRequest{
		Model:    c.model,
		Messages: convertOllamaMessages(messages),
		Stream:   false,
	}
	for _, t := range tools {
		tool := ollamaTool{Type: "function"}
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = schemaMap(t.InputSchema)
		req.Tools = append(req.Tools, tool)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport("ollama", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport("ollama", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("ollama", resp.StatusCode, respBody, "")
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamPermanent, err, "ollama response unparseable")
	}

	out := &types.LLMResponse{
		Content:    parsed.Message.Content,
		StopReason: parsed.DoneReason,
		Usage: types.Usage{
			InputTokens:  parsed.PromptEvalCount,
			OutputTokens: parsed.EvalCount,
			TotalTokens:  parsed.PromptEvalCount + parsed.EvalCount,
		},
	}
	for _, call := range parsed.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:    uuid.NewString(),
			Name:  call.Function.Name,
			Input: call.Function.Arguments,
		})
	}
	return out, nil
}

func convertOllamaMessages(messages []types.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			msg := ollamaMessage{Role: "assistant", Content: messageText(m)}
			for _, call := range m.ToolCalls {
				var tc ollamaToolCall
				tc.Function.Name = call.Name
				tc.Function.Arguments = call.Input
				msg.ToolCalls = append(msg.ToolCalls, tc)
			}
			out = append(out, msg)
		case "tool":
			out = append(out, ollamaMessage{Role: "tool", Content: toolResultText(m.ToolResult)})
		default:
			out = append(out, ollamaMessage{Role: m.Role, Content: messageText(m)})
		}
	}
	return out
}
