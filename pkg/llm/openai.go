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

	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/types"
)

const (
	openAIEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultGPT     = "gpt-4o"
)

type openAIConfig struct {
	APIKey  string
	Model   string
	limiter *RateLimiter
}

// openAIClient implements types.LLMProvider against the chat completions
// API. Azure OpenAI and Friendli speak the same wire format with different
// endpoints and auth headers, so they reuse this client.
type openAIClient struct {
	name       string
	endpoint   string
	headers    map[string]string
	model      string
	httpClient *http.Client
	limiter    *RateLimiter
}

func newOpenAI(cfg openAIConfig) (*openAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fault.New(fault.KindAuth, "openai api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultGPT
	}
	return &openAIClient{
		name:       "openai",
		endpoint:   openAIEndpoint,
		headers:    map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		model:      model,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    cfg.limiter,
	}, nil
}

type azureConfig struct {
	APIKey         string
	Endpoint       string
	DeploymentName string
	APIVersion     string
	Model          string
	limiter        *RateLimiter
}

func newAzureOpenAI(cfg azureConfig) (*openAIClient, error) {
	if cfg.APIKey == "" || cfg.Endpoint == "" || cfg.DeploymentName == "" {
		return nil, fault.New(fault.KindAuth, "azure openai requires api key, endpoint, and deployment name")
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-06-01"
	}
	model := cfg.Model
	if model == "" {
		model = cfg.DeploymentName
	}
	return &openAIClient{
		name: "azure",
		endpoint: fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			strings.TrimSuffix(cfg.Endpoint, "/"), cfg.DeploymentName, apiVersion),
		headers:    map[string]string{"api-key": cfg.APIKey},
		model:      model,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    cfg.limiter,
	}, nil
}

type friendliConfig struct {
	Token       string
	EndpointURL string
	Model       string
	limiter     *RateLimiter
}

func newFriendli(cfg friendliConfig) (*openAIClient, error) {
	if cfg.Token == "" {
		return nil, fault.New(fault.KindAuth, "friendli token is required")
	}
	endpoint := cfg.EndpointURL
	if endpoint == "" {
		endpoint = "https://api.friendli.ai/serverless/v1"
	}
	return &openAIClient{
		name:       "friendli",
		endpoint:   strings.TrimSuffix(endpoint, "/") + "/chat/completions",
		headers:    map[string]string{"Authorization": "Bearer " + cfg.Token},
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    cfg.limiter,
	}, nil
}

func (c *openAIClient) Name() string  { return c.name }
func (c *openAIClient) Model() string { return c.model }

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description,omitempty"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat implements types.LLMProvider.
func (c *openAIClient) Chat(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (*types.LLMResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	nameMap := BuildToolNameMap(toolNames(tools))
	req := openAIRequest{
		Model:    c.model,
		Messages: convertOpenAIMessages(messages),
	}
	for _, t := range tools {
		tool := openAITool{Type: "function"}
		tool.Function.Name = SanitizeToolName(t.Name)
		tool.Function.Description = t.Description
		tool.Function.Parameters = schemaMap(t.InputSchema)
		req.Tools = append(req.Tools, tool)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(c.name, resp.StatusCode, respBody, resp.Header.Get("Retry-After"))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamPermanent, err, "%s response unparseable", c.name)
	}
	if len(parsed.Choices) == 0 {
		return nil, fault.New(fault.KindUpstreamPermanent, "%s returned no choices", c.name)
	}

	choice := parsed.Choices[0]
	out := &types.LLMResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: types.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.PromptTokens + parsed.Usage.CompletionTokens,
			CostMicroUSD: CostMicroUSD(c.model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens),
		},
	}
	for _, call := range choice.Message.ToolCalls {
		var input map[string]interface{}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
			input = map[string]interface{}{}
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:    call.ID,
			Name:  ReverseToolName(nameMap, call.Function.Name),
			Input: input,
		})
	}
	return out, nil
}

func convertOpenAIMessages(messages []types.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			msg := openAIMessage{Role: "assistant", Content: messageText(m)}
			for _, call := range m.ToolCalls {
				tc := openAIToolCall{ID: call.ID, Type: "function"}
				tc.Function.Name = SanitizeToolName(call.Name)
				args, err := json.Marshal(call.Input)
				if err != nil {
					args = []byte("{}")
				}
				tc.Function.Arguments = string(args)
				msg.ToolCalls = append(msg.ToolCalls, tc)
			}
			out = append(out, msg)
		case "tool":
			out = append(out, openAIMessage{
				Role:       "tool",
				Content:    toolResultText(m.ToolResult),
				ToolCallID: m.ToolUseID,
			})
		default:
			out = append(out, openAIMessage{Role: m.Role, Content: messageText(m)})
		}
	}
	return out
}

func toolNames(tools []types.ToolDefinition) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}
