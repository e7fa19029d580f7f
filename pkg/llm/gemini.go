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

	"github.com/google/uuid"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/types"
)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultGemini = "gemini-2.5-flash"
)

type geminiConfig struct {
	APIKey  string
	Model   string
	limiter *RateLimiter
}

// geminiClient implements types.LLMProvider against generateContent.
type geminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
}

func newGemini(cfg geminiConfig) (*geminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fault.New(fault.KindAuth, "gemini api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultGemini
	}
	return &geminiClient{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    geminiBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    cfg.limiter,
	}, nil
}

func (c *geminiClient) Name() string  { return "gemini" }
func (c *geminiClient) Model() string { return c.model }

type geminiRequest struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTools   `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type geminiTools struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Chat implements types.LLMProvider.
func (c *geminiClient) Chat(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (*types.LLMResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	nameMap := BuildToolNameMap(toolNames(tools))
	system, rest := splitSystem(messages)
	req := geminiRequest{Contents: convertGeminiMessages(rest)}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	if len(tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, geminiFunctionDecl{
				Name:        SanitizeToolName(t.Name),
				Description: t.Description,
				Parameters:  schemaMap(t.InputSchema),
			})
		}
		req.Tools = []geminiTools{{FunctionDeclarations: decls}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Key travels as a header, never in the URL, so it cannot leak via logs.
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport("gemini", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport("gemini", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("gemini", resp.StatusCode, respBody, resp.Header.Get("Retry-After"))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamPermanent, err, "gemini response unparseable")
	}
	if len(parsed.Candidates) == 0 {
		return nil, fault.New(fault.KindUpstreamPermanent, "gemini returned no candidates")
	}

	candidate := parsed.Candidates[0]
	out := &types.LLMResponse{
		StopReason: candidate.FinishReason,
		Usage: types.Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  parsed.UsageMetadata.PromptTokenCount + parsed.UsageMetadata.CandidatesTokenCount,
			CostMicroUSD: CostMicroUSD(c.model, parsed.UsageMetadata.PromptTokenCount, parsed.UsageMetadata.CandidatesTokenCount),
		},
	}
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				// Gemini carries no call id; synthesize one for the loop.
				ID:    uuid.NewString(),
				Name:  ReverseToolName(nameMap, part.FunctionCall.Name),
				Input: part.FunctionCall.Args,
			})
		}
	}
	return out, nil
}

func convertGeminiMessages(messages []types.Message) []geminiContent {
	out := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			content := geminiContent{Role: "model"}
			if text := messageText(m); text != "" {
				content.Parts = append(content.Parts, geminiPart{Text: text})
			}
			for _, call := range m.ToolCalls {
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{
						Name: SanitizeToolName(call.Name),
						Args: call.Input,
					},
				})
			}
			out = append(out, content)
		case "tool":
			out = append(out, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{
						Name:     SanitizeToolName(m.ToolName),
						Response: map[string]interface{}{"output": toolResultText(m.ToolResult)},
					},
				}},
			})
		default:
			out = append(out, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: messageText(m)}},
			})
		}
	}
	return out
}
