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
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/types"
)

// bedrockAnthropicVersion is required for all Claude models on Bedrock.
const bedrockAnthropicVersion = "bedrock-2023-05-31"

type bedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ModelID         string
	limiter         *RateLimiter
}

// bedrockClient implements types.LLMProvider for AWS Bedrock. Claude models
// on Bedrock speak the Anthropic messages format through InvokeModel;
// tool names are sanitized to Bedrock's ^[a-zA-Z0-9_-]{1,64}$ pattern.
type bedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
	limiter *RateLimiter
}

func newBedrock(ctx context.Context, cfg bedrockConfig) (*bedrockClient, error) {
	if cfg.Region == "" {
		return nil, fault.New(fault.KindAuth, "bedrock region is required")
	}
	if cfg.ModelID == "" {
		return nil, fault.New(fault.KindValidation, "bedrock model id is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fault.Wrap(fault.KindAuth, err, "bedrock AWS config load failed")
	}

	return &bedrockClient{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: cfg.ModelID,
		limiter: cfg.limiter,
	}, nil
}

func (c *bedrockClient) Name() string  { return "bedrock" }
func (c *bedrockClient) Model() string { return c.modelID }

// Chat implements types.LLMProvider.
func (c *bedrockClient) Chat(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (*types.LLMResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	nameMap := BuildToolNameMap(toolNames(tools))
	system, rest := splitSystem(messages)
	request := map[string]interface{}{
		"anthropic_version": bedrockAnthropicVersion,
		"max_tokens":        DefaultMaxTokens,
		"messages":          bedrockMessages(rest),
	}
	if system != "" {
		request["system"] = system
	}
	if len(tools) > 0 {
		converted := make([]anthropicTool, 0, len(tools))
		for _, t := range tools {
			converted = append(converted, anthropicTool{
				Name:        SanitizeToolName(t.Name),
				Description: t.Description,
				InputSchema: schemaMap(t.InputSchema),
			})
		}
		request["tools"] = converted
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(output.Body, &parsed); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamPermanent, err, "bedrock response unparseable")
	}

	out := &types.LLMResponse{
		StopReason: parsed.StopReason,
		Usage: types.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			TotalTokens:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
			CostMicroUSD: CostMicroUSD(c.modelID, parsed.Usage.InputTokens, parsed.Usage.OutputTokens),
		},
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "thinking":
			out.ContentBlocks = append(out.ContentBlocks, types.ContentBlock{Type: "thinking", Text: block.Text})
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:    block.ID,
				Name:  ReverseToolName(nameMap, block.Name),
				Input: block.Input,
			})
		}
	}
	return out, nil
}

// bedrockMessages reuses the Anthropic wire conversion with Bedrock's tool
// name restrictions applied.
func bedrockMessages(messages []types.Message) []anthropicMessage {
	out := convertAnthropicMessages(messages)
	for i := range out {
		for j := range out[i].Content {
			if out[i].Content[j].Type == "tool_use" {
				out[i].Content[j].Name = SanitizeToolName(out[i].Content[j].Name)
			}
		}
	}
	return out
}

func classifyBedrockError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindUpstreamTimeout, err, "bedrock request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ThrottlingException"):
		return fault.Wrap(fault.KindRateLimited, err, "bedrock throttled")
	case strings.Contains(msg, "AccessDeniedException"), strings.Contains(msg, "UnrecognizedClientException"):
		return fault.Wrap(fault.KindAuth, err, "bedrock rejected credentials")
	case strings.Contains(msg, "ValidationException"):
		return fault.Wrap(fault.KindUpstreamPermanent, err, "bedrock rejected request")
	default:
		return fault.Wrap(fault.KindUpstreamTransient, err, "bedrock invocation failed")
	}
}
