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
// Package llm implements the provider layer: one HTTP (or SDK) client per
// LLM vendor, all behind types.LLMProvider, built from a profile's LLM
// config and resolved credentials.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/profile"
	"github.com/teradata-labs/heddle/pkg/types"
)

const (
	// DefaultMaxTokens caps a single response.
	DefaultMaxTokens = 4096
	// DefaultTimeout bounds one provider HTTP call.
	DefaultTimeout = 60 * time.Second
)

// Factory builds providers from profile LLM configs. Implements
// profile.LLMFactory. A shared rate limiter per provider name keeps
// concurrent activations from stampeding a vendor.
type Factory struct {
	limiters *limiterPool
}

// NewFactory creates a provider factory.
func NewFactory() *Factory {
	return &Factory{limiters: newLimiterPool()}
}

// Build constructs a provider for the config using the resolved credentials.
func (f *Factory) Build(ctx context.Context, cfg *profile.LLMConfig, creds profile.Credentials) (types.LLMProvider, error) {
	provider := strings.ToLower(cfg.Provider)
	limiter := f.limiters.get(provider)

	switch provider {
	case "anthropic":
		return newAnthropic(anthropicConfig{
			APIKey:  creds.Get("api_key"),
			Model:   cfg.Model,
			limiter: limiter,
		})
	case "openai":
		return newOpenAI(openAIConfig{
			APIKey:  creds.Get("api_key"),
			Model:   cfg.Model,
			limiter: limiter,
		})
	case "azure":
		return newAzureOpenAI(azureConfig{
			APIKey:         creds.Get("api_key"),
			Endpoint:       creds.Get("endpoint"),
			DeploymentName: creds.Get("deployment_name"),
			APIVersion:     creds.Get("api_version"),
			Model:          cfg.Model,
			limiter:        limiter,
		})
	case "friendli":
		return newFriendli(friendliConfig{
			Token:       creds.Get("token"),
			EndpointURL: creds.Get("endpoint_url"),
			Model:       cfg.Model,
			limiter:     limiter,
		})
	case "gemini", "google":
		return newGemini(geminiConfig{
			APIKey:  creds.Get("api_key"),
			Model:   cfg.Model,
			limiter: limiter,
		})
	case "bedrock":
		return newBedrock(ctx, bedrockConfig{
			Region:          creds.Get("region"),
			AccessKeyID:     creds.Get("access_key_id"),
			SecretAccessKey: creds.Get("secret_access_key"),
			ModelID:         cfg.Model,
			limiter:         limiter,
		})
	case "ollama":
		return newOllama(ollamaConfig{
			Host:    creds.Get("host"),
			Model:   cfg.Model,
			limiter: limiter,
		})
	default:
		return nil, fault.New(fault.KindValidation, "unknown LLM provider %q", cfg.Provider)
	}
}

// HealthCheck sends a minimal chat round trip verifying the credentials and
// endpoint actually work.
func (f *Factory) HealthCheck(ctx context.Context, provider types.LLMProvider) error {
	_, err := provider.Chat(ctx, []types.Message{
		{Role: "user", Content: "ping"},
	}, nil)
	if err != nil {
		if fault.KindOf(err) != fault.KindInternal {
			return err
		}
		return fault.Wrap(fault.KindUpstreamTransient, err, "%s health check failed", provider.Name())
	}
	return nil
}
