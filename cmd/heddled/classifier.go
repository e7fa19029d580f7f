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
package main

import (
	"context"
	"sync"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/llm"
	"github.com/teradata-labs/heddle/pkg/profile"
	"github.com/teradata-labs/heddle/pkg/types"
	"go.uber.org/zap"
)

// lazyClassifier defers building the classification provider until the first
// tool-enabled profile activates. Without usable credentials it degrades to
// the deterministic keyword classifier.
type lazyClassifier struct {
	factory *llm.Factory
	cfg     LLMConfig

	once     sync.Once
	delegate profile.Classifier
}

func newLazyClassifier(factory *llm.Factory, cfg LLMConfig) *lazyClassifier {
	return &lazyClassifier{factory: factory, cfg: cfg}
}

func (c *lazyClassifier) Classify(ctx context.Context, mode profile.ClassificationMode, tools []types.ToolDefinition, prompts []profile.PromptInfo) (*profile.Classification, error) {
	c.once.Do(func() {
		provider, err := c.factory.Build(ctx, &profile.LLMConfig{
			Provider: c.cfg.Provider,
			Model:    c.cfg.Model,
		}, classificationCreds(c.cfg))
		if err != nil {
			log.Warn("classification provider unavailable, using keyword classifier", zap.Error(err))
			c.delegate = profile.KeywordClassifier{}
			return
		}
		c.delegate = profile.NewLLMClassifier(provider)
	})
	return c.delegate.Classify(ctx, mode, tools, prompts)
}

// classificationCreds maps the server LLM config onto provider credentials,
// with environment variables as the fallback source. Each provider validates
// what it needs.
func classificationCreds(cfg LLMConfig) profile.Credentials {
	creds := profile.Credentials{}
	for k, v := range profile.EnvCredentials(cfg.Provider) {
		creds[k] = v
	}
	if cfg.APIKey != "" {
		creds["api_key"] = cfg.APIKey
	}
	if cfg.Region != "" {
		creds["region"] = cfg.Region
	}
	if cfg.Endpoint != "" {
		creds["endpoint"] = cfg.Endpoint
	}
	if cfg.DeploymentName != "" {
		creds["deployment_name"] = cfg.DeploymentName
	}
	if cfg.Host != "" {
		creds["host"] = cfg.Host
	}
	return creds
}
