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
package contextwindow

import (
	"context"

	"github.com/teradata-labs/heddle/pkg/tokens"
	"github.com/teradata-labs/heddle/pkg/types"
)

const defaultSystemPrompt = "You are a helpful assistant. Answer using the provided context and tools. When a tool can answer the question, call it instead of guessing."

// systemPromptModule injects the profile's system prompt. Hard-required:
// never condensed, never dropped.
type systemPromptModule struct {
	est *tokens.Estimator
}

func (m *systemPromptModule) ID() string                           { return ModuleSystemPrompt }
func (m *systemPromptModule) Weight() float64                      { return 0.15 }
func (m *systemPromptModule) AppliesTo(types.ProfileKind) bool     { return true }
func (m *systemPromptModule) Condensable() bool                    { return false }
func (m *systemPromptModule) Purge(ownerID, sessionID string) error { return nil }

func (m *systemPromptModule) Contribute(ctx context.Context, budget int, tc *TurnContext) (Contribution, error) {
	prompt := tc.Profile.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	return Contribution{
		Content:    prompt,
		TokensUsed: m.est.Estimate(prompt),
	}, nil
}

func (m *systemPromptModule) Condense(ctx context.Context, content string, target int, tc *TurnContext) (string, error) {
	return content, nil
}
