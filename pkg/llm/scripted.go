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
	"sync"

	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/types"
)

// ScriptedStep is one canned Chat outcome: either a response or an error.
type ScriptedStep struct {
	Response *types.LLMResponse
	Err      error
}

// ScriptedProvider replays a fixed sequence of Chat outcomes. It exists for
// tests that exercise the executor and orchestrator without a live provider.
type ScriptedProvider struct {
	ProviderName string
	ModelName    string

	mu    sync.Mutex
	steps []ScriptedStep
	calls [][]types.Message
}

// NewScripted creates a provider that replays steps in order. Calls past the
// end of the script fail with an internal fault.
func NewScripted(steps ...ScriptedStep) *ScriptedProvider {
	return &ScriptedProvider{
		ProviderName: "scripted",
		ModelName:    "scripted-model",
		steps:        steps,
	}
}

// Chat pops the next scripted step. The message list is recorded for
// assertions via Calls.
func (p *ScriptedProvider) Chat(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (*types.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]types.Message(nil), messages...))
	if len(p.steps) == 0 {
		return nil, fault.New(fault.KindInternal, "scripted provider: script exhausted after %d calls", len(p.calls))
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

func (p *ScriptedProvider) Name() string  { return p.ProviderName }
func (p *ScriptedProvider) Model() string { return p.ModelName }

// Calls returns the message lists passed to Chat so far.
func (p *ScriptedProvider) Calls() [][]types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
