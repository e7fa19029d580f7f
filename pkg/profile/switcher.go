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
package profile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/teradata-labs/heddle/internal/csync"
	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/types"
	"go.uber.org/zap"
)

// mcpHealthTimeout bounds the tool-list health call during activation.
const mcpHealthTimeout = 10 * time.Second

// LLMFactory builds providers from resolved configs.
type LLMFactory interface {
	Build(ctx context.Context, cfg *LLMConfig, creds Credentials) (types.LLMProvider, error)
	// HealthCheck performs a minimal call verifying the credentials work.
	HealthCheck(ctx context.Context, provider types.LLMProvider) error
}

// MCPSession is a live connection to one MCP server.
type MCPSession interface {
	types.ToolInvoker
	ListTools(ctx context.Context) ([]types.ToolDefinition, error)
	ListPrompts(ctx context.Context) ([]PromptInfo, error)
	Close() error
}

// MCPFactory opens MCP sessions.
type MCPFactory interface {
	Connect(ctx context.Context, server *MCPServer) (MCPSession, error)
}

// RuntimeState is the committed per-owner activation: the active profile and
// its live handles. Immutable once committed; activation swaps the whole
// value.
type RuntimeState struct {
	Profile        *Profile
	LLMConfig      *LLMConfig
	LLM            types.LLMProvider
	MCP            MCPSession // nil for llm_only and rag_focused
	Classification *Classification
	Tools          []types.ToolDefinition // enabled tools only
	ActivatedAt    time.Time
}

// Switcher performs atomic profile activation. One activation per owner runs
// at a time; waiters observe the final committed state.
type Switcher struct {
	store       *Store
	creds       *CredentialStore
	llmFactory  LLMFactory
	mcpFactory  MCPFactory
	classifier  Classifier
	locks       *csync.KeyedMutex[string]
	state       *csync.Map[string, *RuntimeState]
	masterByTag string // tag of the master-classification profile, if any

	healthTimeout time.Duration
}

// NewSwitcher creates a switcher. creds may be nil when no encrypted store is
// configured.
func NewSwitcher(store *Store, creds *CredentialStore, llmFactory LLMFactory, mcpFactory MCPFactory, classifier Classifier) *Switcher {
	return &Switcher{
		store:      store,
		creds:      creds,
		llmFactory: llmFactory,
		mcpFactory: mcpFactory,
		classifier: classifier,
		locks:      csync.NewKeyedMutex[string](),
		state:      csync.NewMap[string, *RuntimeState](),

		healthTimeout: mcpHealthTimeout,
	}
}

// SetMasterClassificationTag names the profile whose classification is
// substituted for profiles with inherit_classification set.
func (s *Switcher) SetMasterClassificationTag(tag string) {
	s.masterByTag = tag
}

// Current returns the committed runtime state for an owner, or nil.
func (s *Switcher) Current(ownerID string) *RuntimeState {
	st, _ := s.state.Get(ownerID)
	return st
}

// Deactivate drops an owner's runtime state and closes its MCP session.
func (s *Switcher) Deactivate(ownerID string) {
	s.locks.Lock(ownerID)
	defer s.locks.Unlock(ownerID)
	if st, ok := s.state.Get(ownerID); ok && st.MCP != nil {
		st.MCP.Close()
	}
	s.state.Delete(ownerID)
}

// Activate switches an owner to a profile. The operation is atomic: either
// every validation passes and the new state commits, or the previous state
// stays untouched. Re-activating the already-active profile is a no-op.
func (s *Switcher) Activate(ctx context.Context, ownerID, profileID string, validateLLM bool) (*RuntimeState, error) {
	s.locks.Lock(ownerID)
	defer s.locks.Unlock(ownerID)

	if cur, ok := s.state.Get(ownerID); ok && cur.Profile.ID == profileID {
		return cur, nil
	}

	st, err := s.buildState(ctx, ownerID, profileID, validateLLM)
	if err != nil {
		// No partial activation: prior state is untouched.
		return nil, err
	}

	if prev, ok := s.state.Get(ownerID); ok && prev.MCP != nil {
		prev.MCP.Close()
	}
	s.state.Set(ownerID, st)
	log.Info("profile activated",
		zap.String("owner_id", ownerID),
		zap.String("profile_id", profileID),
		zap.String("kind", string(st.Profile.Kind)),
		zap.Int("tools", len(st.Tools)),
	)
	return st, nil
}

// buildState runs the full validation pipeline without touching committed
// state. Every resource it opens is closed on failure.
func (s *Switcher) buildState(ctx context.Context, ownerID, profileID string, validateLLM bool) (*RuntimeState, error) {
	p, err := s.store.GetProfile(ctx, ownerID, profileID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fault.New(fault.KindNotFound, "profile %s not found", profileID)
	}

	llmCfg, err := s.store.GetLLMConfig(ctx, ownerID, p.LLMConfigID)
	if err != nil {
		return nil, err
	}
	if llmCfg == nil {
		return nil, fault.New(fault.KindNotFound, "llm config %s not found", p.LLMConfigID)
	}

	creds, err := ResolveCredentials(ctx, s.creds, llmCfg)
	if err != nil {
		return nil, err
	}

	provider, err := s.llmFactory.Build(ctx, llmCfg, creds)
	if err != nil {
		return nil, fault.Wrap(fault.KindAuth, err, "building LLM provider for %s failed", llmCfg.Provider)
	}
	if validateLLM {
		if err := s.llmFactory.HealthCheck(ctx, provider); err != nil {
			return nil, categorize(err, "LLM health check failed")
		}
	}

	st := &RuntimeState{
		Profile:     p,
		LLMConfig:   llmCfg,
		LLM:         provider,
		ActivatedAt: time.Now(),
	}

	// llm_only and rag_focused profiles skip MCP validation entirely.
	if p.Kind != types.ProfileToolEnabled {
		return st, nil
	}

	server, err := s.store.GetMCPServer(ctx, ownerID, p.MCPServerID)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, fault.New(fault.KindNotFound, "mcp server %s not found", p.MCPServerID)
	}

	healthCtx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()

	session, err := s.mcpFactory.Connect(healthCtx, server)
	if err != nil {
		return nil, categorize(err, "MCP connection failed")
	}
	tools, err := session.ListTools(healthCtx)
	if err != nil {
		session.Close()
		return nil, categorize(err, "MCP tool list failed")
	}
	prompts, err := session.ListPrompts(healthCtx)
	if err != nil {
		// Prompt listing is optional on many servers.
		log.Debug("mcp prompt list unavailable", zap.Error(err))
		prompts = nil
	}

	classification, firstRun, err := s.resolveClassification(ctx, p, tools, prompts)
	if err != nil {
		session.Close()
		return nil, err
	}

	// First classification auto-enables every discovered capability.
	if firstRun && len(p.EnabledTools) == 0 && len(p.EnabledPrompts) == 0 {
		p.EnabledTools = classification.AllTools()
		p.EnabledPrompts = classification.AllPrompts()
		if err := s.store.SaveProfile(ctx, p); err != nil {
			session.Close()
			return nil, err
		}
	}

	enabled := EnabledToolSet(classification, p.EnabledTools)
	for _, t := range tools {
		if enabled[t.Name] {
			t.Category = categoryOf(classification, t.Name)
			st.Tools = append(st.Tools, t)
		}
	}

	st.MCP = session
	st.Classification = classification
	return st, nil
}

// resolveClassification applies the cache rules: inherit substitution, mode
// invalidation, then a classification pass when the cache is unusable.
func (s *Switcher) resolveClassification(ctx context.Context, p *Profile, tools []types.ToolDefinition, prompts []PromptInfo) (*Classification, bool, error) {
	// Inherit: substitute the master profile's classification.
	if p.InheritClassification && s.masterByTag != "" {
		master, err := s.store.GetProfileByTag(ctx, p.OwnerID, s.masterByTag)
		if err != nil {
			return nil, false, err
		}
		if master != nil {
			cached, err := s.store.GetClassification(ctx, master.ID)
			if err != nil {
				return nil, false, err
			}
			if cached != nil {
				return cached, false, nil
			}
		}
	}

	cached, err := s.store.GetClassification(ctx, p.ID)
	if err != nil {
		return nil, false, err
	}
	if cached != nil && cached.ClassifiedWithMode == p.ClassificationMode {
		return cached, false, nil
	}

	fresh, err := s.classifier.Classify(ctx, p.ClassificationMode, tools, prompts)
	if err != nil {
		return nil, false, categorize(err, "capability classification failed")
	}
	if err := s.store.SaveClassification(ctx, p.ID, fresh); err != nil {
		return nil, false, err
	}
	return fresh, cached == nil, nil
}

func categoryOf(c *Classification, toolName string) string {
	for category, infos := range c.Tools {
		for _, t := range infos {
			if t.Name == toolName {
				return category
			}
		}
	}
	return "other"
}

// categorize maps an activation failure onto the error taxonomy, preserving
// an existing kind when the cause already carries one.
func categorize(err error, msg string) error {
	if _, ok := fault.As(err); ok {
		return fault.Wrap(fault.KindOf(err), err, "%s", msg)
	}
	if isTimeout(err) {
		return fault.Wrap(fault.KindUpstreamTimeout, err, "%s", msg)
	}
	return fault.Wrap(fault.KindUpstreamTransient, err, "%s", msg)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	type timeout interface{ Timeout() bool }
	var t timeout
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "deadline exceeded") ||
		strings.Contains(err.Error(), "timeout")
}
