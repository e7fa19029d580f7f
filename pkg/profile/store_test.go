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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func validProfile(owner, tag string) *Profile {
	return &Profile{
		OwnerID:     owner,
		Tag:         tag,
		Kind:        types.ProfileLLMOnly,
		LLMConfigID: "llm-1",
	}
}

func TestSaveProfileRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := validProfile("alice", "analyst")
	p.ModuleWeights = map[string]float64{"rag_context": 0.3}
	require.NoError(t, store.SaveProfile(ctx, p))
	require.NotEmpty(t, p.ID)

	loaded, err := store.GetProfile(ctx, "alice", p.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "analyst", loaded.Tag)
	assert.Equal(t, ClassifyLight, loaded.ClassificationMode)
	assert.Equal(t, 0.3, loaded.ModuleWeights["rag_context"])

	byTag, err := store.GetProfileByTag(ctx, "alice", "analyst")
	require.NoError(t, err)
	require.NotNil(t, byTag)
	assert.Equal(t, p.ID, byTag.ID)
}

func TestProfileValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cases := []*Profile{
		{OwnerID: "alice", Kind: types.ProfileLLMOnly, LLMConfigID: "l"},                       // no tag
		{OwnerID: "alice", Tag: "x", Kind: "weird", LLMConfigID: "l"},                          // bad kind
		{OwnerID: "alice", Tag: "x", Kind: types.ProfileLLMOnly},                               // no llm config
		{OwnerID: "alice", Tag: "x", Kind: types.ProfileToolEnabled, LLMConfigID: "l"},         // tool_enabled without mcp
		{OwnerID: "alice", Tag: "x", Kind: types.ProfileGenie, LLMConfigID: "l"},               // genie without children
		{OwnerID: "alice", Tag: "x", Kind: types.ProfileGenie, LLMConfigID: "l", GenieConfig: &GenieConfig{}}, // empty children
	}
	for i, p := range cases {
		err := store.SaveProfile(ctx, p)
		require.Error(t, err, "case %d", i)
		assert.Equal(t, fault.KindValidation, fault.KindOf(err), "case %d", i)
	}
}

func TestProfileTagConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProfile(ctx, validProfile("alice", "analyst")))
	err := store.SaveProfile(ctx, validProfile("alice", "analyst"))
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))

	// Same tag for a different owner is fine.
	require.NoError(t, store.SaveProfile(ctx, validProfile("bob", "analyst")))
}

func TestMCPServerTransportValidation(t *testing.T) {
	cases := []struct {
		name string
		srv  MCPServer
		ok   bool
	}{
		{"stdio ok", MCPServer{OwnerID: "a", Transport: TransportStdio, Command: "npx"}, true},
		{"stdio no command", MCPServer{OwnerID: "a", Transport: TransportStdio}, false},
		{"sse ok", MCPServer{OwnerID: "a", Transport: TransportHTTPSSE, Host: "localhost", Port: 8080}, true},
		{"sse host stdio", MCPServer{OwnerID: "a", Transport: TransportHTTPSSE, Host: "stdio", Port: 8080}, false},
		{"streamable port zero", MCPServer{OwnerID: "a", Transport: TransportStreamableHTTP, Host: "localhost", Port: 0}, false},
		{"unknown transport", MCPServer{OwnerID: "a", Transport: "grpc", Host: "h", Port: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMCPServer(&tc.srv)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, fault.KindValidation, fault.KindOf(err))
			}
		})
	}
}

func TestClassificationCacheLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := validProfile("alice", "analyst")
	require.NoError(t, store.SaveProfile(ctx, p))

	got, err := store.GetClassification(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	c := &Classification{
		Tools:              map[string][]ToolInfo{"database": {{Name: "base_readQuery"}}},
		Prompts:            map[string][]PromptInfo{},
		LastClassifiedAt:   time.Now(),
		ClassifiedWithMode: ClassifyLight,
	}
	require.NoError(t, store.SaveClassification(ctx, p.ID, c))

	got, err = store.GetClassification(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ClassifyLight, got.ClassifiedWithMode)
	assert.Len(t, got.Tools["database"], 1)

	require.NoError(t, store.InvalidateClassification(ctx, p.ID))
	got, err = store.GetClassification(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEnabledToolSet(t *testing.T) {
	c := &Classification{
		Tools: map[string][]ToolInfo{
			"database": {{Name: "base_readQuery"}, {Name: "base_writeQuery"}},
			"search":   {{Name: "web_search"}},
		},
	}
	enabled := EnabledToolSet(c, []string{"base_readQuery", "web_search", "ghost_tool"})
	assert.True(t, enabled["base_readQuery"])
	assert.True(t, enabled["web_search"])
	assert.False(t, enabled["base_writeQuery"])
	// Enabled names outside the classified set are ignored.
	assert.False(t, enabled["ghost_tool"])
}

func TestEnvCredentialPrecedence(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	cfg := &LLMConfig{OwnerID: "alice", Provider: "anthropic", Model: "claude"}
	creds, err := ResolveCredentials(context.Background(), nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, "env-key", creds.Get("api_key"))

	// Explicit config wins over the environment.
	cfg.Credentials = Credentials{"api_key": "explicit"}
	creds, err = ResolveCredentials(context.Background(), nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, "explicit", creds.Get("api_key"))
}

func TestEnvCredentialAlternatives(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	creds := EnvCredentials("gemini")
	require.NotNil(t, creds)
	assert.Equal(t, "google-key", creds.Get("api_key"))
}

func TestResolveCredentialsMissing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := &LLMConfig{OwnerID: "alice", Provider: "openai", Model: "gpt-4o"}
	_, err := ResolveCredentials(context.Background(), nil, cfg)
	require.Error(t, err)
	assert.Equal(t, fault.KindAuth, fault.KindOf(err))
}

func TestGenieChildrenMustBeOwnerProfiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	child := validProfile("alice", "worker")
	require.NoError(t, store.SaveProfile(ctx, child))

	foreign := validProfile("bob", "worker")
	require.NoError(t, store.SaveProfile(ctx, foreign))

	genie := validProfile("alice", "genie")
	genie.Kind = types.ProfileGenie
	genie.GenieConfig = &GenieConfig{Children: []string{child.ID}}
	require.NoError(t, store.SaveProfile(ctx, genie))

	missing := validProfile("alice", "genie-missing")
	missing.Kind = types.ProfileGenie
	missing.GenieConfig = &GenieConfig{Children: []string{"no-such-profile"}}
	err := store.SaveProfile(ctx, missing)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	crossOwner := validProfile("alice", "genie-cross")
	crossOwner.Kind = types.ProfileGenie
	crossOwner.GenieConfig = &GenieConfig{Children: []string{foreign.ID}}
	err = store.SaveProfile(ctx, crossOwner)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	self := validProfile("alice", "genie-self")
	self.Kind = types.ProfileGenie
	self.ID = "genie-self-id"
	self.GenieConfig = &GenieConfig{Children: []string{"genie-self-id"}}
	err = store.SaveProfile(ctx, self)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestMCPServerChangeInvalidatesClassification(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := validProfile("alice", "analyst")
	p.Kind = types.ProfileToolEnabled
	p.MCPServerID = "srv-1"
	require.NoError(t, store.SaveProfile(ctx, p))

	c := &Classification{
		Tools:              map[string][]ToolInfo{"database": {{Name: "run_sql"}}},
		Prompts:            map[string][]PromptInfo{},
		LastClassifiedAt:   time.Now(),
		ClassifiedWithMode: ClassifyLight,
	}
	require.NoError(t, store.SaveClassification(ctx, p.ID, c))

	// Re-save without changing the server: cache survives.
	p.SystemPrompt = "updated"
	require.NoError(t, store.SaveProfile(ctx, p))
	got, err := store.GetClassification(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Point the profile at a different server: cache is dropped.
	p.MCPServerID = "srv-2"
	require.NoError(t, store.SaveProfile(ctx, p))
	got, err = store.GetClassification(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
