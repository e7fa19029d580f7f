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
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/heddle/pkg/consumption"
	"github.com/teradata-labs/heddle/pkg/contextwindow"
	"github.com/teradata-labs/heddle/pkg/executor"
	"github.com/teradata-labs/heddle/pkg/knowledge"
	"github.com/teradata-labs/heddle/pkg/llm"
	"github.com/teradata-labs/heddle/pkg/orchestrator"
	"github.com/teradata-labs/heddle/pkg/profile"
	"github.com/teradata-labs/heddle/pkg/session"
	"github.com/teradata-labs/heddle/pkg/tokens"
	"github.com/teradata-labs/heddle/pkg/types"
)

const testOwner = "alice"

type fakeLLMFactory struct {
	provider types.LLMProvider
}

func (f *fakeLLMFactory) Build(ctx context.Context, cfg *profile.LLMConfig, creds profile.Credentials) (types.LLMProvider, error) {
	return f.provider, nil
}

func (f *fakeLLMFactory) HealthCheck(ctx context.Context, provider types.LLMProvider) error {
	return nil
}

type fakeMCPSession struct {
	tools []types.ToolDefinition
}

func (s *fakeMCPSession) Invoke(ctx context.Context, name string, args map[string]interface{}) (*types.ToolResult, error) {
	return &types.ToolResult{Success: true, Data: `[{"product": "a"}]`}, nil
}

func (s *fakeMCPSession) ListTools(ctx context.Context) ([]types.ToolDefinition, error) {
	return s.tools, nil
}

func (s *fakeMCPSession) ListPrompts(ctx context.Context) ([]profile.PromptInfo, error) {
	return nil, nil
}

func (s *fakeMCPSession) Close() error { return nil }

type fakeMCPFactory struct{ session *fakeMCPSession }

func (f *fakeMCPFactory) Connect(ctx context.Context, server *profile.MCPServer) (profile.MCPSession, error) {
	return f.session, nil
}

type staticClassifier struct{}

func (staticClassifier) Classify(ctx context.Context, mode profile.ClassificationMode, tools []types.ToolDefinition, prompts []profile.PromptInfo) (*profile.Classification, error) {
	c := &profile.Classification{
		Tools:              map[string][]profile.ToolInfo{},
		Prompts:            map[string][]profile.PromptInfo{},
		ClassifiedWithMode: mode,
	}
	for _, t := range tools {
		c.Tools["query"] = append(c.Tools["query"], profile.ToolInfo{Name: t.Name})
	}
	return c, nil
}

type testEnv struct {
	server    *Server
	profileID string
	knowledge *knowledge.Store
}

func newTestServer(t *testing.T, limits consumption.Limits, steps ...llm.ScriptedStep) *testEnv {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	cons, err := consumption.NewStore(filepath.Join(dir, "consumption.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cons.Close() })
	require.NoError(t, cons.EnsureOwner(ctx, testOwner, limits))

	sessions, err := session.NewStore(filepath.Join(dir, "sessions"))
	require.NoError(t, err)

	profiles, err := profile.NewStore(filepath.Join(dir, "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { profiles.Close() })

	kg, err := knowledge.NewStore(filepath.Join(dir, "kg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kg.Close() })

	llmCfg := &profile.LLMConfig{
		OwnerID:          testOwner,
		Provider:         "anthropic",
		Model:            "claude-sonnet-4-5-20250929",
		MaxContextTokens: 8000,
		Credentials:      profile.Credentials{"api_key": "test-key"},
	}
	require.NoError(t, profiles.SaveLLMConfig(ctx, llmCfg))

	mcpServer := &profile.MCPServer{
		OwnerID:   testOwner,
		Name:      "warehouse",
		Transport: profile.TransportStdio,
		Command:   "warehouse-mcp",
	}
	require.NoError(t, profiles.SaveMCPServer(ctx, mcpServer))

	p := &profile.Profile{
		OwnerID:      testOwner,
		Tag:          "analyst",
		Kind:         types.ProfileToolEnabled,
		LLMConfigID:  llmCfg.ID,
		MCPServerID:  mcpServer.ID,
		SystemPrompt: "You answer questions about the sales warehouse.",
	}
	require.NoError(t, profiles.SaveProfile(ctx, p))

	provider := llm.NewScripted(steps...)
	mcp := &fakeMCPSession{tools: []types.ToolDefinition{{Name: "base_readQuery"}}}
	switcher := profile.NewSwitcher(profiles, nil, &fakeLLMFactory{provider: provider}, &fakeMCPFactory{session: mcp}, staticClassifier{})

	est := tokens.NewEstimator()
	orch := orchestrator.New(orchestrator.Deps{
		Consumption: cons,
		Sessions:    sessions,
		Switcher:    switcher,
		Assembler:   contextwindow.NewAssembler(est, contextwindow.DefaultModules(est)...),
		Executor:    executor.New(0),
		Knowledge:   kg,
		Estimator:   est,
	})

	srv := New("127.0.0.1:0", Deps{
		Orchestrator: orch,
		Switcher:     switcher,
		Profiles:     profiles,
		Consumption:  cons,
		Knowledge:    kg,
		Sessions:     sessions,
	})
	return &testEnv{server: srv, profileID: p.ID, knowledge: kg}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, owner string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

// sseEvents decodes every data: line of an SSE body.
func sseEvents(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	var events []map[string]interface{}
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		events = append(events, e)
	}
	return events
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t, consumption.TierPro)
	rec := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestMissingOwnerHeaderUnauthorized(t *testing.T) {
	env := newTestServer(t, consumption.TierPro)
	rec := env.do(t, http.MethodPost, "/consumption:check", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTurnStreamsEventsAndSummary(t *testing.T) {
	env := newTestServer(t, consumption.TierPro,
		llm.ScriptedStep{Response: &types.LLMResponse{
			Content: "The top product is a.",
			Usage:   types.Usage{InputTokens: 100, OutputTokens: 20},
		}},
	)

	rec := env.do(t, http.MethodPost, "/turn", map[string]interface{}{
		"profile_id": env.profileID,
		"message":    "show top products",
	}, testOwner)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := sseEvents(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "conversation_agent_start", events[0]["type"])

	last := events[len(events)-1]
	assert.Equal(t, "turn_summary", last["type"])
	assert.Equal(t, true, last["success"])
	assert.NotEmpty(t, last["session_id"])
	assert.Equal(t, "The top product is a.", last["answer"])
}

func TestTurnValidation(t *testing.T) {
	env := newTestServer(t, consumption.TierPro)
	rec := env.do(t, http.MethodPost, "/turn", map[string]interface{}{
		"profile_id": env.profileID,
	}, testOwner)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTurnUnknownProfile404(t *testing.T) {
	env := newTestServer(t, consumption.TierPro)
	rec := env.do(t, http.MethodPost, "/turn", map[string]interface{}{
		"profile_id": "missing",
		"message":    "hello",
	}, testOwner)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTurnRateLimited429WithRetryAfter(t *testing.T) {
	limits := consumption.TierPro
	limits.PromptsPerHour = 1
	env := newTestServer(t, limits,
		llm.ScriptedStep{Response: &types.LLMResponse{Content: "ok", Usage: types.Usage{InputTokens: 5, OutputTokens: 5}}},
	)

	first := env.do(t, http.MethodPost, "/turn", map[string]interface{}{
		"profile_id": env.profileID, "message": "one",
	}, testOwner)
	require.Equal(t, http.StatusOK, first.Code)

	second := env.do(t, http.MethodPost, "/turn", map[string]interface{}{
		"profile_id": env.profileID, "message": "two",
	}, testOwner)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["kind"])
	assert.Greater(t, body["retry_after"], float64(0))
}

func TestActivateEndpoint(t *testing.T) {
	env := newTestServer(t, consumption.TierPro)

	rec := env.do(t, http.MethodPost, "/profiles/"+env.profileID+":activate", nil, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, env.profileID, body["profile_id"])
	assert.Equal(t, "tool_enabled", body["kind"])
	assert.Equal(t, false, body["classification_hit"])
	assert.Equal(t, float64(1), body["tool_count"])

	// Second activation hits the classification cache.
	rec = env.do(t, http.MethodPost, "/profiles/"+env.profileID+":activate", nil, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["classification_hit"])
}

func TestClassificationEndpointEmptyBeforeActivation(t *testing.T) {
	env := newTestServer(t, consumption.TierPro)

	rec := env.do(t, http.MethodGet, "/profiles/"+env.profileID+"/classification", nil, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{}", strings.TrimSpace(rec.Body.String()))

	rec = env.do(t, http.MethodGet, "/profiles/missing/classification", nil, testOwner)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConsumptionCheckReportsRemaining(t *testing.T) {
	limits := consumption.TierPro
	env := newTestServer(t, limits)

	rec := env.do(t, http.MethodPost, "/consumption:check", nil, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Remaining consumption.Remaining `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, limits.PromptsPerHour, body.Remaining.Hour)
	assert.Equal(t, limits.InputTokensPerMonth, body.Remaining.InputTokens)
}

func TestKGEntityCRUDAndSearch(t *testing.T) {
	env := newTestServer(t, consumption.TierPro)
	base := "/kg/" + env.profileID

	// Create two tables and a column.
	for _, e := range []map[string]interface{}{
		{"name": "orders", "type": "table"},
		{"name": "customers", "type": "table"},
		{"name": "orders.customer_id", "type": "column"},
	} {
		rec := env.do(t, http.MethodPost, base+"/entities", e, testOwner)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, base+"/entities?q=orders", nil, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Entities []*knowledge.Entity `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.NotEmpty(t, listed.Entities)

	// Relate the column to its table.
	var table, column *knowledge.Entity
	for _, e := range listed.Entities {
		switch e.Name {
		case "orders":
			table = e
		case "orders.customer_id":
			column = e
		}
	}
	require.NotNil(t, table)
	require.NotNil(t, column)

	rec = env.do(t, http.MethodPost, base+"/relationships", map[string]interface{}{
		"source_id": table.ID,
		"target_id": column.ID,
		"type":      "contains",
	}, testOwner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Search renders the subgraph.
	rec = env.do(t, http.MethodPost, base+"/search", map[string]interface{}{
		"query": "show orders by customer",
	}, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Rendered string              `json:"rendered"`
		Entities []*knowledge.Entity `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Contains(t, result.Rendered, "KNOWLEDGE GRAPH CONTEXT")
	assert.Contains(t, result.Rendered, "orders")

	// Delete an entity.
	rec = env.do(t, http.MethodDelete, base+"/entities/"+column.ID, nil, testOwner)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestServer(t, consumption.TierPro,
		llm.ScriptedStep{Response: &types.LLMResponse{
			Content: "done",
			Usage:   types.Usage{InputTokens: 10, OutputTokens: 5},
		}},
	)

	rec := env.do(t, http.MethodPost, "/turn", map[string]interface{}{
		"profile_id": env.profileID,
		"message":    "hello",
	}, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	events := sseEvents(t, rec.Body.String())
	sessionID := events[len(events)-1]["session_id"].(string)

	rec = env.do(t, http.MethodGet, "/sessions", nil, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Sessions []string `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Contains(t, listed.Sessions, sessionID)

	rec = env.do(t, http.MethodGet, "/sessions/"+sessionID, nil, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, sessionID, sess.ID)
	assert.NotEmpty(t, sess.ChatObject)
	assert.NotEmpty(t, sess.ModuleState)

	rec = env.do(t, http.MethodPost, "/sessions/"+sessionID+":purge", map[string]interface{}{
		"field": session.FieldModuleState,
	}, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/sessions/"+sessionID, nil, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	var purged session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &purged))
	assert.Empty(t, purged.ModuleState)

	rec = env.do(t, http.MethodPost, "/sessions/"+sessionID+":purge", map[string]interface{}{
		"field": "messages",
	}, testOwner)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodDelete, "/sessions/"+sessionID, nil, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/sessions/"+sessionID, nil, testOwner)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKGStatsEndpoint(t *testing.T) {
	env := newTestServer(t, consumption.TierPro)
	base := "/kg/" + env.profileID

	ids := map[string]string{}
	for _, name := range []string{"orders", "customers"} {
		rec := env.do(t, http.MethodPost, base+"/entities", map[string]interface{}{
			"name": name, "type": "table",
		}, testOwner)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var e knowledge.Entity
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
		ids[name] = e.ID
	}
	rec := env.do(t, http.MethodPost, base+"/relationships", map[string]interface{}{
		"source_id": ids["orders"],
		"target_id": ids["customers"],
		"type":      "foreign_key",
	}, testOwner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, base+"/stats", nil, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats knowledge.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.EntityCount)
	assert.Equal(t, 1, stats.RelationshipCount)
	assert.Equal(t, 1, stats.ComponentCount)
	assert.False(t, stats.HasCycle)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t, consumption.TierPro)
	rec := env.do(t, http.MethodOptions, "/turn", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), ownerHeader)
}
