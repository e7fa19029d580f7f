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
// Package orchestrator drives one user turn end to end: consumption gates,
// profile activation, session handling, context assembly, the executor loop,
// and accounting. Concurrent turns on the same session serialize; turns on
// different sessions run in parallel.
package orchestrator

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teradata-labs/heddle/internal/csync"
	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/consumption"
	"github.com/teradata-labs/heddle/pkg/contextwindow"
	"github.com/teradata-labs/heddle/pkg/executor"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/knowledge"
	"github.com/teradata-labs/heddle/pkg/profile"
	"github.com/teradata-labs/heddle/pkg/session"
	"github.com/teradata-labs/heddle/pkg/tokens"
	"github.com/teradata-labs/heddle/pkg/types"
	"go.uber.org/zap"
)

const (
	// defaultContextWindow stands in when an LLM config does not declare the
	// model's window.
	defaultContextWindow = 128_000

	// defaultSafetyMargin is reserved below the model window for the
	// response.
	defaultSafetyMargin = 2048

	// queryPreviewLen bounds the query excerpt stored with consumption turns.
	queryPreviewLen = 120

	// eventLogCap bounds the per-turn event log persisted on the session.
	eventLogCap = 200
)

// RAGRetriever fetches prior validated interaction snippets for a query.
type RAGRetriever interface {
	Retrieve(ctx context.Context, ownerID, profileID, query string, k int) ([]string, error)
}

// Orchestrator wires the turn pipeline together.
type Orchestrator struct {
	consumption *consumption.Store
	sessions    *session.Store
	switcher    *profile.Switcher
	assembler   *contextwindow.Assembler
	executor    *executor.Executor
	knowledge   *knowledge.Store // nil when KG is not configured
	rag         RAGRetriever     // nil when RAG is not configured
	est         *tokens.Estimator

	turnLocks    *csync.KeyedMutex[string]
	safetyMargin int
}

// Deps are the orchestrator's collaborators. Knowledge and RAG are optional.
type Deps struct {
	Consumption *consumption.Store
	Sessions    *session.Store
	Switcher    *profile.Switcher
	Assembler   *contextwindow.Assembler
	Executor    *executor.Executor
	Knowledge   *knowledge.Store
	RAG         RAGRetriever
	Estimator   *tokens.Estimator

	// SafetyMargin overrides the response reservation. Zero means default.
	SafetyMargin int
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	margin := d.SafetyMargin
	if margin <= 0 {
		margin = defaultSafetyMargin
	}
	est := d.Estimator
	if est == nil {
		est = tokens.NewEstimator()
	}
	return &Orchestrator{
		consumption:  d.Consumption,
		sessions:     d.Sessions,
		switcher:     d.Switcher,
		assembler:    d.Assembler,
		executor:     d.Executor,
		knowledge:    d.Knowledge,
		rag:          d.RAG,
		est:          est,
		turnLocks:    csync.NewKeyedMutex[string](),
		safetyMargin: margin,
	}
}

// TurnRequest is one user message addressed to a profile within a session.
type TurnRequest struct {
	OwnerID   string
	SessionID string // empty creates a new session
	ProfileID string
	Message   string
	// Attachments are document extracts uploaded with this message.
	Attachments []session.Attachment
}

// TurnResult is the executor outcome plus the session it landed in.
type TurnResult struct {
	*executor.Result
	SessionID  string
	TurnNumber int
}

// RunTurn executes the full pipeline for one user message. Events are
// delivered to sink in emission order as the turn runs. Errors returned
// before the executor starts carry fault kinds for HTTP mapping; once
// events flow, failures surface through the event stream and result.
func (o *Orchestrator) RunTurn(ctx context.Context, req *TurnRequest, sink func(executor.Event)) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fault.New(fault.KindValidation, "message must not be empty")
	}
	if req.OwnerID == "" || req.ProfileID == "" {
		return nil, fault.New(fault.KindValidation, "owner_id and profile_id are required")
	}

	// Steps 1-3: consumption gates, then count the request.
	if err := o.consumption.CheckRate(ctx, req.OwnerID); err != nil {
		return nil, err
	}
	if err := o.consumption.CheckQuota(ctx, req.OwnerID); err != nil {
		return nil, err
	}
	if err := o.consumption.IncrementRequest(ctx, req.OwnerID); err != nil {
		return nil, err
	}

	// Step 4: activation validates credentials and binds tools.
	state, err := o.switcher.Activate(ctx, req.OwnerID, req.ProfileID, true)
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	lockKey := req.OwnerID + "/" + sessionID
	o.turnLocks.Lock(lockKey)
	defer o.turnLocks.Unlock(lockKey)

	return o.runLocked(ctx, req, state, sessionID, sink)
}

func (o *Orchestrator) runLocked(ctx context.Context, req *TurnRequest, state *profile.RuntimeState, sessionID string, sink func(executor.Event)) (*TurnResult, error) {
	// Step 5: load or create the session, append the user message.
	sess, err := o.sessions.Load(ctx, req.OwnerID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = &session.Session{
			ID:        sessionID,
			OwnerID:   req.OwnerID,
			ProfileID: req.ProfileID,
			CreatedAt: time.Now(),
		}
	}
	sess.ProfileID = req.ProfileID
	sess.CurrentQuery = req.Message
	sess.Attachments = append(sess.Attachments, req.Attachments...)
	sess.AppendMessage(types.Message{Role: "user", Content: req.Message})

	if err := o.consumption.IncrementSessionCount(ctx, req.OwnerID, sessionID); err != nil {
		return nil, err
	}

	turnNumber := sess.TurnCount + 1

	// Step 6: assemble the context window.
	budget := o.budgetFor(state)
	tc := &contextwindow.TurnContext{
		OwnerID:    req.OwnerID,
		Profile:    state.Profile,
		Session:    sess,
		TurnNumber: turnNumber,
		Query:      req.Message,
		Tools:      state.Tools,
		Knowledge:  o.knowledgeFn(req.OwnerID, req.ProfileID, req.Message, state.Profile),
		RAG:        o.ragFn(req.OwnerID, req.ProfileID, req.Message, state.Profile),
	}
	contribs, err := o.assembler.Assemble(ctx, budget, tc)
	if err != nil {
		// The user message is kept so the failed turn is visible in history.
		if saveErr := o.sessions.Save(ctx, req.OwnerID, sess); saveErr != nil {
			log.Warn("session save after assembly failure", zap.Error(saveErr))
		}
		return nil, err
	}

	// Step 7: run the executor, fanning events out to the caller and the
	// session event log.
	execReq := &executor.Request{
		OwnerID:    req.OwnerID,
		SessionID:  sessionID,
		TurnNumber: turnNumber,
		Messages:   o.buildMessages(contribs, sess, req.Message),
		Provider:   state.LLM,
		Tools:      state.Tools,
	}
	if state.MCP != nil {
		execReq.Invoker = state.MCP
	}

	stream := executor.NewStream()
	var eventLog []executor.Event
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for e := range stream.Events() {
			if sink != nil {
				sink(e)
			}
			if len(eventLog) < eventLogCap {
				eventLog = append(eventLog, e)
			}
		}
	}()

	res, err := o.executor.Execute(ctx, execReq, stream)
	<-drained
	if err != nil {
		return nil, err
	}

	// Step 8: append the assistant message and the turn trace.
	sess.AppendMessage(types.Message{Role: "assistant", Content: res.Answer, Invalid: !res.Success})
	sess.WorkflowHistory = append(sess.WorkflowHistory, session.TurnTrace{
		TurnNumber:     turnNumber,
		ExecutionTrace: res.Trace,
		IsValid:        res.Success,
		RecordedAt:     time.Now(),
	})
	sess.TurnCount = turnNumber
	sess.TotalTokens += res.Usage.TotalTokens
	sess.CostMicroUSD += res.Usage.CostMicroUSD
	sess.CurrentQuery = ""
	if sess.ModuleState == nil {
		sess.ModuleState = map[string]interface{}{}
	}
	sess.ModuleState["last_turn_events"] = eventLog

	// Step 9: consumption accounting.
	status := "success"
	if !res.Success {
		status = "failed"
	}
	ragContrib, ragUsed := contribs[contextwindow.ModuleRAGContext]
	rec := consumption.TurnRecord{
		SessionID:    sessionID,
		SessionName:  sess.Name,
		TurnNumber:   turnNumber,
		InputTokens:  int64(res.Usage.InputTokens),
		OutputTokens: int64(res.Usage.OutputTokens),
		Provider:     state.LLM.Name(),
		Model:        state.LLM.Model(),
		Status:       status,
		RAGUsed:      ragUsed,
		CostMicroUSD: res.Usage.CostMicroUSD,
		QueryPreview: preview(req.Message),
	}
	if ragUsed {
		rec.RAGTokensSaved = int64(ragContrib.TokensUsed)
	}
	if err := o.consumption.RecordTurn(ctx, req.OwnerID, rec); err != nil {
		log.Warn("record turn failed", zap.String("owner_id", req.OwnerID), zap.Error(err))
	}

	// Step 10: persist the session.
	if err := o.sessions.Save(ctx, req.OwnerID, sess); err != nil {
		return nil, err
	}

	// Step 11: best-effort knowledge upsert from successful tool results.
	if o.knowledge != nil && res.Success {
		o.upsertKnowledge(ctx, req.OwnerID, req.ProfileID, res.Trace)
	}

	return &TurnResult{Result: res, SessionID: sessionID, TurnNumber: turnNumber}, nil
}

// budgetFor computes the assembly budget: the profile's cap bounded by the
// model window minus the response margin.
func (o *Orchestrator) budgetFor(state *profile.RuntimeState) int {
	window := defaultContextWindow
	if state.LLMConfig != nil && state.LLMConfig.MaxContextTokens > 0 {
		window = state.LLMConfig.MaxContextTokens
	}
	budget := window - o.safetyMargin
	if budget < 1 {
		budget = 1
	}
	if p := state.Profile; p != nil && p.ContextBudget > 0 && p.ContextBudget < budget {
		budget = p.ContextBudget
	}
	return budget
}

// systemModuleOrder fixes how non-message contributions concatenate into the
// system prompt. Tool definitions are excluded: tools travel natively on the
// Chat call. Conversation history is excluded: it travels as real messages.
var systemModuleOrder = []string{
	contextwindow.ModuleSystemPrompt,
	contextwindow.ModuleComponentInstructions,
	contextwindow.ModuleKnowledgeContext,
	contextwindow.ModuleRAGContext,
	contextwindow.ModuleDocumentContext,
	contextwindow.ModulePlanHydration,
	contextwindow.ModuleWorkflowHistory,
}

// buildMessages turns the assembled contributions into the executor's
// initial message list: system, windowed history, current user message.
func (o *Orchestrator) buildMessages(contribs map[string]contextwindow.Contribution, sess *session.Session, query string) []types.Message {
	var parts []string
	for _, id := range systemModuleOrder {
		if c, ok := contribs[id]; ok && c.Content != "" {
			parts = append(parts, c.Content)
		}
	}

	messages := []types.Message{{Role: "system", Content: strings.Join(parts, "\n\n")}}

	// History window sized by the history module's token allowance. The last
	// stored message is the current query; it is appended explicitly below.
	if hc, ok := contribs[contextwindow.ModuleConversationHistory]; ok && hc.TokensUsed > 0 {
		valid := sess.ValidMessages()
		if n := len(valid); n > 0 {
			valid = valid[:n-1]
		}
		messages = append(messages, windowMessages(o.est, valid, hc.TokensUsed)...)
	}

	return append(messages, types.Message{Role: "user", Content: query})
}

// windowMessages keeps the newest messages that fit the token allowance.
func windowMessages(est *tokens.Estimator, msgs []types.Message, allowance int) []types.Message {
	start := len(msgs)
	for start > 0 {
		if est.EstimateMessages(msgs[start-1:]) > allowance {
			break
		}
		start--
	}
	return msgs[start:]
}

// knowledgeFn builds the subgraph closure for the assembler, or nil when the
// profile carries no knowledge graph.
func (o *Orchestrator) knowledgeFn(ownerID, profileID, query string, p *profile.Profile) func(context.Context, int) (*knowledge.Subgraph, error) {
	if o.knowledge == nil || p == nil || len(p.KnowledgeConfig) == 0 {
		return nil
	}
	return func(ctx context.Context, maxNodes int) (*knowledge.Subgraph, error) {
		g, err := o.knowledge.Graph(ctx, ownerID, profileID)
		if err != nil {
			return nil, err
		}
		seeds, matched := g.MatchQuery(query)
		if len(seeds) == 0 {
			return &knowledge.Subgraph{}, nil
		}
		return g.ExtractSubgraph(knowledge.ExtractOptions{
			SeedIDs:      seeds,
			QueryMatched: matched,
			MaxNodes:     maxNodes,
		}), nil
	}
}

// ragFn builds the snippet retrieval closure, or nil when RAG is off.
func (o *Orchestrator) ragFn(ownerID, profileID, query string, p *profile.Profile) func(context.Context, int) ([]string, error) {
	if o.rag == nil || p == nil || len(p.RAGConfig) == 0 {
		return nil
	}
	return func(ctx context.Context, k int) ([]string, error) {
		return o.rag.Retrieve(ctx, ownerID, profileID, query, k)
	}
}

var tableRefRE = regexp.MustCompile(`(?i)\b(?:from|join|into|update)\s+([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)`)

// upsertKnowledge infers table entities from the SQL of successful tool
// calls and upserts them. Failures are logged and never fail the turn.
func (o *Orchestrator) upsertKnowledge(ctx context.Context, ownerID, profileID string, trace []session.ExecutionStep) {
	seen := map[string]bool{}
	for _, step := range trace {
		if step.OutputSummary.Status != "success" {
			continue
		}
		sqlText, _ := step.Action.Args["sql"].(string)
		if sqlText == "" {
			sqlText, _ = step.Action.Args["query"].(string)
		}
		if sqlText == "" {
			continue
		}
		for _, m := range tableRefRE.FindAllStringSubmatch(sqlText, -1) {
			name := strings.ToLower(m[1])
			if seen[name] {
				continue
			}
			seen[name] = true
			_, err := o.knowledge.UpsertEntity(ctx, &knowledge.Entity{
				OwnerID:   ownerID,
				ProfileID: profileID,
				Name:      name,
				Type:      knowledge.EntityTable,
				Source:    "turn_inference",
			})
			if err != nil {
				log.Warn("knowledge upsert from turn failed",
					zap.String("entity", name),
					zap.Error(err))
			}
		}
	}
}

// preview truncates a query for consumption records.
func preview(q string) string {
	q = strings.TrimSpace(q)
	if len(q) > queryPreviewLen {
		return q[:queryPreviewLen]
	}
	return q
}
