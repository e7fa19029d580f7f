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
// Package profile manages agent profiles, their LLM and MCP bindings, the
// capability classification cache, and atomic per-owner context switching.
package profile

import (
	"time"

	"github.com/teradata-labs/heddle/pkg/types"
)

// ClassificationMode selects how thoroughly MCP capabilities are classified.
type ClassificationMode string

const (
	ClassifyLight ClassificationMode = "light"
	ClassifyFull  ClassificationMode = "full"
)

// Transport identifies how an MCP server is reached.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportHTTPSSE        Transport = "http_sse"
	TransportStreamableHTTP Transport = "streamable_http"
)

// Profile binds an owner's agent configuration: which LLM, which MCP server,
// which context modules, and how its capabilities are classified.
type Profile struct {
	ID      string            `json:"id"`
	OwnerID string            `json:"owner_id"`
	Tag     string            `json:"tag"` // unique per owner
	Kind    types.ProfileKind `json:"kind"`

	LLMConfigID string `json:"llm_config_id"`
	MCPServerID string `json:"mcp_server_id,omitempty"`

	ClassificationMode    ClassificationMode `json:"classification_mode"`
	InheritClassification bool               `json:"inherit_classification"`

	EnabledTools   []string `json:"enabled_tools,omitempty"`
	EnabledPrompts []string `json:"enabled_prompts,omitempty"`

	// ContextBudget caps the assembled prompt in tokens. Zero means use the
	// model's window minus the response margin.
	ContextBudget int `json:"context_budget,omitempty"`
	// ModuleWeights reweights or disables (weight 0) context modules.
	ModuleWeights map[string]float64 `json:"module_weights,omitempty"`

	SystemPrompt    string                 `json:"system_prompt,omitempty"`
	KnowledgeConfig map[string]interface{} `json:"knowledge_config,omitempty"`
	RAGConfig       map[string]interface{} `json:"rag_config,omitempty"`
	GenieConfig     *GenieConfig           `json:"genie_config,omitempty"`

	// UIComponents lists enabled generative-UI components (canvas, chart,
	// table). UIIntensity tunes how strongly their instructions are phrased:
	// minimal, standard, or assertive.
	UIComponents []string `json:"ui_components,omitempty"`
	UIIntensity  string   `json:"ui_intensity,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenieConfig lists the child profiles a genie coordinator delegates to.
// Children are referenced by id; cycles are resolved on demand, never stored.
type GenieConfig struct {
	Children []string `json:"children"`
}

// LLMConfig identifies a provider/model pair. Credentials live either inline
// (never persisted), in the encrypted store, or in the environment.
type LLMConfig struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// MaxContextTokens is the model's context window.
	MaxContextTokens int `json:"max_context_tokens"`

	// Credentials holds explicit config-supplied values. Highest precedence;
	// excluded from serialization so it never reaches disk or logs.
	Credentials Credentials `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MCPServer describes how to reach one MCP tool server.
type MCPServer struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Transport Transport `json:"transport"`

	// Stdio transport
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Dir      string            `json:"dir,omitempty"`
	Encoding string            `json:"encoding,omitempty"`

	// HTTP transports
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	Path string `json:"path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolInfo is one classified tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PromptInfo is one classified prompt.
type PromptInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ResourceInfo is one classified resource.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Classification is the cached capability categorization of an MCP server's
// advertised surface. It always retains the full set; disabled entries are
// subtracted at runtime.
type Classification struct {
	Tools              map[string][]ToolInfo     `json:"tools"`
	Prompts            map[string][]PromptInfo   `json:"prompts"`
	Resources          map[string][]ResourceInfo `json:"resources,omitempty"`
	LastClassifiedAt   time.Time                 `json:"last_classified_at"`
	ClassifiedWithMode ClassificationMode        `json:"classified_with_mode"`
}

// AllTools returns every classified tool name.
func (c *Classification) AllTools() []string {
	var out []string
	for _, infos := range c.Tools {
		for _, t := range infos {
			out = append(out, t.Name)
		}
	}
	return out
}

// AllPrompts returns every classified prompt name.
func (c *Classification) AllPrompts() []string {
	var out []string
	for _, infos := range c.Prompts {
		for _, p := range infos {
			out = append(out, p.Name)
		}
	}
	return out
}

// EnabledToolSet computes the runtime tool set: the classified tools minus
// everything not in the profile's enabled list.
func EnabledToolSet(c *Classification, enabled []string) map[string]bool {
	allow := map[string]bool{}
	for _, name := range enabled {
		allow[name] = true
	}
	out := map[string]bool{}
	for _, name := range c.AllTools() {
		if allow[name] {
			out[name] = true
		}
	}
	return out
}
