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
// Package mcp connects profiles to MCP servers. The factory selects a
// transport from the server record, runs the initialize handshake, and hands
// back a session exposing tools in the framework's own types.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/mcp/client"
	"github.com/teradata-labs/heddle/pkg/mcp/protocol"
	"github.com/teradata-labs/heddle/pkg/mcp/transport"
	"github.com/teradata-labs/heddle/pkg/profile"
	"github.com/teradata-labs/heddle/pkg/types"
	"go.uber.org/zap"
)

// componentEventsKey carries render payloads from tool output to the
// executor's event stream.
const componentEventsKey = "_component_llm_events"

// clientInfo identifies this client to MCP servers.
var clientInfo = protocol.Implementation{Name: "heddle", Version: "0.1.0"}

// Factory opens MCP sessions per the server's configured transport.
// Implements profile.MCPFactory.
type Factory struct{}

// NewFactory creates an MCP session factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Connect builds the transport, initializes the client, and returns a live
// session. Transport choice is explicit in the server record; there is no
// sniffing.
func (f *Factory) Connect(ctx context.Context, server *profile.MCPServer) (profile.MCPSession, error) {
	tr, err := buildTransport(server)
	if err != nil {
		return nil, err
	}

	c := client.New(client.Config{Transport: tr})
	if err := c.Initialize(ctx, clientInfo); err != nil {
		c.Close()
		return nil, fault.Wrap(fault.KindUpstreamTransient, err, "MCP initialize failed for %s", server.Name)
	}

	log.Info("MCP session established",
		zap.String("server", server.Name),
		zap.String("transport", string(server.Transport)),
	)
	return &Session{client: c, serverName: server.Name}, nil
}

func buildTransport(server *profile.MCPServer) (transport.Transport, error) {
	switch server.Transport {
	case profile.TransportStdio:
		return transport.NewStdioTransport(transport.StdioConfig{
			Command: server.Command,
			Args:    server.Args,
			Env:     server.Env,
			Dir:     server.Dir,
		})
	case profile.TransportHTTPSSE:
		return transport.NewSSETransport(transport.SSEConfig{
			Endpoint: fmt.Sprintf("http://%s:%d", server.Host, server.Port),
			SSEPath:  server.Path,
		})
	case profile.TransportStreamableHTTP:
		path := server.Path
		if path == "" {
			path = "/mcp"
		}
		return transport.NewStreamableTransport(transport.StreamableConfig{
			Endpoint: fmt.Sprintf("http://%s:%d%s", server.Host, server.Port, path),
		}), nil
	default:
		return nil, fault.New(fault.KindValidation, "unknown MCP transport %q", server.Transport)
	}
}

// Session is a live MCP connection. Implements profile.MCPSession.
type Session struct {
	client     *client.Client
	serverName string
}

// ListTools returns the server's tools as framework tool definitions.
func (s *Session) ListTools(ctx context.Context) ([]types.ToolDefinition, error) {
	tools, err := s.client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	defs := make([]types.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		def := types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
		}
		if len(t.InputSchema) > 0 {
			schema, err := types.SchemaFromJSON(t.InputSchema)
			if err != nil {
				log.Warn("skipping malformed tool schema",
					zap.String("server", s.serverName),
					zap.String("tool", t.Name),
					zap.Error(err))
			} else {
				def.InputSchema = types.NormalizeSchema(schema)
			}
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// ListPrompts returns the server's prompts.
func (s *Session) ListPrompts(ctx context.Context) ([]profile.PromptInfo, error) {
	prompts, err := s.client.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]profile.PromptInfo, 0, len(prompts))
	for _, p := range prompts {
		infos = append(infos, profile.PromptInfo{Name: p.Name, Description: p.Description})
	}
	return infos, nil
}

// Invoke calls a tool and maps the MCP result onto types.ToolResult.
// Component render payloads embedded in the output surface under the
// result's metadata.
func (s *Session) Invoke(ctx context.Context, name string, args map[string]interface{}) (*types.ToolResult, error) {
	start := time.Now()
	res, err := s.client.CallTool(ctx, name, args)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		if fault.KindOf(err) == fault.KindValidation {
			return &types.ToolResult{
				Success: false,
				Error: &types.ToolError{
					Code:       "invalid_arguments",
					Message:    err.Error(),
					Suggestion: "check the tool's input schema",
				},
				ExecutionTimeMs: elapsed,
			}, nil
		}
		return nil, err
	}

	text := res.Text()
	result := &types.ToolResult{
		Success:         !res.IsError,
		ExecutionTimeMs: elapsed,
	}
	if res.IsError {
		result.Error = &types.ToolError{
			Code:      "tool_error",
			Message:   text,
			Retryable: false,
		}
		return result, nil
	}

	result.Data = text

	// Structured output may carry component render payloads; lift them into
	// metadata so the executor can stream them.
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		if events, ok := obj[componentEventsKey]; ok {
			result.Metadata = map[string]interface{}{componentEventsKey: events}
		}
	}
	return result, nil
}

// Close shuts down the session and its transport.
func (s *Session) Close() error {
	return s.client.Close()
}
