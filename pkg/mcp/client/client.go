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
// Package client implements an MCP client over any transport: the initialize
// handshake, request/response correlation, and the tools/prompts surface.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/mcp/protocol"
	"github.com/teradata-labs/heddle/pkg/mcp/transport"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds a single request/response round trip.
const DefaultRequestTimeout = 30 * time.Second

// Client speaks MCP over a transport. Safe for concurrent use; responses are
// routed to their callers by request id.
type Client struct {
	transport transport.Transport
	timeout   time.Duration

	nextID  atomic.Int64
	pending sync.Map // request id string → chan *protocol.Response

	serverInfo   protocol.Implementation
	capabilities protocol.ServerCapabilities
	initialized  atomic.Bool

	// schemas caches tool input schemas for argument validation.
	schemas sync.Map // tool name → *gojsonschema.Schema

	closeOnce sync.Once
	closed    chan struct{}
}

// Config configures a client.
type Config struct {
	Transport transport.Transport
	// RequestTimeout defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// New creates a client and starts its receive loop.
func New(config Config) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	c := &Client{
		transport: config.Transport,
		timeout:   timeout,
		closed:    make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// Initialize performs the MCP handshake.
func (c *Client) Initialize(ctx context.Context, clientInfo protocol.Implementation) error {
	resp, err := c.call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      clientInfo,
	})
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}
	c.serverInfo = result.ServerInfo
	c.capabilities = result.Capabilities
	c.initialized.Store(true)

	// Handshake completes with the initialized notification.
	note, err := protocol.NewNotification(protocol.MethodInitialized, struct{}{})
	if err != nil {
		return err
	}
	data, err := json.Marshal(note)
	if err != nil {
		return err
	}
	if err := c.transport.Send(ctx, data); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}

	log.Debug("MCP client initialized",
		zap.String("server", result.ServerInfo.Name),
		zap.String("version", result.ServerInfo.Version),
	)
	return nil
}

// IsInitialized reports whether the handshake has completed.
func (c *Client) IsInitialized() bool {
	return c.initialized.Load()
}

// ServerInfo returns the server's implementation info.
func (c *Client) ServerInfo() protocol.Implementation {
	return c.serverInfo
}

// Ping performs a server liveness check.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, protocol.MethodPing, struct{}{})
	return err
}

// ListTools fetches the server's advertised tools and caches their input
// schemas for argument validation.
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	resp, err := c.call(ctx, protocol.MethodToolsList, struct{}{})
	if err != nil {
		return nil, err
	}
	var result protocol.ToolsListResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode tools list: %w", err)
	}

	for _, t := range result.Tools {
		if len(t.InputSchema) == 0 {
			continue
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.InputSchema))
		if err != nil {
			log.Warn("tool schema unparseable, skipping validation",
				zap.String("tool", t.Name), zap.Error(err))
			continue
		}
		c.schemas.Store(t.Name, schema)
	}
	return result.Tools, nil
}

// ListPrompts fetches the server's advertised prompts.
func (c *Client) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	resp, err := c.call(ctx, protocol.MethodPromptsList, struct{}{})
	if err != nil {
		return nil, err
	}
	var result protocol.PromptsListResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode prompts list: %w", err)
	}
	return result.Prompts, nil
}

// CallTool invokes a tool. Arguments are validated against the tool's cached
// input schema before anything goes on the wire.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	if err := c.validateArgs(name, args); err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, protocol.MethodToolsCall, protocol.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	var result protocol.CallToolResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	return &result, nil
}

// validateArgs checks args against the tool's input schema, if known.
func (c *Client) validateArgs(name string, args map[string]interface{}) error {
	v, ok := c.schemas.Load(name)
	if !ok {
		return nil
	}
	schema := v.(*gojsonschema.Schema)
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate arguments for %s: %w", name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fault.New(fault.KindValidation, "invalid arguments for %s: %v", name, msgs)
	}
	return nil
}

// call sends one request and waits for its response.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *protocol.Response, 1)
	key := req.ID.String()
	c.pending.Store(key, ch)
	defer c.pending.Delete(key)

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.transport.Send(ctx, data); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamTransient, err, "%s send failed", method)
	}

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fault.Wrap(fault.KindUpstreamTimeout, ctx.Err(), "%s timed out", method)
		}
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("client closed")
	case resp := <-ch:
		if resp.Error != nil {
			kind := fault.KindUpstreamPermanent
			if resp.Error.Code == protocol.InvalidParams {
				kind = fault.KindValidation
			}
			return nil, fault.Wrap(kind, resp.Error, "%s failed", method)
		}
		return resp.Result, nil
	}
}

// receiveLoop routes incoming responses to their pending callers.
func (c *Client) receiveLoop() {
	ctx := context.Background()
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		data, err := c.transport.Receive(ctx)
		if err != nil {
			select {
			case <-c.closed:
			default:
				log.Debug("MCP receive loop ended", zap.Error(err))
			}
			return
		}

		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil || resp.ID == nil {
			// Server-initiated requests and notifications are ignored.
			continue
		}
		if v, ok := c.pending.Load(resp.ID.String()); ok {
			select {
			case v.(chan *protocol.Response) <- &resp:
			default:
			}
		}
	}
}

// Close shuts the client and its transport down.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.transport.Close()
	})
	return err
}
