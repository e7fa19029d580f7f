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
package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// StreamableTransport implements the streamable HTTP MCP transport: every
// message POSTs to one endpoint; the server answers with application/json or
// a short-lived text/event-stream, and assigns a session id on initialize.
type StreamableTransport struct {
	endpoint   string
	httpClient *http.Client
	headers    map[string]string

	responses chan []byte

	mu        sync.Mutex
	sessionID string
	closed    bool
}

// StreamableConfig configures the streamable HTTP transport.
type StreamableConfig struct {
	// Endpoint is the full MCP URL, e.g. http://host:port/mcp.
	Endpoint string
	Headers  map[string]string
}

// NewStreamableTransport creates a streamable HTTP transport.
func NewStreamableTransport(config StreamableConfig) *StreamableTransport {
	return &StreamableTransport{
		endpoint: config.Endpoint,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		headers:   config.Headers,
		responses: make(chan []byte, 100),
	}
}

// Send POSTs a message and queues whatever the server answers with.
func (t *StreamableTransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	session := t.sessionID
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set("Mcp-Session-Id", session)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		// Notification accepted, no body.
		return nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, body)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return t.drainEventStream(ctx, resp.Body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(body)) > 0 {
		select {
		case t.responses <- body:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// drainEventStream queues each data: payload from a per-request SSE body.
func (t *StreamableTransport) drainEventStream(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		select {
		case t.responses <- []byte(data):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// Receive delivers the next queued response.
func (t *StreamableTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-t.responses:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

// Close marks the transport closed.
func (t *StreamableTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
