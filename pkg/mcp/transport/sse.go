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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/teradata-labs/heddle/internal/log"
	"go.uber.org/zap"
)

// SSETransport implements Transport over HTTP+SSE: requests POST to the
// message endpoint, responses arrive as SSE events on a long-lived stream.
type SSETransport struct {
	endpoint   string
	sseClient  *sse.Client
	httpClient *http.Client

	events chan []byte
	errors chan error

	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

// SSEConfig configures the HTTP+SSE transport.
type SSEConfig struct {
	// Endpoint is the server base URL, e.g. http://host:port.
	Endpoint string
	// SSEPath is the event stream path (default /sse).
	SSEPath string
	Headers map[string]string
}

// NewSSETransport connects the event stream in the background; a server that
// is down fails on first use, not at construction.
func NewSSETransport(config SSEConfig) (*SSETransport, error) {
	if config.SSEPath == "" {
		config.SSEPath = "/sse"
	}

	sseClient := sse.NewClient(config.Endpoint + config.SSEPath)
	for k, v := range config.Headers {
		sseClient.Headers[k] = v
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &SSETransport{
		endpoint:  config.Endpoint,
		sseClient: sseClient,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		events: make(chan []byte, 100),
		errors: make(chan error, 1),
		cancel: cancel,
	}

	sseClient.OnDisconnect(func(c *sse.Client) {
		select {
		case t.errors <- fmt.Errorf("SSE disconnected"):
		default:
		}
	})

	go func() {
		err := sseClient.SubscribeWithContext(ctx, "message", func(msg *sse.Event) {
			select {
			case t.events <- msg.Data:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("SSE subscription failed",
				zap.String("endpoint", config.Endpoint),
				zap.Error(err))
			select {
			case t.errors <- err:
			default:
			}
		}
	}()

	return t, nil
}

// Send POSTs a message to the server's message endpoint.
func (t *SSETransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("transport closed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/messages", bytes.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Receive delivers the next SSE event payload.
func (t *SSETransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-t.errors:
		return nil, err
	case data, ok := <-t.events:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

// Close stops the event stream.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	return nil
}
