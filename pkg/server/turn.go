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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/executor"
	"github.com/teradata-labs/heddle/pkg/orchestrator"
	"github.com/teradata-labs/heddle/pkg/session"
	"go.uber.org/zap"
)

// turnRequest is the POST /turn body.
type turnRequest struct {
	SessionID   string           `json:"session_id,omitempty"`
	ProfileID   string           `json:"profile_id"`
	Message     string           `json:"message"`
	Attachments []turnAttachment `json:"attachments,omitempty"`
}

type turnAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// handleTurn runs one conversation turn, streaming events as SSE. Errors
// raised before the stream opens map to HTTP status codes; once streaming,
// failures arrive as events.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request, owner string) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if req.ProfileID == "" || req.Message == "" {
		writeFault(w, badRequest("profile_id and message are required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeFault(w, badRequest("streaming unsupported by connection"))
		return
	}

	turnReq := &orchestrator.TurnRequest{
		OwnerID:   owner,
		SessionID: req.SessionID,
		ProfileID: req.ProfileID,
		Message:   req.Message,
	}
	for _, a := range req.Attachments {
		turnReq.Attachments = append(turnReq.Attachments, session.Attachment{
			Filename: a.Filename,
			Content:  a.Content,
			Chars:    len(a.Content),
		})
	}

	headersSent := false
	sink := func(e executor.Event) {
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}
		data, err := json.Marshal(e)
		if err != nil {
			log.Warn("marshal event", zap.Error(err))
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	res, err := s.orch.RunTurn(r.Context(), turnReq, sink)
	if err != nil {
		if headersSent {
			// Too late for a status code; surface the error in-stream.
			sendSSEError(w, flusher, err)
			return
		}
		writeFault(w, err)
		return
	}

	// Terminal summary after agent_complete: the session id (clients need it
	// for fresh sessions) and the final payloads.
	summary := map[string]interface{}{
		"type":               "turn_summary",
		"session_id":         res.SessionID,
		"turn_number":        res.TurnNumber,
		"success":            res.Success,
		"cancelled":          res.Cancelled,
		"answer":             res.Answer,
		"tools_used":         res.ToolsUsed,
		"usage":              res.Usage,
		"component_payloads": res.ComponentPayloads,
	}
	data, _ := json.Marshal(summary)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// sendSSEError emits an error event on an already-open stream.
func sendSSEError(w http.ResponseWriter, flusher http.Flusher, err error) {
	event := map[string]interface{}{
		"type":  "error",
		"error": err.Error(),
	}
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
