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
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/teradata-labs/heddle/internal/csync"
	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/fault"
	"go.uber.org/zap"
)

// Purgeable session fields accepted by PurgeField.
const (
	FieldChatObject      = "chat_object"
	FieldWorkflowHistory = "workflow_history"
	FieldModuleState     = "module_state"
)

// Store persists sessions as one JSON file each under
// <root>/<owner_id>/<session_id>.json. Writes go through a temp file and
// rename, so readers always see a complete document. Writers to the same
// session serialize behind a per-session lock.
type Store struct {
	root  string
	locks *csync.KeyedMutex[string]
}

// NewStore creates a file-backed session store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions root: %w", err)
	}
	return &Store{
		root:  dir,
		locks: csync.NewKeyedMutex[string](),
	}, nil
}

func (s *Store) path(ownerID, sessionID string) string {
	return filepath.Join(s.root, ownerID, sessionID+".json")
}

func lockKey(ownerID, sessionID string) string {
	return ownerID + "/" + sessionID
}

// validID rejects ids that could escape the owner directory.
func validID(id string) bool {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return false
	}
	return true
}

// Load reads a session. Returns (nil, nil) when the session does not exist.
func (s *Store) Load(ctx context.Context, ownerID, sessionID string) (*Session, error) {
	if !validID(ownerID) || !validID(sessionID) {
		return nil, fault.New(fault.KindValidation, "invalid owner or session id")
	}

	data, err := os.ReadFile(s.path(ownerID, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Save writes a session atomically (temp file + rename).
func (s *Store) Save(ctx context.Context, ownerID string, sess *Session) error {
	if !validID(ownerID) || sess == nil || !validID(sess.ID) {
		return fault.New(fault.KindValidation, "invalid owner or session id")
	}

	key := lockKey(ownerID, sess.ID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	sess.OwnerID = ownerID
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	sess.UpdatedAt = time.Now()

	return s.writeLocked(ownerID, sess)
}

// writeLocked performs the atomic write. Caller holds the session lock.
func (s *Store) writeLocked(ownerID string, sess *Session) error {
	dir := filepath.Join(s.root, ownerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create owner dir: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	tmp, err := os.CreateTemp(dir, "."+sess.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session %s: %w", sess.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path(ownerID, sess.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit session %s: %w", sess.ID, err)
	}
	return nil
}

// PurgeField clears one purgeable field of a stored session.
func (s *Store) PurgeField(ctx context.Context, ownerID, sessionID, field string) error {
	key := lockKey(ownerID, sessionID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	sess, err := s.Load(ctx, ownerID, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fault.New(fault.KindNotFound, "session %s not found", sessionID)
	}

	switch field {
	case FieldChatObject:
		sess.ChatObject = nil
	case FieldWorkflowHistory:
		sess.WorkflowHistory = nil
	case FieldModuleState:
		sess.ModuleState = nil
	default:
		return fault.New(fault.KindValidation, "field %q is not purgeable", field)
	}

	sess.UpdatedAt = time.Now()
	log.Debug("purged session field",
		zap.String("session_id", sessionID),
		zap.String("field", field),
	)
	return s.writeLocked(ownerID, sess)
}

// Delete removes a session file. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, ownerID, sessionID string) error {
	if !validID(ownerID) || !validID(sessionID) {
		return fault.New(fault.KindValidation, "invalid owner or session id")
	}

	key := lockKey(ownerID, sessionID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if err := os.Remove(s.path(ownerID, sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// List returns the session ids stored for an owner.
func (s *Store) List(ctx context.Context, ownerID string) ([]string, error) {
	if !validID(ownerID) {
		return nil, fault.New(fault.KindValidation, "invalid owner id")
	}

	entries, err := os.ReadDir(filepath.Join(s.root, ownerID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// WithLock runs fn while holding the per-session lock. The orchestrator uses
// this to serialize concurrent turns on the same session.
func (s *Store) WithLock(ownerID, sessionID string, fn func() error) error {
	key := lockKey(ownerID, sessionID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	return fn()
}
