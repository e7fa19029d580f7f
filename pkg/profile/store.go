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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/types"
)

// Store persists profiles, LLM configs, MCP servers, and classification
// caches. Profiles carry their flexible configuration as JSON documents in a
// single column; the relational part is what queries filter on.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the profile database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		kind TEXT NOT NULL,
		document_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (owner_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_owner ON profiles(owner_id);

	CREATE TABLE IF NOT EXISTS llm_configs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		max_context_tokens INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mcp_servers (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		transport TEXT NOT NULL,
		document_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS classifications (
		profile_id TEXT PRIMARY KEY,
		document_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (profile_id) REFERENCES profiles(id) ON DELETE CASCADE
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveProfile inserts or updates a profile after validating its invariants.
func (s *Store) SaveProfile(ctx context.Context, p *Profile) error {
	if err := validateProfile(p); err != nil {
		return err
	}
	// Genie children must be profiles the same owner already has.
	if p.Kind == types.ProfileGenie {
		for _, child := range p.GenieConfig.Children {
			if child == p.ID {
				return fault.New(fault.KindValidation, "genie child %s refers to the genie itself", child)
			}
			c, err := s.GetProfile(ctx, p.OwnerID, child)
			if err != nil {
				return err
			}
			if c == nil {
				return fault.New(fault.KindValidation, "genie child %s is not a profile of owner %s", child, p.OwnerID)
			}
		}
	}

	now := time.Now()
	if p.ID == "" {
		p.ID = uuid.New().String()
		p.CreatedAt = now
	} else {
		// A different MCP server advertises a different surface; the cached
		// classification no longer describes it. Mode changes are caught at
		// activation via classified_with_mode.
		prior, err := s.GetProfile(ctx, p.OwnerID, p.ID)
		if err != nil {
			return err
		}
		if prior != nil && prior.MCPServerID != p.MCPServerID {
			if err := s.InvalidateClassification(ctx, p.ID); err != nil {
				return err
			}
		}
	}
	p.UpdatedAt = now

	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, owner_id, tag, kind, document_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tag = excluded.tag,
			kind = excluded.kind,
			document_json = excluded.document_json,
			updated_at = excluded.updated_at`,
		p.ID, p.OwnerID, p.Tag, string(p.Kind), string(doc), p.CreatedAt.Unix(), now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.New(fault.KindConflict, "profile tag %q already exists for owner", p.Tag)
		}
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

func validateProfile(p *Profile) error {
	if p.OwnerID == "" || p.Tag == "" {
		return fault.New(fault.KindValidation, "profile requires owner_id and tag")
	}
	if !p.Kind.Valid() {
		return fault.New(fault.KindValidation, "invalid profile kind %q", p.Kind)
	}
	if p.LLMConfigID == "" {
		return fault.New(fault.KindValidation, "profile requires llm_config_id")
	}
	if p.Kind == types.ProfileToolEnabled && p.MCPServerID == "" {
		return fault.New(fault.KindValidation, "tool_enabled profile requires mcp_server_id")
	}
	if p.Kind == types.ProfileGenie && (p.GenieConfig == nil || len(p.GenieConfig.Children) == 0) {
		return fault.New(fault.KindValidation, "genie profile requires genie_config.children")
	}
	if p.ClassificationMode == "" {
		p.ClassificationMode = ClassifyLight
	}
	return nil
}

// GetProfile loads a profile by id. Returns (nil, nil) when absent.
func (s *Store) GetProfile(ctx context.Context, ownerID, id string) (*Profile, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document_json FROM profiles WHERE owner_id = ? AND id = ?`,
		ownerID, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", id, err)
	}
	var p Profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return &p, nil
}

// GetProfileByTag loads a profile by its owner-unique tag.
func (s *Store) GetProfileByTag(ctx context.Context, ownerID, tag string) (*Profile, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document_json FROM profiles WHERE owner_id = ? AND tag = ?`,
		ownerID, tag).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile by tag %s: %w", tag, err)
	}
	var p Profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", tag, err)
	}
	return &p, nil
}

// ListProfiles returns every profile owned by ownerID.
func (s *Store) ListProfiles(ctx context.Context, ownerID string) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_json FROM profiles WHERE owner_id = ? ORDER BY tag`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p Profile
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeleteProfile removes a profile; its classification cache cascades.
func (s *Store) DeleteProfile(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM profiles WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindNotFound, "profile %s not found", id)
	}
	return nil
}

// SaveLLMConfig inserts or updates an LLM config. Inline credentials are
// never persisted.
func (s *Store) SaveLLMConfig(ctx context.Context, c *LLMConfig) error {
	if c.OwnerID == "" || c.Provider == "" || c.Model == "" {
		return fault.New(fault.KindValidation, "llm config requires owner_id, provider, model")
	}
	now := time.Now()
	if c.ID == "" {
		c.ID = uuid.New().String()
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_configs (id, owner_id, provider, model, max_context_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			max_context_tokens = excluded.max_context_tokens,
			updated_at = excluded.updated_at`,
		c.ID, c.OwnerID, c.Provider, c.Model, c.MaxContextTokens,
		c.CreatedAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save llm config %s: %w", c.ID, err)
	}
	return nil
}

// GetLLMConfig loads an LLM config by id. Returns (nil, nil) when absent.
func (s *Store) GetLLMConfig(ctx context.Context, ownerID, id string) (*LLMConfig, error) {
	var c LLMConfig
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, provider, model, max_context_tokens, created_at, updated_at
		FROM llm_configs WHERE owner_id = ? AND id = ?`, ownerID, id,
	).Scan(&c.ID, &c.OwnerID, &c.Provider, &c.Model, &c.MaxContextTokens, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load llm config %s: %w", id, err)
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

// SaveMCPServer inserts or updates an MCP server definition.
func (s *Store) SaveMCPServer(ctx context.Context, m *MCPServer) error {
	if err := ValidateMCPServer(m); err != nil {
		return err
	}
	now := time.Now()
	if m.ID == "" {
		m.ID = uuid.New().String()
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode mcp server: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers (id, owner_id, name, transport, document_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			transport = excluded.transport,
			document_json = excluded.document_json,
			updated_at = excluded.updated_at`,
		m.ID, m.OwnerID, m.Name, string(m.Transport), string(doc),
		m.CreatedAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save mcp server %s: %w", m.ID, err)
	}
	return nil
}

// ValidateMCPServer checks transport selection. A server pointing at host
// "stdio" or port 0 without the stdio transport is a misconfiguration, not a
// fallback.
func ValidateMCPServer(m *MCPServer) error {
	if m.OwnerID == "" {
		return fault.New(fault.KindValidation, "mcp server requires owner_id")
	}
	switch m.Transport {
	case TransportStdio:
		if m.Command == "" {
			return fault.New(fault.KindValidation, "stdio transport requires a command")
		}
	case TransportHTTPSSE, TransportStreamableHTTP:
		if strings.EqualFold(m.Host, "stdio") || m.Port == 0 {
			return fault.New(fault.KindValidation,
				"host %q port %d is not addressable over %s; set transport to stdio explicitly",
				m.Host, m.Port, m.Transport)
		}
	default:
		return fault.New(fault.KindValidation, "unknown transport %q", m.Transport)
	}
	return nil
}

// GetMCPServer loads an MCP server by id. Returns (nil, nil) when absent.
func (s *Store) GetMCPServer(ctx context.Context, ownerID, id string) (*MCPServer, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document_json FROM mcp_servers WHERE owner_id = ? AND id = ?`,
		ownerID, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load mcp server %s: %w", id, err)
	}
	var m MCPServer
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("decode mcp server %s: %w", id, err)
	}
	return &m, nil
}

// SaveClassification persists a profile's classification cache.
func (s *Store) SaveClassification(ctx context.Context, profileID string, c *Classification) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode classification: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO classifications (profile_id, document_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			document_json = excluded.document_json,
			updated_at = excluded.updated_at`,
		profileID, string(doc), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save classification for %s: %w", profileID, err)
	}
	return nil
}

// GetClassification loads a profile's cached classification, or (nil, nil).
func (s *Store) GetClassification(ctx context.Context, profileID string) (*Classification, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document_json FROM classifications WHERE profile_id = ?`, profileID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load classification for %s: %w", profileID, err)
	}
	var c Classification
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("decode classification for %s: %w", profileID, err)
	}
	return &c, nil
}

// InvalidateClassification drops a profile's classification cache. Called
// when the profile's mode or MCP server changes.
func (s *Store) InvalidateClassification(ctx context.Context, profileID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM classifications WHERE profile_id = ?`, profileID)
	if err != nil {
		return fmt.Errorf("invalidate classification for %s: %w", profileID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
