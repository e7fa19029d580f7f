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
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/teradata-labs/heddle/internal/csync"
	"github.com/teradata-labs/heddle/pkg/fault"
)

// Store is the durable layer of the knowledge graph. Materialized graphs are
// cached per (owner, profile) and dropped on any write to that scope.
type Store struct {
	db    *sql.DB
	cache *csync.Map[string, *Graph]
}

// NewStore opens (or creates) the knowledge graph database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	// The pragma rides on the DSN so every pooled connection enforces FKs,
	// not just the one that ran a PRAGMA statement.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &Store{db: db, cache: csync.NewMap[string, *Graph]()}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kg_entities (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		properties_json TEXT,
		source TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (owner_id, profile_id, name, type)
	);
	CREATE INDEX IF NOT EXISTS idx_kg_entities_scope ON kg_entities(owner_id, profile_id);

	CREATE TABLE IF NOT EXISTS kg_relationships (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		type TEXT NOT NULL,
		cardinality TEXT,
		metadata_json TEXT,
		source TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE (owner_id, profile_id, source_id, target_id, type),
		FOREIGN KEY (source_id) REFERENCES kg_entities(id) ON DELETE CASCADE,
		FOREIGN KEY (target_id) REFERENCES kg_entities(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_kg_rels_scope ON kg_relationships(owner_id, profile_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func scopeKey(ownerID, profileID string) string {
	return ownerID + "/" + profileID
}

func (s *Store) invalidate(ownerID, profileID string) {
	s.cache.Delete(scopeKey(ownerID, profileID))
}

// UpsertEntity inserts or updates an entity on its natural key
// (owner, profile, name, type). Returns the stored entity with its id.
func (s *Store) UpsertEntity(ctx context.Context, e *Entity) (*Entity, error) {
	if e.Name == "" || !e.Type.Valid() {
		return nil, fault.New(fault.KindValidation, "entity requires a name and a valid type")
	}

	now := time.Now()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return nil, fmt.Errorf("encode entity properties: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kg_entities (id, owner_id, profile_id, name, type, properties_json, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, profile_id, name, type) DO UPDATE SET
			properties_json = excluded.properties_json,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		e.ID, e.OwnerID, e.ProfileID, e.Name, string(e.Type), string(props), e.Source,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert entity %s: %w", e.Name, err)
	}

	// On conflict the stored row keeps its original id; read it back.
	var id string
	var createdAt int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id, created_at FROM kg_entities
		WHERE owner_id = ? AND profile_id = ? AND name = ? AND type = ?`,
		e.OwnerID, e.ProfileID, e.Name, string(e.Type),
	).Scan(&id, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("read back entity %s: %w", e.Name, err)
	}
	e.ID = id
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = now

	s.invalidate(e.OwnerID, e.ProfileID)
	return e, nil
}

// GetEntity loads an entity by id within a scope. Returns (nil, nil) when
// absent.
func (s *Store) GetEntity(ctx context.Context, ownerID, profileID, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, profile_id, name, type, properties_json, source, created_at, updated_at
		FROM kg_entities WHERE owner_id = ? AND profile_id = ? AND id = ?`,
		ownerID, profileID, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// FindEntity loads an entity by natural key. Returns (nil, nil) when absent.
func (s *Store) FindEntity(ctx context.Context, ownerID, profileID, name string, typ EntityType) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, profile_id, name, type, properties_json, source, created_at, updated_at
		FROM kg_entities WHERE owner_id = ? AND profile_id = ? AND name = ? AND type = ?`,
		ownerID, profileID, name, string(typ))
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// DeleteEntity removes an entity and all relationships touching it. The
// relationship delete is explicit, in the same transaction, so the cascade
// holds regardless of per-connection FK settings.
func (s *Store) DeleteEntity(ctx context.Context, ownerID, profileID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM kg_entities WHERE owner_id = ? AND profile_id = ? AND id = ?`,
		ownerID, profileID, id)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindNotFound, "entity %s not found", id)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kg_relationships WHERE owner_id = ? AND profile_id = ? AND (source_id = ? OR target_id = ?)`,
		ownerID, profileID, id, id); err != nil {
		return fmt.Errorf("delete entity %s relationships: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	s.invalidate(ownerID, profileID)
	return nil
}

// SearchEntities returns entities whose name matches the query substring,
// optionally filtered by type.
func (s *Store) SearchEntities(ctx context.Context, ownerID, profileID, query string, typ EntityType) ([]*Entity, error) {
	q := `
		SELECT id, owner_id, profile_id, name, type, properties_json, source, created_at, updated_at
		FROM kg_entities WHERE owner_id = ? AND profile_id = ? AND name LIKE ?`
	args := []interface{}{ownerID, profileID, "%" + query + "%"}
	if typ != "" {
		q += " AND type = ?"
		args = append(args, string(typ))
	}
	q += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// UpsertRelationship inserts or updates an edge on its natural key
// (owner, profile, source, target, type). Both endpoints must exist.
func (s *Store) UpsertRelationship(ctx context.Context, r *Relationship) (*Relationship, error) {
	if !r.Type.Valid() {
		return nil, fault.New(fault.KindValidation, "invalid relationship type %q", r.Type)
	}
	for _, id := range []string{r.SourceID, r.TargetID} {
		e, err := s.GetEntity(ctx, r.OwnerID, r.ProfileID, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, fault.New(fault.KindNotFound, "relationship endpoint %s not found", id)
		}
	}

	now := time.Now()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode relationship metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kg_relationships (id, owner_id, profile_id, source_id, target_id, type, cardinality, metadata_json, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, profile_id, source_id, target_id, type) DO UPDATE SET
			cardinality = excluded.cardinality,
			metadata_json = excluded.metadata_json,
			source = excluded.source`,
		r.ID, r.OwnerID, r.ProfileID, r.SourceID, r.TargetID, string(r.Type),
		r.Cardinality, string(meta), r.Source, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert relationship: %w", err)
	}
	r.CreatedAt = now

	s.invalidate(r.OwnerID, r.ProfileID)
	return r, nil
}

// DeleteRelationship removes an edge by id.
func (s *Store) DeleteRelationship(ctx context.Context, ownerID, profileID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kg_relationships WHERE owner_id = ? AND profile_id = ? AND id = ?`,
		ownerID, profileID, id)
	if err != nil {
		return fmt.Errorf("delete relationship %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindNotFound, "relationship %s not found", id)
	}
	s.invalidate(ownerID, profileID)
	return nil
}

// BulkImport upserts entities then relationships in one call.
func (s *Store) BulkImport(ctx context.Context, ownerID, profileID string, entities []*Entity, rels []*Relationship) error {
	for _, e := range entities {
		e.OwnerID, e.ProfileID = ownerID, profileID
		if _, err := s.UpsertEntity(ctx, e); err != nil {
			return err
		}
	}
	for _, r := range rels {
		r.OwnerID, r.ProfileID = ownerID, profileID
		if _, err := s.UpsertRelationship(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every entity and relationship in a scope.
func (s *Store) Clear(ctx context.Context, ownerID, profileID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kg_relationships WHERE owner_id = ? AND profile_id = ?`, ownerID, profileID); err != nil {
		return fmt.Errorf("clear relationships: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kg_entities WHERE owner_id = ? AND profile_id = ?`, ownerID, profileID); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.invalidate(ownerID, profileID)
	return nil
}

// Graph materializes (or returns the cached) in-memory graph for a scope.
func (s *Store) Graph(ctx context.Context, ownerID, profileID string) (*Graph, error) {
	key := scopeKey(ownerID, profileID)
	if g, ok := s.cache.Get(key); ok {
		return g, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, profile_id, name, type, properties_json, source, created_at, updated_at
		FROM kg_entities WHERE owner_id = ? AND profile_id = ?`, ownerID, profileID)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	entities, err := scanEntities(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, owner_id, profile_id, source_id, target_id, type, cardinality, metadata_json, source, created_at
		FROM kg_relationships WHERE owner_id = ? AND profile_id = ?`, ownerID, profileID)
	if err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}
	defer rows.Close()

	var rels []*Relationship
	for rows.Next() {
		var r Relationship
		var typ, meta string
		var card, src sql.NullString
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.ProfileID, &r.SourceID, &r.TargetID,
			&typ, &card, &meta, &src, &createdAt); err != nil {
			return nil, err
		}
		r.Type = RelationType(typ)
		r.Cardinality = card.String
		r.Source = src.String
		r.CreatedAt = time.Unix(createdAt, 0)
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode relationship metadata: %w", err)
			}
		}
		rels = append(rels, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	g := NewGraph(entities, rels)
	s.cache.Set(key, g)
	return g, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var typ, props string
	var src sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&e.ID, &e.OwnerID, &e.ProfileID, &e.Name, &typ, &props, &src,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.Type = EntityType(typ)
	e.Source = src.String
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)
	if props != "" && props != "null" {
		if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
			return nil, fmt.Errorf("decode entity properties: %w", err)
		}
	}
	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]*Entity, error) {
	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
