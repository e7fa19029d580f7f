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
	"fmt"
	"os"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // Auto-registers as "sqlite3"

	"github.com/teradata-labs/heddle/pkg/fault"
)

// Credentials is a set of named secret values for one provider, e.g.
// {"api_key": ..., "endpoint": ...}. Values never appear in logs or errors.
type Credentials map[string]string

// Get returns a credential value, or "".
func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// CredentialStore keeps per-owner provider credentials in a SQLCipher
// encrypted SQLite database. The encryption key comes from config or the
// HEDDLE_DB_KEY environment variable.
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore opens the encrypted credential database.
func NewCredentialStore(dbPath, encryptionKey string) (*CredentialStore, error) {
	if encryptionKey == "" {
		encryptionKey = os.Getenv("HEDDLE_DB_KEY")
	}
	if encryptionKey == "" {
		return nil, fmt.Errorf("credential store requires an encryption key (set HEDDLE_DB_KEY)")
	}

	// Open database using pre-registered "sqlite3" driver from sqlcipher
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}

	// The key PRAGMA must be the first operation after opening.
	if _, err := db.Exec(fmt.Sprintf("PRAGMA key = '%s'", encryptionKey)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set encryption key: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify encryption key (wrong key or corrupted database): %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS credentials (
		owner_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (owner_id, provider, key)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize credential schema: %w", err)
	}
	return &CredentialStore{db: db}, nil
}

// Close closes the database connection.
func (s *CredentialStore) Close() error {
	return s.db.Close()
}

// Put stores one credential value.
func (s *CredentialStore) Put(ctx context.Context, ownerID, provider, key, value string) error {
	if ownerID == "" || provider == "" || key == "" {
		return fault.New(fault.KindValidation, "credential requires owner_id, provider, key")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (owner_id, provider, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, provider, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		ownerID, provider, key, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store credential for %s/%s: %w", ownerID, provider, err)
	}
	return nil
}

// Get returns the stored credentials for a provider, possibly empty.
func (s *CredentialStore) Get(ctx context.Context, ownerID, provider string) (Credentials, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM credentials WHERE owner_id = ? AND provider = ?`,
		ownerID, provider)
	if err != nil {
		return nil, fmt.Errorf("load credentials for %s/%s: %w", ownerID, provider, err)
	}
	defer rows.Close()

	creds := Credentials{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		creds[k] = v
	}
	return creds, rows.Err()
}

// Delete removes every stored credential for a provider.
func (s *CredentialStore) Delete(ctx context.Context, ownerID, provider string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE owner_id = ? AND provider = ?`, ownerID, provider)
	if err != nil {
		return fmt.Errorf("delete credentials for %s/%s: %w", ownerID, provider, err)
	}
	return nil
}

// envCredentials maps a provider to its environment fallback. Alternatives
// for the same key are tried in order.
var envCredentials = map[string][]struct {
	key  string
	vars []string
}{
	"gemini":    {{"api_key", []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}}},
	"google":    {{"api_key", []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}}},
	"anthropic": {{"api_key", []string{"ANTHROPIC_API_KEY"}}},
	"openai":    {{"api_key", []string{"OPENAI_API_KEY"}}},
	"azure": {
		{"api_key", []string{"AZURE_OPENAI_API_KEY"}},
		{"endpoint", []string{"AZURE_OPENAI_ENDPOINT"}},
		{"deployment_name", []string{"AZURE_OPENAI_DEPLOYMENT_NAME"}},
		{"api_version", []string{"AZURE_OPENAI_API_VERSION"}},
	},
	"friendli": {
		{"token", []string{"FRIENDLI_TOKEN"}},
		{"endpoint_url", []string{"FRIENDLI_ENDPOINT_URL"}},
	},
	"bedrock": {
		{"access_key_id", []string{"AWS_ACCESS_KEY_ID"}},
		{"secret_access_key", []string{"AWS_SECRET_ACCESS_KEY"}},
		{"region", []string{"AWS_REGION"}},
	},
	"ollama": {{"host", []string{"OLLAMA_HOST"}}},
}

// EnvCredentials reads a provider's credentials from the environment.
func EnvCredentials(provider string) Credentials {
	specs, ok := envCredentials[provider]
	if !ok {
		return nil
	}
	creds := Credentials{}
	for _, spec := range specs {
		for _, env := range spec.vars {
			if v := os.Getenv(env); v != "" {
				creds[spec.key] = v
				break
			}
		}
	}
	if len(creds) == 0 {
		return nil
	}
	return creds
}

// ResolveCredentials merges the three credential sources for an LLM config.
// Precedence: explicit config values, then the encrypted store, then the
// environment. Store may be nil.
func ResolveCredentials(ctx context.Context, store *CredentialStore, cfg *LLMConfig) (Credentials, error) {
	merged := Credentials{}
	for k, v := range EnvCredentials(cfg.Provider) {
		merged[k] = v
	}
	if store != nil {
		stored, err := store.Get(ctx, cfg.OwnerID, cfg.Provider)
		if err != nil {
			return nil, err
		}
		for k, v := range stored {
			merged[k] = v
		}
	}
	for k, v := range cfg.Credentials {
		merged[k] = v
	}
	if len(merged) == 0 {
		return nil, fault.New(fault.KindAuth, "no credentials available for provider %s", cfg.Provider)
	}
	return merged, nil
}
