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
package consumption

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/fault"
	"go.uber.org/zap"
)

// Store provides persistent consumption accounting backed by SQLite.
type Store struct {
	db *sql.DB

	// now is swappable for deterministic window and rollover tests.
	now func() time.Time
}

// NewStore opens (or creates) the consumption database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open consumption database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS consumption (
		owner_id TEXT PRIMARY KEY,
		current_period TEXT NOT NULL,
		requests_this_hour INTEGER DEFAULT 0,
		hour_reset_at INTEGER DEFAULT 0,
		requests_today INTEGER DEFAULT 0,
		day_reset_at INTEGER DEFAULT 0,
		peak_hour_requests INTEGER DEFAULT 0,
		peak_day_requests INTEGER DEFAULT 0,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		turns_succeeded INTEGER DEFAULT 0,
		turns_failed INTEGER DEFAULT 0,
		rag_turns INTEGER DEFAULT 0,
		rag_tokens_saved INTEGER DEFAULT 0,
		cost_micro_usd INTEGER DEFAULT 0,
		sessions_this_period INTEGER DEFAULT 0,
		sessions_last_24h INTEGER DEFAULT 0,
		prompts_per_hour INTEGER DEFAULT 0,
		prompts_per_day INTEGER DEFAULT 0,
		input_tokens_per_month INTEGER DEFAULT 0,
		output_tokens_per_month INTEGER DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS consumption_models (
		owner_id TEXT NOT NULL,
		period TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		turns INTEGER DEFAULT 0,
		cost_micro_usd INTEGER DEFAULT 0,
		PRIMARY KEY (owner_id, period, provider, model)
	);

	CREATE TABLE IF NOT EXISTS consumption_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		session_name TEXT,
		turn_number INTEGER NOT NULL,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		provider TEXT,
		model TEXT,
		status TEXT NOT NULL,
		rag_used INTEGER DEFAULT 0,
		rag_tokens_saved INTEGER DEFAULT 0,
		cost_micro_usd INTEGER DEFAULT 0,
		query_preview TEXT,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_owner ON consumption_turns(owner_id, recorded_at);

	CREATE TABLE IF NOT EXISTS consumption_sessions (
		owner_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		first_turn_at INTEGER NOT NULL,
		PRIMARY KEY (owner_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS consumption_periods_archive (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL,
		period TEXT NOT NULL,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		turns_succeeded INTEGER DEFAULT 0,
		turns_failed INTEGER DEFAULT 0,
		rag_turns INTEGER DEFAULT 0,
		rag_tokens_saved INTEGER DEFAULT 0,
		cost_micro_usd INTEGER DEFAULT 0,
		sessions INTEGER DEFAULT 0,
		peak_hour_requests INTEGER DEFAULT 0,
		peak_day_requests INTEGER DEFAULT 0,
		archived_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_archive_owner ON consumption_periods_archive(owner_id, period);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureOwner registers an owner with the given limits if not present.
// Existing owners keep their stored limits.
func (s *Store) EnsureOwner(ctx context.Context, ownerID string, limits Limits) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consumption (
			owner_id, current_period,
			prompts_per_hour, prompts_per_day,
			input_tokens_per_month, output_tokens_per_month,
			hour_reset_at, day_reset_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO NOTHING`,
		ownerID, periodOf(now),
		limits.PromptsPerHour, limits.PromptsPerDay,
		limits.InputTokensPerMonth, limits.OutputTokensPerMonth,
		now.Add(time.Hour).Unix(), now.Add(24*time.Hour).Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("ensure owner %s: %w", ownerID, err)
	}
	return nil
}

// SetLimits replaces an owner's limits.
func (s *Store) SetLimits(ctx context.Context, ownerID string, limits Limits) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE consumption SET
			prompts_per_hour = ?, prompts_per_day = ?,
			input_tokens_per_month = ?, output_tokens_per_month = ?,
			updated_at = ?
		WHERE owner_id = ?`,
		limits.PromptsPerHour, limits.PromptsPerDay,
		limits.InputTokensPerMonth, limits.OutputTokensPerMonth,
		s.now().Unix(), ownerID,
	)
	if err != nil {
		return fmt.Errorf("set limits for %s: %w", ownerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindNotFound, "owner %s not registered", ownerID)
	}
	return nil
}

// row is the mutable counter state loaded inside a transaction.
type row struct {
	period           string
	requestsThisHour int
	hourResetAt      int64
	requestsToday    int
	dayResetAt       int64
	peakHour         int
	peakDay          int
	inputTokens      int64
	outputTokens     int64
	turnsSucceeded   int
	turnsFailed      int
	ragTurns         int
	ragTokensSaved   int64
	costMicroUSD     int64
	sessions         int
	sessions24h      int
	limits           Limits
}

func (s *Store) loadRow(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}, ownerID string) (*row, error) {
	var r row
	err := q.QueryRowContext(ctx, `
		SELECT current_period, requests_this_hour, hour_reset_at,
			requests_today, day_reset_at, peak_hour_requests, peak_day_requests,
			input_tokens, output_tokens, turns_succeeded, turns_failed,
			rag_turns, rag_tokens_saved, cost_micro_usd,
			sessions_this_period, sessions_last_24h,
			prompts_per_hour, prompts_per_day,
			input_tokens_per_month, output_tokens_per_month
		FROM consumption WHERE owner_id = ?`, ownerID,
	).Scan(
		&r.period, &r.requestsThisHour, &r.hourResetAt,
		&r.requestsToday, &r.dayResetAt, &r.peakHour, &r.peakDay,
		&r.inputTokens, &r.outputTokens, &r.turnsSucceeded, &r.turnsFailed,
		&r.ragTurns, &r.ragTokensSaved, &r.costMicroUSD,
		&r.sessions, &r.sessions24h,
		&r.limits.PromptsPerHour, &r.limits.PromptsPerDay,
		&r.limits.InputTokensPerMonth, &r.limits.OutputTokensPerMonth,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.KindNotFound, "owner %s not registered", ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("load consumption for %s: %w", ownerID, err)
	}
	return &r, nil
}

// maybeRolloverTx archives and resets the row when the wall-clock month has
// moved past current_period. Runs inside the caller's transaction.
func (s *Store) maybeRolloverTx(ctx context.Context, tx *sql.Tx, ownerID string, r *row, now time.Time) error {
	period := periodOf(now)
	if r.period == period {
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO consumption_periods_archive (
			owner_id, period, input_tokens, output_tokens,
			turns_succeeded, turns_failed, rag_turns, rag_tokens_saved,
			cost_micro_usd, sessions, peak_hour_requests, peak_day_requests,
			archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ownerID, r.period, r.inputTokens, r.outputTokens,
		r.turnsSucceeded, r.turnsFailed, r.ragTurns, r.ragTokensSaved,
		r.costMicroUSD, r.sessions, r.peakHour, r.peakDay,
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("archive period %s for %s: %w", r.period, ownerID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE consumption SET
			current_period = ?,
			input_tokens = 0, output_tokens = 0,
			turns_succeeded = 0, turns_failed = 0,
			rag_turns = 0, rag_tokens_saved = 0,
			cost_micro_usd = 0,
			sessions_this_period = 0, sessions_last_24h = 0,
			peak_hour_requests = 0, peak_day_requests = 0,
			updated_at = ?
		WHERE owner_id = ?`,
		period, now.Unix(), ownerID,
	)
	if err != nil {
		return fmt.Errorf("reset period for %s: %w", ownerID, err)
	}

	// Session-count idempotency is per period.
	if _, err := tx.ExecContext(ctx, `DELETE FROM consumption_sessions WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("reset session marks for %s: %w", ownerID, err)
	}

	log.Info("rolled over consumption period",
		zap.String("owner_id", ownerID),
		zap.String("from", r.period),
		zap.String("to", period),
	)

	old := *r
	*r = row{period: period, hourResetAt: old.hourResetAt, dayResetAt: old.dayResetAt,
		requestsThisHour: old.requestsThisHour, requestsToday: old.requestsToday, limits: old.limits}
	return nil
}

// resetWindowsTx zeroes the hour/day counters whose reset instants are past.
func (s *Store) resetWindowsTx(ctx context.Context, tx *sql.Tx, ownerID string, r *row, now time.Time) error {
	changed := false
	if now.Unix() >= r.hourResetAt {
		r.requestsThisHour = 0
		r.hourResetAt = now.Add(time.Hour).Unix()
		changed = true
	}
	if now.Unix() >= r.dayResetAt {
		r.requestsToday = 0
		r.dayResetAt = now.Add(24 * time.Hour).Unix()
		changed = true
	}
	if !changed {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE consumption SET
			requests_this_hour = ?, hour_reset_at = ?,
			requests_today = ?, day_reset_at = ?, updated_at = ?
		WHERE owner_id = ?`,
		r.requestsThisHour, r.hourResetAt, r.requestsToday, r.dayResetAt,
		now.Unix(), ownerID,
	)
	if err != nil {
		return fmt.Errorf("reset rate windows for %s: %w", ownerID, err)
	}
	return nil
}

// CheckRate reports whether the owner may issue another request right now.
// Expired windows are reset first. On rejection the returned fault carries a
// retry-after hint in seconds.
func (s *Store) CheckRate(ctx context.Context, ownerID string) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	r, err := s.loadRow(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	if err := s.maybeRolloverTx(ctx, tx, ownerID, r, now); err != nil {
		return err
	}
	if err := s.resetWindowsTx(ctx, tx, ownerID, r, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	if r.limits.PromptsPerHour > 0 && r.requestsThisHour >= r.limits.PromptsPerHour {
		retry := int(r.hourResetAt - now.Unix())
		if retry < 1 {
			retry = 1
		}
		return fault.RateLimited(retry, "hourly limit exceeded")
	}
	if r.limits.PromptsPerDay > 0 && r.requestsToday >= r.limits.PromptsPerDay {
		retry := int(r.dayResetAt - now.Unix())
		if retry < 1 {
			retry = 1
		}
		return fault.RateLimited(retry, "daily limit exceeded")
	}
	return nil
}

// CheckQuota reports whether the owner has monthly token budget left.
func (s *Store) CheckQuota(ctx context.Context, ownerID string) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	r, err := s.loadRow(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	if err := s.maybeRolloverTx(ctx, tx, ownerID, r, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	if r.limits.InputTokensPerMonth > 0 && r.inputTokens >= r.limits.InputTokensPerMonth {
		return fault.New(fault.KindQuotaExceeded, "monthly input token quota exceeded")
	}
	if r.limits.OutputTokensPerMonth > 0 && r.outputTokens >= r.limits.OutputTokensPerMonth {
		return fault.New(fault.KindQuotaExceeded, "monthly output token quota exceeded")
	}
	return nil
}

// IncrementRequest counts one admitted request against the hour/day windows
// and updates the peak counters.
func (s *Store) IncrementRequest(ctx context.Context, ownerID string) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	r, err := s.loadRow(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	if err := s.maybeRolloverTx(ctx, tx, ownerID, r, now); err != nil {
		return err
	}
	if err := s.resetWindowsTx(ctx, tx, ownerID, r, now); err != nil {
		return err
	}

	r.requestsThisHour++
	r.requestsToday++
	peakHour := max(r.peakHour, r.requestsThisHour)
	peakDay := max(r.peakDay, r.requestsToday)

	_, err = tx.ExecContext(ctx, `
		UPDATE consumption SET
			requests_this_hour = ?, requests_today = ?,
			peak_hour_requests = ?, peak_day_requests = ?, updated_at = ?
		WHERE owner_id = ?`,
		r.requestsThisHour, r.requestsToday, peakHour, peakDay, now.Unix(), ownerID,
	)
	if err != nil {
		return fmt.Errorf("increment request for %s: %w", ownerID, err)
	}
	return tx.Commit()
}

// RecordTurn appends an immutable audit record and folds the turn's metrics
// into the period counters. One transaction; the audit row and the counter
// update commit together.
func (s *Store) RecordTurn(ctx context.Context, ownerID string, rec TurnRecord) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	r, err := s.loadRow(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	if err := s.maybeRolloverTx(ctx, tx, ownerID, r, now); err != nil {
		return err
	}

	succeeded := 0
	failed := 0
	if rec.Status == "success" {
		succeeded = 1
	} else {
		failed = 1
	}
	ragTurn := 0
	if rec.RAGUsed {
		ragTurn = 1
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE consumption SET
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			turns_succeeded = turns_succeeded + ?,
			turns_failed = turns_failed + ?,
			rag_turns = rag_turns + ?,
			rag_tokens_saved = rag_tokens_saved + ?,
			cost_micro_usd = cost_micro_usd + ?,
			updated_at = ?
		WHERE owner_id = ?`,
		rec.InputTokens, rec.OutputTokens, succeeded, failed,
		ragTurn, rec.RAGTokensSaved, rec.CostMicroUSD, now.Unix(), ownerID,
	)
	if err != nil {
		return fmt.Errorf("fold turn counters for %s: %w", ownerID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO consumption_models (owner_id, period, provider, model, input_tokens, output_tokens, turns, cost_micro_usd)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(owner_id, period, provider, model) DO UPDATE SET
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			turns = turns + 1,
			cost_micro_usd = cost_micro_usd + excluded.cost_micro_usd`,
		ownerID, r.period, rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.CostMicroUSD,
	)
	if err != nil {
		return fmt.Errorf("fold model counters for %s: %w", ownerID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO consumption_turns (
			owner_id, session_id, session_name, turn_number,
			input_tokens, output_tokens, provider, model, status,
			rag_used, rag_tokens_saved, cost_micro_usd, query_preview, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ownerID, rec.SessionID, rec.SessionName, rec.TurnNumber,
		rec.InputTokens, rec.OutputTokens, rec.Provider, rec.Model, rec.Status,
		ragTurn, rec.RAGTokensSaved, rec.CostMicroUSD, rec.QueryPreview, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append turn record for %s: %w", ownerID, err)
	}
	return tx.Commit()
}

// IncrementSessionCount counts a session toward the period the first time a
// turn runs on it. Repeated calls with the same session_id are no-ops.
func (s *Store) IncrementSessionCount(ctx context.Context, ownerID, sessionID string) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	r, err := s.loadRow(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	if err := s.maybeRolloverTx(ctx, tx, ownerID, r, now); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO consumption_sessions (owner_id, session_id, first_turn_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_id, session_id) DO NOTHING`,
		ownerID, sessionID, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("mark session for %s: %w", ownerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit() // already counted
	}

	// sessions_last_24h is monotonic within a period; it resets only on
	// rollover, never as sessions age out.
	_, err = tx.ExecContext(ctx, `
		UPDATE consumption SET
			sessions_this_period = sessions_this_period + 1,
			sessions_last_24h = sessions_last_24h + 1,
			updated_at = ?
		WHERE owner_id = ?`,
		now.Unix(), ownerID,
	)
	if err != nil {
		return fmt.Errorf("increment session count for %s: %w", ownerID, err)
	}
	return tx.Commit()
}

// RolloverPeriod archives and resets an owner's counters when the month has
// changed. Safe to call at any time; out-of-date rows are also rolled over
// lazily by every other operation.
func (s *Store) RolloverPeriod(ctx context.Context, ownerID string) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	r, err := s.loadRow(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	if err := s.maybeRolloverTx(ctx, tx, ownerID, r, now); err != nil {
		return err
	}
	return tx.Commit()
}

// SweepRollovers rolls over every owner whose period is stale. Wired to the
// scheduled sweep in the server.
func (s *Store) SweepRollovers(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id FROM consumption WHERE current_period != ?`, periodOf(s.now()))
	if err != nil {
		return fmt.Errorf("list stale owners: %w", err)
	}
	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		owners = append(owners, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range owners {
		if err := s.RolloverPeriod(ctx, id); err != nil {
			log.Error("period rollover failed", zap.String("owner_id", id), zap.Error(err))
		}
	}
	return nil
}

// Snapshot returns the owner's current counters and limits.
func (s *Store) Snapshot(ctx context.Context, ownerID string) (*Usage, error) {
	r, err := s.loadRow(ctx, s.db, ownerID)
	if err != nil {
		return nil, err
	}
	return &Usage{
		OwnerID:                ownerID,
		CurrentPeriod:          r.period,
		RequestsThisHour:       r.requestsThisHour,
		RequestsToday:          r.requestsToday,
		PeakHourRequests:       r.peakHour,
		PeakDayRequests:        r.peakDay,
		InputTokensThisPeriod:  r.inputTokens,
		OutputTokensThisPeriod: r.outputTokens,
		CostMicroUSD:           r.costMicroUSD,
		TurnsSucceeded:         r.turnsSucceeded,
		TurnsFailed:            r.turnsFailed,
		RAGTurns:               r.ragTurns,
		RAGTokensSaved:         r.ragTokensSaved,
		SessionsThisPeriod:     r.sessions,
		SessionsLast24h:        r.sessions24h,
		Limits:                 r.limits,
		HourResetAt:            time.Unix(r.hourResetAt, 0),
		DayResetAt:             time.Unix(r.dayResetAt, 0),
	}, nil
}

// ModelBreakdown returns the per-provider/model tallies for the current period.
func (s *Store) ModelBreakdown(ctx context.Context, ownerID string) ([]ModelUsage, error) {
	r, err := s.loadRow(ctx, s.db, ownerID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, model, input_tokens, output_tokens, turns, cost_micro_usd
		FROM consumption_models
		WHERE owner_id = ? AND period = ?
		ORDER BY provider, model`, ownerID, r.period)
	if err != nil {
		return nil, fmt.Errorf("model breakdown for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Provider, &m.Model, &m.InputTokens, &m.OutputTokens, &m.Turns, &m.CostMicroUSD); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ArchivedPeriods returns the archived counter snapshots for an owner.
func (s *Store) ArchivedPeriods(ctx context.Context, ownerID string) ([]Usage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period, input_tokens, output_tokens, turns_succeeded, turns_failed,
			rag_turns, rag_tokens_saved, cost_micro_usd, sessions,
			peak_hour_requests, peak_day_requests
		FROM consumption_periods_archive
		WHERE owner_id = ? ORDER BY period`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("archived periods for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		u := Usage{OwnerID: ownerID}
		if err := rows.Scan(&u.CurrentPeriod, &u.InputTokensThisPeriod, &u.OutputTokensThisPeriod,
			&u.TurnsSucceeded, &u.TurnsFailed, &u.RAGTurns, &u.RAGTokensSaved,
			&u.CostMicroUSD, &u.SessionsThisPeriod, &u.PeakHourRequests, &u.PeakDayRequests); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
