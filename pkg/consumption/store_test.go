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
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/heddle/pkg/fault"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "consumption.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnsureOwnerIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureOwner(ctx, "alice", TierFree))
	// Second registration must not clobber existing limits.
	require.NoError(t, store.SetLimits(ctx, "alice", Limits{PromptsPerHour: 5}))
	require.NoError(t, store.EnsureOwner(ctx, "alice", TierPro))

	u, err := store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, u.Limits.PromptsPerHour)
}

func TestUnknownOwnerNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.CheckRate(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestRateLimitAtHourlyBoundary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureOwner(ctx, "alice", Limits{PromptsPerHour: 2}))

	// Below the limit both checks pass.
	require.NoError(t, store.CheckRate(ctx, "alice"))
	require.NoError(t, store.IncrementRequest(ctx, "alice"))
	require.NoError(t, store.CheckRate(ctx, "alice"))
	require.NoError(t, store.IncrementRequest(ctx, "alice"))

	// The increment that reaches the limit makes the next check fail.
	err := store.CheckRate(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, fault.KindRateLimited, fault.KindOf(err))
	assert.Contains(t, err.Error(), "hourly limit exceeded")

	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Greater(t, f.RetryAfterSeconds, 0)
}

func TestRateWindowResets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureOwner(ctx, "alice", Limits{PromptsPerHour: 1}))

	require.NoError(t, store.IncrementRequest(ctx, "alice"))
	require.Error(t, store.CheckRate(ctx, "alice"))

	// Advance past the hour boundary: the window resets and the check passes.
	store.now = func() time.Time { return time.Now().Add(61 * time.Minute) }
	require.NoError(t, store.CheckRate(ctx, "alice"))

	u, err := store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, u.RequestsThisHour)
	// Peaks survive window resets.
	assert.Equal(t, 1, u.PeakHourRequests)
}

func TestDailyLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureOwner(ctx, "alice", Limits{PromptsPerDay: 1}))

	require.NoError(t, store.IncrementRequest(ctx, "alice"))
	err := store.CheckRate(ctx, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily limit exceeded")
}

func TestQuotaExceeded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureOwner(ctx, "alice", Limits{InputTokensPerMonth: 100}))

	// 10 tokens under the limit: rate passes, quota passes.
	require.NoError(t, store.RecordTurn(ctx, "alice", TurnRecord{
		SessionID: "s1", TurnNumber: 1, InputTokens: 90, OutputTokens: 10,
		Provider: "anthropic", Model: "claude", Status: "success",
	}))
	require.NoError(t, store.CheckRate(ctx, "alice"))
	require.NoError(t, store.CheckQuota(ctx, "alice"))

	// A turn allowed to complete may push past the limit; the next check rejects.
	require.NoError(t, store.RecordTurn(ctx, "alice", TurnRecord{
		SessionID: "s1", TurnNumber: 2, InputTokens: 50, OutputTokens: 10,
		Provider: "anthropic", Model: "claude", Status: "success",
	}))
	require.NoError(t, store.CheckRate(ctx, "alice"))
	err := store.CheckQuota(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, fault.KindQuotaExceeded, fault.KindOf(err))
}

func TestTokenTotalsAreTurnSums(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureOwner(ctx, "alice", TierEnterprise))

	var wantIn, wantOut int64
	for i := 1; i <= 10; i++ {
		in, out := int64(i*100), int64(i*37)
		wantIn += in
		wantOut += out
		require.NoError(t, store.RecordTurn(ctx, "alice", TurnRecord{
			SessionID: "s1", TurnNumber: i, InputTokens: in, OutputTokens: out,
			Provider: "openai", Model: "gpt-4o", Status: "success",
			CostMicroUSD: 1500,
		}))
	}

	u, err := store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, wantIn, u.InputTokensThisPeriod)
	assert.Equal(t, wantOut, u.OutputTokensThisPeriod)
	assert.Equal(t, 10, u.TurnsSucceeded)
	assert.Equal(t, int64(15000), u.CostMicroUSD)
}

func TestRecordTurnModelBreakdown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureOwner(ctx, "alice", TierEnterprise))

	require.NoError(t, store.RecordTurn(ctx, "alice", TurnRecord{
		SessionID: "s1", TurnNumber: 1, InputTokens: 100, OutputTokens: 50,
		Provider: "anthropic", Model: "claude", Status: "success", CostMicroUSD: 200,
	}))
	require.NoError(t, store.RecordTurn(ctx, "alice", TurnRecord{
		SessionID: "s1", TurnNumber: 2, InputTokens: 10, OutputTokens: 5,
		Provider: "anthropic", Model: "claude", Status: "failed",
	}))
	require.NoError(t, store.RecordTurn(ctx, "alice", TurnRecord{
		SessionID: "s1", TurnNumber: 3, InputTokens: 7, OutputTokens: 3,
		Provider: "openai", Model: "gpt-4o", Status: "success",
	}))

	models, err := store.ModelBreakdown(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "claude", models[0].Model)
	assert.Equal(t, int64(110), models[0].InputTokens)
	assert.Equal(t, 2, models[0].Turns)
	assert.Equal(t, "gpt-4o", models[1].Model)

	u, err := store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, u.TurnsSucceeded)
	assert.Equal(t, 1, u.TurnsFailed)
}

func TestRAGCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureOwner(ctx, "alice", TierEnterprise))

	require.NoError(t, store.RecordTurn(ctx, "alice", TurnRecord{
		SessionID: "s1", TurnNumber: 1, Status: "success",
		RAGUsed: true, RAGTokensSaved: 1200,
	}))
	require.NoError(t, store.RecordTurn(ctx, "alice", TurnRecord{
		SessionID: "s1", TurnNumber: 2, Status: "success",
	}))

	u, err := store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, u.RAGTurns)
	assert.Equal(t, int64(1200), u.RAGTokensSaved)
}

func TestSessionCountIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureOwner(ctx, "alice", TierEnterprise))

	require.NoError(t, store.IncrementSessionCount(ctx, "alice", "s1"))
	require.NoError(t, store.IncrementSessionCount(ctx, "alice", "s1"))
	require.NoError(t, store.IncrementSessionCount(ctx, "alice", "s2"))

	u, err := store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, u.SessionsThisPeriod)
	assert.Equal(t, 2, u.SessionsLast24h)
}

func TestPeriodRollover(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	jan := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return jan }
	require.NoError(t, store.EnsureOwner(ctx, "alice", TierEnterprise))
	require.NoError(t, store.RecordTurn(ctx, "alice", TurnRecord{
		SessionID: "s1", TurnNumber: 1, InputTokens: 500, OutputTokens: 100,
		Provider: "anthropic", Model: "claude", Status: "success", CostMicroUSD: 777,
	}))
	require.NoError(t, store.IncrementSessionCount(ctx, "alice", "s1"))

	// Any operation after the month changes triggers the rollover.
	feb := time.Date(2026, 2, 1, 0, 5, 0, 0, time.UTC)
	store.now = func() time.Time { return feb }
	require.NoError(t, store.CheckQuota(ctx, "alice"))

	u, err := store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "2026-02", u.CurrentPeriod)
	assert.Zero(t, u.InputTokensThisPeriod)
	assert.Zero(t, u.SessionsThisPeriod)
	assert.Zero(t, u.SessionsLast24h)

	archived, err := store.ArchivedPeriods(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "2026-01", archived[0].CurrentPeriod)
	assert.Equal(t, int64(500), archived[0].InputTokensThisPeriod)
	assert.Equal(t, int64(777), archived[0].CostMicroUSD)
	assert.Equal(t, 1, archived[0].SessionsThisPeriod)

	// Session marks reset with the period, so s1 counts again in February.
	require.NoError(t, store.IncrementSessionCount(ctx, "alice", "s1"))
	u, err = store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, u.SessionsThisPeriod)
}

func TestSweepRollovers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	jan := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return jan }
	for i := 0; i < 3; i++ {
		owner := fmt.Sprintf("user-%d", i)
		require.NoError(t, store.EnsureOwner(ctx, owner, TierFree))
		require.NoError(t, store.RecordTurn(ctx, owner, TurnRecord{
			SessionID: "s", TurnNumber: 1, InputTokens: 10, Status: "success",
		}))
	}

	feb := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return feb }
	require.NoError(t, store.SweepRollovers(ctx))

	for i := 0; i < 3; i++ {
		u, err := store.Snapshot(ctx, fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		assert.Equal(t, "2026-02", u.CurrentPeriod)
		assert.Zero(t, u.InputTokensThisPeriod)
	}
}

func TestRemainingBudgets(t *testing.T) {
	u := &Usage{
		RequestsThisHour:       3,
		RequestsToday:          10,
		InputTokensThisPeriod:  400,
		OutputTokensThisPeriod: 900,
		Limits: Limits{
			PromptsPerHour:       5,
			PromptsPerDay:        100,
			InputTokensPerMonth:  1000,
			OutputTokensPerMonth: 800,
		},
	}
	r := u.Remaining()
	assert.Equal(t, 2, r.Hour)
	assert.Equal(t, 90, r.Day)
	assert.Equal(t, int64(600), r.InputTokens)
	// Over-consumed dimensions clamp to zero, not negative.
	assert.Equal(t, int64(0), r.OutputTokens)

	unlimited := (&Usage{}).Remaining()
	assert.Equal(t, -1, unlimited.Hour)
	assert.Equal(t, int64(-1), unlimited.InputTokens)
}
