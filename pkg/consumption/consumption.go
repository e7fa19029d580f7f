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
// Package consumption tracks per-owner usage: rate limits, monthly token
// quotas, per-turn audit records, and period rollover. All mutations run in
// single SQLite transactions so counters never drift under concurrency.
package consumption

import "time"

// Limits bounds an owner's request rate and monthly token quotas.
// Zero means unlimited for that dimension.
type Limits struct {
	PromptsPerHour       int   `json:"prompts_per_hour"`
	PromptsPerDay        int   `json:"prompts_per_day"`
	InputTokensPerMonth  int64 `json:"input_tokens_per_month"`
	OutputTokensPerMonth int64 `json:"output_tokens_per_month"`
}

// Tier presets. Owners get one of these at registration unless their
// consumption profile overrides it.
var (
	TierFree = Limits{
		PromptsPerHour:       20,
		PromptsPerDay:        100,
		InputTokensPerMonth:  500_000,
		OutputTokensPerMonth: 200_000,
	}
	TierPro = Limits{
		PromptsPerHour:       200,
		PromptsPerDay:        2000,
		InputTokensPerMonth:  20_000_000,
		OutputTokensPerMonth: 8_000_000,
	}
	TierEnterprise = Limits{} // unlimited
)

// LimitsForTier resolves a tier name to its preset. Unknown tiers get free.
func LimitsForTier(tier string) Limits {
	switch tier {
	case "pro":
		return TierPro
	case "enterprise":
		return TierEnterprise
	default:
		return TierFree
	}
}

// TurnRecord is the input to RecordTurn: one completed turn's metrics.
type TurnRecord struct {
	SessionID      string
	SessionName    string
	TurnNumber     int
	InputTokens    int64
	OutputTokens   int64
	Provider       string
	Model          string
	Status         string // "success" or "failed"
	RAGUsed        bool
	RAGTokensSaved int64
	CostMicroUSD   int64
	QueryPreview   string
}

// Usage is a snapshot of an owner's counters for the current period.
type Usage struct {
	OwnerID       string `json:"owner_id"`
	CurrentPeriod string `json:"current_period"`

	RequestsThisHour int `json:"requests_this_hour"`
	RequestsToday    int `json:"requests_today"`
	PeakHourRequests int `json:"peak_hour_requests"`
	PeakDayRequests  int `json:"peak_day_requests"`

	InputTokensThisPeriod  int64 `json:"input_tokens_this_period"`
	OutputTokensThisPeriod int64 `json:"output_tokens_this_period"`
	CostMicroUSD           int64 `json:"cost_micro_usd"`

	TurnsSucceeded int `json:"turns_succeeded"`
	TurnsFailed    int `json:"turns_failed"`

	RAGTurns       int   `json:"rag_turns"`
	RAGTokensSaved int64 `json:"rag_tokens_saved"`

	SessionsThisPeriod int `json:"sessions_this_period"`
	// SessionsLast24h is monotonic within a period and resets on rollover.
	SessionsLast24h int `json:"sessions_last_24h"`

	Limits Limits `json:"limits"`

	HourResetAt time.Time `json:"hour_reset_at"`
	DayResetAt  time.Time `json:"day_reset_at"`
}

// Remaining returns the budgets left in the current hour, day, and month.
// Unlimited dimensions report -1.
type Remaining struct {
	Hour         int   `json:"hour"`
	Day          int   `json:"day"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Remaining computes the budgets left for a usage snapshot.
func (u *Usage) Remaining() Remaining {
	r := Remaining{Hour: -1, Day: -1, InputTokens: -1, OutputTokens: -1}
	if u.Limits.PromptsPerHour > 0 {
		r.Hour = max(0, u.Limits.PromptsPerHour-u.RequestsThisHour)
	}
	if u.Limits.PromptsPerDay > 0 {
		r.Day = max(0, u.Limits.PromptsPerDay-u.RequestsToday)
	}
	if u.Limits.InputTokensPerMonth > 0 {
		r.InputTokens = max(0, u.Limits.InputTokensPerMonth-u.InputTokensThisPeriod)
	}
	if u.Limits.OutputTokensPerMonth > 0 {
		r.OutputTokens = max(0, u.Limits.OutputTokensPerMonth-u.OutputTokensThisPeriod)
	}
	return r
}

// ModelUsage is the per-provider/model tally within a period.
type ModelUsage struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Turns        int    `json:"turns"`
	CostMicroUSD int64  `json:"cost_micro_usd"`
}

// periodOf formats the wall-clock month key.
func periodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}
