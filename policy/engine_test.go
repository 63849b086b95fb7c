package policy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-agent/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testSettings() types.Settings {
	return types.Settings{
		ThresholdUsd:    usd("0.10"),
		DailyAutoCapUsd: usd("5"),
		PreferredToken:  "USDC",
		Chain:           types.NetworkBase,
	}
}

func challengeFor(amountUsd string) *types.ChallengeDetails {
	return &types.ChallengeDetails{
		ChallengeID: "ch-1",
		Origin:      "https://api.example.com",
		AmountUsd:   usd(amountUsd),
	}
}

func successRecord(amountUsd string, auto bool, age time.Duration) types.PaymentRecord {
	return types.PaymentRecord{
		ID:           "pay-" + amountUsd,
		Origin:       "https://api.example.com",
		AmountUsd:    usd(amountUsd),
		Timestamp:    testNow.Add(-age),
		Status:       types.PaymentSuccess,
		AutoApproved: auto,
	}
}

func TestDecide(t *testing.T) {
	denyMode := NewSitePolicy("https://api.example.com", testNow)
	denyMode.Mode = types.PolicyModeDeny

	noAuto := NewSitePolicy("https://api.example.com", testNow)
	noAuto.AllowUnderThreshold = false

	cap25 := NewSitePolicy("https://api.example.com", testNow)
	capVal := usd("0.25")
	cap25.CapUsd = &capVal
	cap25.LifetimeUsd = usd("0.20")

	promptSettings := testSettings()
	promptSettings.PromptRequired = true

	tests := []struct {
		name     string
		settings types.Settings
		pol      *types.SitePolicy
		history  []types.PaymentRecord
		amount   string
		decision Decision
		reason   string
	}{
		{
			name:     "under threshold no policy",
			settings: testSettings(),
			amount:   "0.05",
			decision: DecisionApprove,
			reason:   "within_limits",
		},
		{
			name:     "exactly at threshold approves",
			settings: testSettings(),
			amount:   "0.10",
			decision: DecisionApprove,
			reason:   "within_limits",
		},
		{
			name:     "over threshold defers",
			settings: testSettings(),
			amount:   "0.11",
			decision: DecisionDefer,
			reason:   "over_threshold",
		},
		{
			name:     "deny mode wins over amount",
			settings: testSettings(),
			pol:      denyMode,
			amount:   "0.01",
			decision: DecisionDefer,
			reason:   "site_denied",
		},
		{
			name:     "global prompt flag defers",
			settings: promptSettings,
			amount:   "0.05",
			decision: DecisionDefer,
			reason:   "prompt_required",
		},
		{
			name:     "autopay disabled for site",
			settings: testSettings(),
			pol:      noAuto,
			amount:   "0.05",
			decision: DecisionDefer,
			reason:   "autopay_disabled_for_site",
		},
		{
			name:     "lifetime cap would be exceeded",
			settings: testSettings(),
			pol:      cap25,
			amount:   "0.06",
			decision: DecisionDefer,
			reason:   "lifetime_cap",
		},
		{
			name:     "lifetime cap exactly reached approves",
			settings: testSettings(),
			pol:      cap25,
			amount:   "0.05",
			decision: DecisionApprove,
			reason:   "within_limits",
		},
		{
			name:     "daily cap counts recent auto-approved spend",
			settings: testSettings(),
			history: []types.PaymentRecord{
				successRecord("4.96", true, time.Hour),
			},
			amount:   "0.05",
			decision: DecisionDefer,
			reason:   "daily_cap",
		},
		{
			name:     "spend older than 24h does not count",
			settings: testSettings(),
			history: []types.PaymentRecord{
				successRecord("4.96", true, 25*time.Hour),
			},
			amount:   "0.05",
			decision: DecisionApprove,
			reason:   "within_limits",
		},
		{
			name:     "manually approved spend does not count",
			settings: testSettings(),
			history: []types.PaymentRecord{
				successRecord("4.96", false, time.Hour),
			},
			amount:   "0.05",
			decision: DecisionApprove,
			reason:   "within_limits",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verdict := Decide(tc.settings, tc.pol, tc.history, challengeFor(tc.amount), testNow)
			assert.Equal(t, tc.decision, verdict.Decision)
			assert.Equal(t, tc.reason, verdict.Reason)
		})
	}
}

func TestAutoApprovedLast24h(t *testing.T) {
	history := []types.PaymentRecord{
		successRecord("0.10", true, time.Hour),
		successRecord("0.20", true, 23*time.Hour),
		successRecord("0.40", true, 25*time.Hour),
		successRecord("0.80", false, time.Hour),
		{
			ID:           "pay-denied",
			AmountUsd:    usd("1.60"),
			Timestamp:    testNow.Add(-time.Hour),
			Status:       types.PaymentDenied,
			AutoApproved: true,
		},
	}
	total := AutoApprovedLast24h(history, testNow)
	assert.True(t, usd("0.30").Equal(total), "got %s", total)
}

func TestRollDaily(t *testing.T) {
	pol := NewSitePolicy("https://api.example.com", testNow)
	RecordSpend(pol, usd("0.25"), testNow)
	require.True(t, usd("0.25").Equal(pol.DailyUsd))
	require.True(t, usd("0.25").Equal(pol.LifetimeUsd))

	nextDay := testNow.Add(24 * time.Hour)
	RollDaily(pol, nextDay)
	assert.True(t, pol.DailyUsd.IsZero())
	assert.True(t, usd("0.25").Equal(pol.LifetimeUsd), "lifetime spend never resets")
	assert.Equal(t, "2026-03-02", pol.LastResetDate)
}
