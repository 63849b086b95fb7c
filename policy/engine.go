// Package policy decides whether a challenge may be paid without user
// interaction. Decisions are pure functions over provided snapshots; the
// orchestrator increments counters after a successful payment.
package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitwit/x402-agent/types"
)

// Decision is the policy engine's verdict on a challenge.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDefer   Decision = "defer"
)

// Verdict carries the decision plus the rule that produced it.
type Verdict struct {
	Decision Decision
	Reason   string
}

func approve() Verdict {
	return Verdict{Decision: DecisionApprove, Reason: "within_limits"}
}

func deferTo(reason string) Verdict {
	return Verdict{Decision: DecisionDefer, Reason: reason}
}

// Decide evaluates the autopay rules in precedence order. The USD figure it
// gates on is the challenge's advisory estimate; see the design notes for
// why that is an accepted limitation.
func Decide(settings types.Settings, pol *types.SitePolicy, history []types.PaymentRecord, ch *types.ChallengeDetails, now time.Time) Verdict {
	if pol != nil && pol.Mode == types.PolicyModeDeny {
		return deferTo("site_denied")
	}

	if ch.AmountUsd.GreaterThan(settings.ThresholdUsd) {
		return deferTo("over_threshold")
	}

	if settings.PromptRequired {
		return deferTo("prompt_required")
	}

	if pol != nil && !pol.AllowUnderThreshold {
		return deferTo("autopay_disabled_for_site")
	}

	if pol != nil && pol.CapUsd != nil && pol.CapUsd.IsPositive() {
		if pol.LifetimeUsd.Add(ch.AmountUsd).GreaterThan(*pol.CapUsd) {
			return deferTo("lifetime_cap")
		}
	}

	if settings.DailyAutoCapUsd.IsPositive() {
		spent := AutoApprovedLast24h(history, now)
		if spent.Add(ch.AmountUsd).GreaterThan(settings.DailyAutoCapUsd) {
			return deferTo("daily_cap")
		}
	}

	return approve()
}

// AutoApprovedLast24h sums the auto-approved successful payments in the
// trailing 24 hours.
func AutoApprovedLast24h(history []types.PaymentRecord, now time.Time) decimal.Decimal {
	cutoff := now.Add(-24 * time.Hour)
	total := decimal.Zero
	for i := range history {
		rec := &history[i]
		if !rec.AutoApproved || rec.Status != types.PaymentSuccess {
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		total = total.Add(rec.AmountUsd)
	}
	return total
}

// RollDaily resets the policy's daily counter when the UTC date has changed
// since the last check. Mutates pol in place.
func RollDaily(pol *types.SitePolicy, now time.Time) {
	today := now.UTC().Format("2006-01-02")
	if pol.LastResetDate != today {
		pol.DailyUsd = decimal.Zero
		pol.LastResetDate = today
	}
}

// RecordSpend applies a successful payment to the policy counters. Lifetime
// spend is monotonically non-decreasing.
func RecordSpend(pol *types.SitePolicy, amountUsd decimal.Decimal, now time.Time) {
	RollDaily(pol, now)
	pol.DailyUsd = pol.DailyUsd.Add(amountUsd)
	pol.LifetimeUsd = pol.LifetimeUsd.Add(amountUsd)
}

// NewSitePolicy creates the lazy default policy for an origin seen for the
// first time.
func NewSitePolicy(origin string, now time.Time) *types.SitePolicy {
	return &types.SitePolicy{
		Origin:              origin,
		Mode:                types.PolicyModeAsk,
		AllowUnderThreshold: true,
		LifetimeUsd:         decimal.Zero,
		DailyUsd:            decimal.Zero,
		LastResetDate:       now.UTC().Format("2006-01-02"),
	}
}
