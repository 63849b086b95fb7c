// Package agent implements the client-side autopay agent for the x402
// payment challenge protocol: it recognizes payment challenges in
// intercepted responses, decides per policy whether to pay autonomously,
// signs payment authorizations, and reconciles settlements.
package agent

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"time"

	"github.com/vitwit/x402-agent/authz"
	"github.com/vitwit/x402-agent/challenge"
	"github.com/vitwit/x402-agent/logger"
	"github.com/vitwit/x402-agent/metrics"
	"github.com/vitwit/x402-agent/pending"
	"github.com/vitwit/x402-agent/policy"
	"github.com/vitwit/x402-agent/settlement"
	"github.com/vitwit/x402-agent/state"
	"github.com/vitwit/x402-agent/types"
	"github.com/vitwit/x402-agent/wallet"
)

// DefaultDispatchTimeout bounds every bus operation. Callers treat an
// elapsed timeout as failure and must not retry automatically.
const DefaultDispatchTimeout = 10 * time.Second

// Action is the interceptor-facing outcome of a submitted challenge.
type Action string

const (
	// ActionRetry: retry the original request with the returned headers.
	ActionRetry Action = "retry"
	// ActionDeny: the site policy denies payment; pass the 402 through.
	ActionDeny Action = "deny"
	// ActionError: the challenge was unusable or signing failed; pass the
	// original response through untouched.
	ActionError Action = "error"
	// ActionPending: interactive approval required; the challenge stays in
	// the pending store.
	ActionPending Action = "pending"
)

// SubmitResult is the typed response to a SubmitChallenge command.
type SubmitResult struct {
	Action       Action            `json:"action"`
	ChallengeID  string            `json:"challengeId,omitempty"`
	PaymentID    string            `json:"paymentId,omitempty"`
	RetryHeaders map[string]string `json:"retryHeaders,omitempty"`
	Message      string            `json:"message,omitempty"`
}

// ResolveStatus is the outcome of an interactive resolution.
type ResolveStatus string

const (
	ResolveSuccess ResolveStatus = "success"
	ResolveDenied  ResolveStatus = "denied"
	ResolveLocked  ResolveStatus = "locked"
	ResolveError   ResolveStatus = "error"
)

// ResolveResult is the typed response to a ResolvePendingChallenge command.
type ResolveResult struct {
	Status       ResolveStatus     `json:"status"`
	PaymentID    string            `json:"paymentId,omitempty"`
	RetryHeaders map[string]string `json:"retryHeaders,omitempty"`
	Message      string            `json:"message,omitempty"`
}

// Agent is the orchestration context: it owns the wallet state machine and
// the state store, and is the only holder of the transient unlocked secret.
type Agent struct {
	store   state.Store
	parser  *challenge.Parser
	pending *pending.Store
	wallet  *wallet.Manager
	builder *authz.Builder
	log     logger.Logger
	metrics metrics.Recorder
	now     func() time.Time
	timeout time.Duration

	// mu guards walletRec, the live in-memory wallet record (its
	// LockedUntil reflects the current session; the persisted form always
	// carries 0).
	mu        sync.Mutex
	walletRec *types.WalletRecord
}

// New builds an agent over the given state store and restores the persisted
// wallet record and pending-challenge map.
func New(store state.Store, opts ...Option) (*Agent, error) {
	a := &Agent{
		store:   store,
		parser:  challenge.NewParser(),
		pending: pending.NewStore(),
		wallet:  wallet.NewManager(),
		builder: authz.NewBuilder(),
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		now:     time.Now,
		timeout: DefaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}

	st, err := store.Load(context.Background())
	if err != nil {
		return nil, err
	}
	a.walletRec = st.Wallet
	a.pending.Restore(st.Pending)

	return a, nil
}

// SubmitChallenge parses an intercepted 402 response and runs the autopay
// flow: parse → pend → decide → sign or defer.
func (a *Agent) SubmitChallenge(ctx context.Context, cmd SubmitChallenge) (*SubmitResult, error) {
	rc := challenge.RequestContext{Origin: cmd.Origin, Endpoint: cmd.Endpoint, Method: cmd.Method}

	ch, ok := a.parser.Parse(cmd.Headers, cmd.Body, rc)
	if !ok {
		a.metrics.IncCounter(metrics.CounterChallengeRejected, map[string]string{"origin": cmd.Origin})
		a.log.Debug("challenge unrecognized, passing response through", map[string]any{"origin": cmd.Origin})
		return &SubmitResult{Action: ActionError, Message: "unrecognized payment challenge"}, nil
	}
	a.metrics.IncCounter(metrics.CounterChallengeParsed, map[string]string{"origin": ch.Origin})

	a.pending.Put(ch, cmd.OriginatingTabID, cmd.WindowID)

	st, err := a.store.Load(ctx)
	if err != nil {
		return nil, types.NewAgentError(types.ErrStateError, "failed to load state: %v", err)
	}

	verdict := policy.Decide(st.Settings, st.Policies[ch.Origin], st.History, ch, a.now())
	a.log.Info("policy decision", map[string]any{
		"challengeId": ch.ChallengeID,
		"origin":      ch.Origin,
		"amountUsd":   ch.AmountUsd.String(),
		"decision":    string(verdict.Decision),
		"reason":      verdict.Reason,
	})

	if verdict.Decision == policy.DecisionDefer {
		if verdict.Reason == "site_denied" {
			a.pending.Remove(ch.ChallengeID)
			a.metrics.IncCounter(metrics.CounterDenied, map[string]string{"origin": ch.Origin})
			if err := a.persist(ctx, func(st *types.State) error {
				a.appendHistory(st, a.newRecord(newPaymentID(), ch, types.PaymentDenied, false, "denied by site policy"))
				return nil
			}); err != nil {
				return nil, err
			}
			return &SubmitResult{Action: ActionDeny, ChallengeID: ch.ChallengeID}, nil
		}

		a.metrics.IncCounter(metrics.CounterDeferred, map[string]string{"origin": ch.Origin})
		if err := a.persist(ctx, nil); err != nil {
			return nil, err
		}
		return &SubmitResult{Action: ActionPending, ChallengeID: ch.ChallengeID, Message: verdict.Reason}, nil
	}

	key, err := a.wallet.SigningKey()
	if err != nil {
		// Locked wallet falls through to interactive approval rather than
		// failing the request.
		a.metrics.IncCounter(metrics.CounterDeferred, map[string]string{"origin": ch.Origin})
		if err := a.persist(ctx, nil); err != nil {
			return nil, err
		}
		return &SubmitResult{Action: ActionPending, ChallengeID: ch.ChallengeID, Message: "wallet locked"}, nil
	}

	result, err := a.signChallenge(ctx, key, st.Settings, ch, true)
	if err != nil {
		return &SubmitResult{Action: ActionError, ChallengeID: ch.ChallengeID, Message: err.Error()}, nil
	}
	a.metrics.IncCounter(metrics.CounterAutoApproved, map[string]string{"origin": ch.Origin})
	return &SubmitResult{
		Action:       ActionRetry,
		ChallengeID:  ch.ChallengeID,
		PaymentID:    result.PaymentID,
		RetryHeaders: result.RetryHeaders(),
	}, nil
}

// GetPendingChallenge returns the live pending entry for id, if any.
func (a *Agent) GetPendingChallenge(ctx context.Context, id string) (*types.PendingChallenge, error) {
	entry, ok := a.pending.Get(id)
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// ResolvePendingChallenge applies an interactive approve/deny decision to a
// pending challenge.
func (a *Agent) ResolvePendingChallenge(ctx context.Context, cmd ResolvePendingChallenge) (*ResolveResult, error) {
	entry, ok := a.pending.Get(cmd.ChallengeID)
	if !ok {
		return &ResolveResult{Status: ResolveError, Message: "challenge not found or expired"}, nil
	}
	ch := entry.Challenge

	if !cmd.Approve {
		a.pending.Remove(ch.ChallengeID)
		a.metrics.IncCounter(metrics.CounterDenied, map[string]string{"origin": ch.Origin})
		if err := a.persist(ctx, func(st *types.State) error {
			a.appendHistory(st, a.newRecord(newPaymentID(), ch, types.PaymentDenied, false, "denied by user"))
			return nil
		}); err != nil {
			return nil, err
		}
		return &ResolveResult{Status: ResolveDenied}, nil
	}

	key, err := a.wallet.SigningKey()
	if err != nil {
		return &ResolveResult{Status: ResolveLocked, Message: "wallet is locked"}, nil
	}

	st, err := a.store.Load(ctx)
	if err != nil {
		return nil, types.NewAgentError(types.ErrStateError, "failed to load state: %v", err)
	}

	if cmd.AlwaysAllow {
		if err := a.persist(ctx, func(st *types.State) error {
			pol := st.Policies[ch.Origin]
			if pol == nil {
				pol = policy.NewSitePolicy(ch.Origin, a.now())
				st.Policies[ch.Origin] = pol
			}
			pol.Mode = types.PolicyModeAsk
			pol.AllowUnderThreshold = true
			return nil
		}); err != nil {
			return nil, err
		}
	}

	result, err := a.signChallenge(ctx, key, st.Settings, ch, false)
	if err != nil {
		return &ResolveResult{Status: ResolveError, Message: err.Error()}, nil
	}
	return &ResolveResult{
		Status:       ResolveSuccess,
		PaymentID:    result.PaymentID,
		RetryHeaders: result.RetryHeaders(),
	}, nil
}

// signChallenge builds and signs the authorization, records the pending
// payment, resolves the pending challenge, and renews the wallet lock
// window.
func (a *Agent) signChallenge(ctx context.Context, key *ecdsa.PrivateKey, settings types.Settings, ch *types.ChallengeDetails, autoApproved bool) (*authz.Result, error) {
	start := a.now()
	paymentID := newPaymentID()

	result, err := a.builder.Build(key, settings, ch, paymentID)
	if err != nil {
		a.log.Error("authorization build failed", map[string]any{
			"challengeId": ch.ChallengeID,
			"origin":      ch.Origin,
			"error":       err.Error(),
		})
		a.pending.Remove(ch.ChallengeID)
		if perr := a.persist(ctx, func(st *types.State) error {
			a.appendHistory(st, a.newRecord(paymentID, ch, types.PaymentError, autoApproved, err.Error()))
			return nil
		}); perr != nil {
			return nil, perr
		}
		return nil, err
	}

	a.metrics.IncCounter(metrics.CounterSigned, map[string]string{"origin": ch.Origin})
	a.metrics.ObserveLatency("build_authorization", a.now().Sub(start), map[string]string{"origin": ch.Origin})

	a.pending.Remove(ch.ChallengeID)
	if rec := a.currentWallet(); rec != nil {
		a.setWallet(a.wallet.RenewLock(rec))
	}
	if err := a.persist(ctx, func(st *types.State) error {
		a.appendHistory(st, a.newRecord(paymentID, ch, types.PaymentPending, autoApproved, ""))
		return nil
	}); err != nil {
		return nil, err
	}

	a.log.Info("payment authorization signed", map[string]any{
		"paymentId":   paymentID,
		"challengeId": ch.ChallengeID,
		"origin":      ch.Origin,
		"amountUsd":   ch.AmountUsd.String(),
		"auto":        autoApproved,
	})
	return result, nil
}

// GetState returns a sanitized snapshot of the state document: encrypted
// wallet material is stripped and the live pending map is substituted.
func (a *Agent) GetState(ctx context.Context) (*types.State, error) {
	st, err := a.store.Load(ctx)
	if err != nil {
		return nil, types.NewAgentError(types.ErrStateError, "failed to load state: %v", err)
	}
	st.Wallet = redactWallet(a.currentWallet())
	st.Pending = a.pending.Snapshot()
	settlement.PruneTokens(st, a.now())
	return st, nil
}

// ConfigureWallet imports a new secret, encrypts it at rest, and leaves the
// wallet unlocked for the chosen window.
func (a *Agent) ConfigureWallet(ctx context.Context, secretMaterial, passphrase string, lockMinutes int) (*types.WalletRecord, error) {
	rec, err := a.wallet.Configure(secretMaterial, passphrase, lockMinutes)
	if err != nil {
		return nil, err
	}
	a.setWallet(rec)
	if err := a.persist(ctx, nil); err != nil {
		return nil, err
	}
	a.log.Info("wallet configured", map[string]any{"address": rec.Address})
	return redactWallet(rec), nil
}

// UnlockWallet decrypts the stored secret into a fresh in-memory session.
func (a *Agent) UnlockWallet(ctx context.Context, passphrase string, lockMinutes int) (*types.WalletRecord, error) {
	rec := a.currentWallet()
	if rec == nil {
		return nil, types.NewAgentError(types.ErrWalletUnconfigured, "no wallet is configured")
	}
	updated, err := a.wallet.Unlock(rec, passphrase, lockMinutes)
	if err != nil {
		return nil, err
	}
	a.setWallet(updated)
	if err := a.persist(ctx, nil); err != nil {
		return nil, err
	}
	a.log.Info("wallet unlocked", map[string]any{"address": updated.Address})
	return redactWallet(updated), nil
}

// LockWallet wipes the in-memory session immediately.
func (a *Agent) LockWallet(ctx context.Context) (*types.WalletRecord, error) {
	rec := a.currentWallet()
	if rec == nil {
		return nil, types.NewAgentError(types.ErrWalletUnconfigured, "no wallet is configured")
	}
	updated := a.wallet.Lock(rec)
	a.setWallet(updated)
	if err := a.persist(ctx, nil); err != nil {
		return nil, err
	}
	a.log.Info("wallet locked", map[string]any{"address": updated.Address})
	return redactWallet(updated), nil
}

// ExportWallet returns the decrypted secret. The passphrase is required on
// every call regardless of lock state, and the session is untouched.
func (a *Agent) ExportWallet(ctx context.Context, passphrase string) (string, error) {
	rec := a.currentWallet()
	if rec == nil {
		return "", types.NewAgentError(types.ErrWalletUnconfigured, "no wallet is configured")
	}
	return a.wallet.ExportSecret(rec, passphrase)
}

// RemoveWallet deletes the wallet record and wipes any live session. Policy
// and history entries are kept.
func (a *Agent) RemoveWallet(ctx context.Context) error {
	a.wallet.Remove()
	a.setWallet(nil)
	if err := a.persist(ctx, nil); err != nil {
		return err
	}
	a.log.Info("wallet removed", nil)
	return nil
}

// UpdateSettings applies a partial settings update and returns the merged
// result.
func (a *Agent) UpdateSettings(ctx context.Context, patch types.SettingsPatch) (*types.Settings, error) {
	if patch.Chain != nil && !patch.Chain.IsSupported() {
		return nil, types.NewAgentError(types.ErrUnsupportedNetwork, "unsupported chain %q", string(*patch.Chain))
	}
	if patch.ThresholdUsd != nil && patch.ThresholdUsd.IsNegative() {
		return nil, types.NewAgentError(types.ErrConfigError, "threshold must not be negative")
	}
	if patch.DailyAutoCapUsd != nil && patch.DailyAutoCapUsd.IsNegative() {
		return nil, types.NewAgentError(types.ErrConfigError, "daily cap must not be negative")
	}

	var out types.Settings
	err := a.persist(ctx, func(st *types.State) error {
		if patch.ThresholdUsd != nil {
			st.Settings.ThresholdUsd = *patch.ThresholdUsd
		}
		if patch.DailyAutoCapUsd != nil {
			st.Settings.DailyAutoCapUsd = *patch.DailyAutoCapUsd
		}
		if patch.PreferredToken != nil {
			st.Settings.PreferredToken = *patch.PreferredToken
		}
		if patch.Chain != nil {
			st.Settings.Chain = *patch.Chain
		}
		if patch.PromptRequired != nil {
			st.Settings.PromptRequired = *patch.PromptRequired
		}
		out = st.Settings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePolicy applies a partial update to one site policy, creating it
// with defaults when missing.
func (a *Agent) UpdatePolicy(ctx context.Context, origin string, patch types.PolicyPatch) (*types.SitePolicy, error) {
	if origin == "" {
		return nil, types.NewAgentError(types.ErrConfigError, "policy origin is required")
	}
	var out types.SitePolicy
	err := a.persist(ctx, func(st *types.State) error {
		pol := st.Policies[origin]
		if pol == nil {
			pol = policy.NewSitePolicy(origin, a.now())
			if st.Policies == nil {
				st.Policies = map[string]*types.SitePolicy{}
			}
			st.Policies[origin] = pol
		}
		if patch.Mode != nil {
			pol.Mode = *patch.Mode
		}
		if patch.AllowUnderThreshold != nil {
			pol.AllowUnderThreshold = *patch.AllowUnderThreshold
		}
		if patch.SetCap {
			pol.CapUsd = patch.CapUsd
		}
		out = *pol
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetPolicies drops every site policy.
func (a *Agent) ResetPolicies(ctx context.Context) error {
	return a.persist(ctx, func(st *types.State) error {
		st.Policies = map[string]*types.SitePolicy{}
		return nil
	})
}

// ClearHistory drops the payment history.
func (a *Agent) ClearHistory(ctx context.Context) error {
	return a.persist(ctx, func(st *types.State) error {
		st.History = nil
		return nil
	})
}

// ReportSettlement reconciles an observed settlement response header
// against the identified payment record.
func (a *Agent) ReportSettlement(ctx context.Context, paymentID, headerValue string) error {
	notice, ok := settlement.ParseNotice(headerValue)
	if !ok {
		a.metrics.IncCounter(metrics.CounterSettlementFailed, map[string]string{"origin": "unknown"})
		a.log.Warn("settlement response unrecognized", map[string]any{"paymentId": paymentID})
		return types.NewAgentError(types.ErrSettlementParseFailure, "unrecognized settlement response")
	}

	var outcome settlement.Outcome
	err := a.persist(ctx, func(st *types.State) error {
		outcome = settlement.Apply(st, paymentID, notice, a.now())
		if !outcome.Found {
			return nil
		}
		for i := range st.History {
			rec := &st.History[i]
			if rec.ID != paymentID {
				continue
			}
			if outcome.Status == types.PaymentSuccess {
				pol := st.Policies[rec.Origin]
				if pol == nil {
					pol = policy.NewSitePolicy(rec.Origin, a.now())
					if st.Policies == nil {
						st.Policies = map[string]*types.SitePolicy{}
					}
					st.Policies[rec.Origin] = pol
				}
				policy.RecordSpend(pol, rec.AmountUsd, a.now())
				a.metrics.IncCounter(metrics.CounterSettled, map[string]string{"origin": rec.Origin})
			} else {
				a.metrics.IncCounter(metrics.CounterSettlementFailed, map[string]string{"origin": rec.Origin})
			}
			if rec.ChallengeID != "" {
				a.pending.Remove(rec.ChallengeID)
			}
			break
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !outcome.Found {
		a.log.Warn("settlement for unknown payment", map[string]any{"paymentId": paymentID})
		return nil
	}
	a.log.Info("settlement reconciled", map[string]any{
		"paymentId": paymentID,
		"status":    string(outcome.Status),
		"tx":        outcome.TxReference,
	})
	return nil
}

// UpdateBalances caches externally fetched balance snapshots for display.
func (a *Agent) UpdateBalances(ctx context.Context, balances []types.BalanceSnapshot) error {
	return a.persist(ctx, func(st *types.State) error {
		if st.Balances == nil {
			st.Balances = map[types.Network]types.BalanceSnapshot{}
		}
		for _, snap := range balances {
			if snap.FetchedAt.IsZero() {
				snap.FetchedAt = a.now()
			}
			st.Balances[snap.Network] = snap
		}
		return nil
	})
}

// persist runs mutate (when non-nil) inside a read-modify-write cycle and
// refreshes the pending map and sanitized wallet record in the document.
func (a *Agent) persist(ctx context.Context, mutate func(*types.State) error) error {
	err := a.store.Update(ctx, func(st *types.State) error {
		if mutate != nil {
			if err := mutate(st); err != nil {
				return err
			}
		}
		st.Pending = a.pending.Snapshot()
		st.Wallet = persistedWallet(a.currentWallet())
		settlement.PruneTokens(st, a.now())
		return nil
	})
	if err != nil {
		return types.NewAgentError(types.ErrStateError, "failed to persist state: %v", err)
	}
	return nil
}

func (a *Agent) newRecord(id string, ch *types.ChallengeDetails, status types.PaymentStatus, autoApproved bool, note string) types.PaymentRecord {
	return types.PaymentRecord{
		ID:           id,
		ChallengeID:  ch.ChallengeID,
		Origin:       ch.Origin,
		Endpoint:     ch.Endpoint,
		AmountUsd:    ch.AmountUsd,
		TokenSymbol:  ch.TokenSymbol,
		Timestamp:    a.now(),
		Status:       status,
		AutoApproved: autoApproved,
		Note:         note,
	}
}

// appendHistory appends bounded at MaxHistoryRecords, dropping the oldest.
func (a *Agent) appendHistory(st *types.State, rec types.PaymentRecord) {
	st.History = append(st.History, rec)
	if overflow := len(st.History) - types.MaxHistoryRecords; overflow > 0 {
		st.History = st.History[overflow:]
	}
}

func (a *Agent) currentWallet() *types.WalletRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.walletRec
}

func (a *Agent) setWallet(rec *types.WalletRecord) {
	a.mu.Lock()
	a.walletRec = rec
	a.mu.Unlock()
}

// persistedWallet is the only path from the wallet record into the state
// document; it always writes LockedUntil as 0 since an unlock never
// survives a restart.
func persistedWallet(rec *types.WalletRecord) *types.WalletRecord {
	if rec == nil {
		return nil
	}
	out := *rec
	out.LockedUntil = 0
	return &out
}

// redactWallet strips the encrypted secret fields for outbound snapshots.
func redactWallet(rec *types.WalletRecord) *types.WalletRecord {
	if rec == nil {
		return nil
	}
	out := *rec
	out.EncryptedSecret = ""
	out.EncryptionSalt = ""
	out.EncryptionIV = ""
	return &out
}
