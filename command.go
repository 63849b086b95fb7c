package agent

import (
	"context"
	"net/http"

	"github.com/vitwit/x402-agent/types"
)

// Command is the closed set of operations the orchestration context accepts
// from the message bus. One struct per operation; Dispatch switches over the
// variants rather than dispatching on message-type strings.
type Command interface {
	isCommand()
}

// SubmitChallenge carries an intercepted 402 response for parsing and
// autopay evaluation.
type SubmitChallenge struct {
	Headers          http.Header
	Body             []byte
	Origin           string
	Endpoint         string
	Method           string
	OriginatingTabID int
	WindowID         int
}

// GetPendingChallenge looks up a live pending challenge by id.
type GetPendingChallenge struct {
	ChallengeID string
}

// ResolvePendingChallenge applies an interactive approval or denial.
type ResolvePendingChallenge struct {
	ChallengeID string
	Approve     bool
	AlwaysAllow bool
}

// GetState returns the full state snapshot with wallet secret fields
// redacted.
type GetState struct{}

// ConfigureWallet sets up a new encrypted wallet from raw secret material.
type ConfigureWallet struct {
	SecretMaterial string
	Passphrase     string
	LockMinutes    int
}

// UnlockWallet decrypts the stored secret for a bounded duration.
// LockMinutes 0 means the configured duration.
type UnlockWallet struct {
	Passphrase  string
	LockMinutes int
}

// LockWallet clears the transient secret immediately.
type LockWallet struct{}

// ExportWallet returns the plaintext secret for backup display. Requires the
// passphrase regardless of lock state.
type ExportWallet struct {
	Passphrase string
}

// RemoveWallet wipes both encrypted and transient secret forms. The
// collaborating UI layer is responsible for double confirmation; the
// operation itself is unconditional.
type RemoveWallet struct{}

// UpdateSettings applies a partial settings update.
type UpdateSettings struct {
	Patch types.SettingsPatch
}

// UpdatePolicy applies a partial site policy update for an origin.
type UpdatePolicy struct {
	Origin string
	Patch  types.PolicyPatch
}

// ResetPolicies drops all site policies.
type ResetPolicies struct{}

// ClearHistory drops the payment history.
type ClearHistory struct{}

// ReportSettlement feeds a settlement acknowledgment header back to the
// reconciler.
type ReportSettlement struct {
	PaymentID   string
	HeaderValue string
}

// UpdateBalances stores externally fetched balance snapshots.
type UpdateBalances struct {
	Balances []types.BalanceSnapshot
}

func (SubmitChallenge) isCommand()         {}
func (GetPendingChallenge) isCommand()     {}
func (ResolvePendingChallenge) isCommand() {}
func (GetState) isCommand()                {}
func (ConfigureWallet) isCommand()         {}
func (UnlockWallet) isCommand()            {}
func (LockWallet) isCommand()              {}
func (ExportWallet) isCommand()            {}
func (RemoveWallet) isCommand()            {}
func (UpdateSettings) isCommand()          {}
func (UpdatePolicy) isCommand()            {}
func (ResetPolicies) isCommand()           {}
func (ClearHistory) isCommand()            {}
func (ReportSettlement) isCommand()        {}
func (UpdateBalances) isCommand()          {}

// Dispatch routes a bus command to its handler under the configured
// timeout. Unknown commands cannot occur: the variant set is closed.
func (a *Agent) Dispatch(ctx context.Context, cmd Command) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	switch c := cmd.(type) {
	case SubmitChallenge:
		return a.SubmitChallenge(ctx, c)
	case GetPendingChallenge:
		return a.GetPendingChallenge(ctx, c.ChallengeID)
	case ResolvePendingChallenge:
		return a.ResolvePendingChallenge(ctx, c)
	case GetState:
		return a.GetState(ctx)
	case ConfigureWallet:
		return a.ConfigureWallet(ctx, c.SecretMaterial, c.Passphrase, c.LockMinutes)
	case UnlockWallet:
		return a.UnlockWallet(ctx, c.Passphrase, c.LockMinutes)
	case LockWallet:
		return a.LockWallet(ctx)
	case ExportWallet:
		return a.ExportWallet(ctx, c.Passphrase)
	case RemoveWallet:
		return nil, a.RemoveWallet(ctx)
	case UpdateSettings:
		return a.UpdateSettings(ctx, c.Patch)
	case UpdatePolicy:
		return a.UpdatePolicy(ctx, c.Origin, c.Patch)
	case ResetPolicies:
		return nil, a.ResetPolicies(ctx)
	case ClearHistory:
		return nil, a.ClearHistory(ctx)
	case ReportSettlement:
		return nil, a.ReportSettlement(ctx, c.PaymentID, c.HeaderValue)
	case UpdateBalances:
		return nil, a.UpdateBalances(ctx, c.Balances)
	default:
		return nil, types.NewAgentError(types.ErrConfigError, "unhandled command %T", cmd)
	}
}
