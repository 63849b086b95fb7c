package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// X402Version is the protocol version this agent speaks.
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentScheme represents different payment schemes.
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

// ChallengeDetails is the canonical record produced by the challenge parser
// for one intercepted 402 response. Immutable after construction; downstream
// stages reference it, never copy-and-mutate.
type ChallengeDetails struct {
	ChallengeID string `json:"challengeId" validate:"required"`
	Origin      string `json:"origin" validate:"required"`
	Endpoint    string `json:"endpoint"`
	Method      string `json:"method"`

	// AmountUsd is advisory only. It gates policy decisions but is never
	// part of the signed authorization.
	AmountUsd decimal.Decimal `json:"amountUsd"`

	TokenSymbol  string `json:"tokenSymbol"`
	ChainID      int64  `json:"chainId"`
	TokenAddress string `json:"tokenAddress" validate:"required"`
	Seller       string `json:"seller" validate:"required"`

	// AmountAtomic is a non-negative base-10 integer string in the token's
	// smallest unit.
	AmountAtomic string `json:"amountAtomic" validate:"required"`

	TokenName       string `json:"tokenName,omitempty"`
	TokenVersion    string `json:"tokenVersion,omitempty"`
	TokenDecimals   int    `json:"tokenDecimals,omitempty"`
	ProtocolVersion int    `json:"protocolVersion,omitempty"`

	// Network is the explicit x402 network descriptor when the server
	// supplied one (e.g. "base-sepolia" or "eip155:84532").
	Network string `json:"network,omitempty"`

	RawHeaders   map[string]string `json:"rawHeaders,omitempty"`
	RawChallenge map[string]any    `json:"rawChallenge,omitempty"`
}

// PendingChallenge pairs a parsed challenge with its interception context.
// Owned exclusively by the pending store; aged out after the store TTL.
type PendingChallenge struct {
	Challenge        *ChallengeDetails `json:"challenge"`
	OriginatingTabID int               `json:"originatingTabId,omitempty"`
	WindowID         int               `json:"windowId,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// WalletRecord is the persisted wallet form. The decrypted secret never
// appears here; it lives only in the wallet package's in-memory session.
type WalletRecord struct {
	Address             string `json:"address"`
	EncryptedSecret     string `json:"encryptedSecret,omitempty"`
	EncryptionSalt      string `json:"encryptionSalt,omitempty"`
	EncryptionIV        string `json:"encryptionIv,omitempty"`
	LockDurationMinutes int    `json:"lockDurationMinutes"`
	LockedUntil         int64  `json:"lockedUntil"`
	Label               string `json:"label,omitempty"`
}

// PolicyMode controls how challenges from an origin are handled.
type PolicyMode string

const (
	PolicyModeAsk  PolicyMode = "ask"
	PolicyModeDeny PolicyMode = "deny"
)

// SitePolicy is the per-origin autopay configuration. DailyUsd resets
// whenever LastResetDate differs from the current UTC date; LifetimeUsd is
// monotonically non-decreasing.
type SitePolicy struct {
	Origin              string           `json:"origin"`
	Mode                PolicyMode       `json:"mode"`
	AllowUnderThreshold bool             `json:"allowUnderThreshold"`
	CapUsd              *decimal.Decimal `json:"capUsd,omitempty"`
	LifetimeUsd         decimal.Decimal  `json:"lifetimeUsd"`
	DailyUsd            decimal.Decimal  `json:"dailyUsd"`
	LastResetDate       string           `json:"lastResetDate"`
}

// PaymentStatus is the lifecycle state of a payment record.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentDenied  PaymentStatus = "denied"
	PaymentError   PaymentStatus = "error"
)

// PaymentRecord is one entry in the bounded payment history. Mutated once by
// the settlement reconciler (pending → success/error), append-only otherwise.
type PaymentRecord struct {
	ID           string          `json:"id"`
	ChallengeID  string          `json:"challengeId,omitempty"`
	Origin       string          `json:"origin"`
	Endpoint     string          `json:"endpoint"`
	AmountUsd    decimal.Decimal `json:"amountUsd"`
	TokenSymbol  string          `json:"tokenSymbol"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       PaymentStatus   `json:"status"`
	AutoApproved bool            `json:"autoApproved"`
	TxReference  string          `json:"txReference,omitempty"`
	Note         string          `json:"note,omitempty"`
}

// Settings holds the global autopay thresholds.
type Settings struct {
	ThresholdUsd    decimal.Decimal `json:"thresholdUsd"`
	DailyAutoCapUsd decimal.Decimal `json:"dailyAutoCapUsd"`
	PreferredToken  string          `json:"preferredToken"`
	Chain           Network         `json:"chain"`
	PromptRequired  bool            `json:"promptRequired"`
}

// SettingsPatch is a partial settings update; nil fields are left unchanged.
type SettingsPatch struct {
	ThresholdUsd    *decimal.Decimal `json:"thresholdUsd,omitempty"`
	DailyAutoCapUsd *decimal.Decimal `json:"dailyAutoCapUsd,omitempty"`
	PreferredToken  *string          `json:"preferredToken,omitempty"`
	Chain           *Network         `json:"chain,omitempty"`
	PromptRequired  *bool            `json:"promptRequired,omitempty"`
}

// PolicyPatch is a partial site policy update. SetCap distinguishes "clear
// the cap" (SetCap true, CapUsd nil) from "leave it alone" (SetCap false).
type PolicyPatch struct {
	Mode                *PolicyMode      `json:"mode,omitempty"`
	AllowUnderThreshold *bool            `json:"allowUnderThreshold,omitempty"`
	CapUsd              *decimal.Decimal `json:"capUsd,omitempty"`
	SetCap              bool             `json:"setCap,omitempty"`
}

// SettlementToken is a short-lived token returned by the resource server on
// settlement, cached per payment id until it expires.
type SettlementToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// BalanceSnapshot is a cached per-chain balance figure supplied by an
// external provider. Advisory display data only.
type BalanceSnapshot struct {
	Network     Network         `json:"network"`
	TokenSymbol string          `json:"tokenSymbol"`
	Atomic      string          `json:"atomic"`
	Usd         decimal.Decimal `json:"usd"`
	FetchedAt   time.Time       `json:"fetchedAt"`
}

// State is the single persisted document. The agent treats it with
// read-modify-write semantics; no partial writes.
type State struct {
	Settings Settings                    `json:"settings"`
	Wallet   *WalletRecord               `json:"wallet,omitempty"`
	Balances map[Network]BalanceSnapshot `json:"balances,omitempty"`
	Policies map[string]*SitePolicy      `json:"policies,omitempty"`
	History  []PaymentRecord             `json:"history,omitempty"`
	Tokens   map[string]SettlementToken  `json:"tokens,omitempty"`
	Pending  map[string]PendingChallenge `json:"pending,omitempty"`
}

// MaxHistoryRecords bounds the retained payment history.
const MaxHistoryRecords = 2000

// PaymentPayload is the wire form carried in the retry header,
// base64-encoded as a single opaque value.
type PaymentPayload struct {
	X402Version int                   `json:"x402Version"`
	Scheme      string                `json:"scheme"`
	Network     string                `json:"network"`
	Payload     AuthorizationEnvelope `json:"payload"`
}

// AuthorizationEnvelope wraps the signed EIP-3009 authorization.
type AuthorizationEnvelope struct {
	Authorization EIP3009Authorization `json:"authorization"`
	Signature     string               `json:"signature"`
}

// EIP3009Authorization is the typed value signed for transferWithAuthorization.
type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`       // uint256 decimal string
	ValidAfter  string `json:"validAfter"`  // unix seconds, decimal string
	ValidBefore string `json:"validBefore"` // unix seconds, decimal string
	Nonce       string `json:"nonce"`       // bytes32 hex
}

// SettlementNotice is the decoded settlement acknowledgment.
type SettlementNotice struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	TxHash      string `json:"txHash,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Token       string `json:"token,omitempty"`
	ExpiresInS  int    `json:"expiresIn,omitempty"`
}

// TxReference returns whichever transaction reference field the server set.
func (n *SettlementNotice) TxReference() string {
	if n.Transaction != "" {
		return n.Transaction
	}
	return n.TxHash
}

// AgentError is the coded error type used across the agent.
type AgentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *AgentError) Error() string {
	return e.Message
}

// NewAgentError builds a coded error with a formatted message.
func NewAgentError(code, format string, args ...any) *AgentError {
	return &AgentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Common error codes.
const (
	ErrParseFailure           = "PARSE_FAILURE"
	ErrWalletLocked           = "WALLET_LOCKED"
	ErrWalletUnconfigured     = "WALLET_UNCONFIGURED"
	ErrIncorrectPassphrase    = "INCORRECT_PASSPHRASE"
	ErrInvalidSecret          = "INVALID_SECRET"
	ErrSigningFailure         = "SIGNING_FAILURE"
	ErrSettlementParseFailure = "SETTLEMENT_PARSE_FAILURE"
	ErrExpiredChallenge       = "EXPIRED_CHALLENGE"
	ErrPolicyDeferred         = "POLICY_DEFERRED"
	ErrStateError             = "STATE_ERROR"
	ErrConfigError            = "CONFIG_ERROR"
	ErrUnsupportedNetwork     = "UNSUPPORTED_NETWORK"
)

// ErrorCode extracts the agent error code from err, or "" when err is not an
// AgentError.
func ErrorCode(err error) string {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
