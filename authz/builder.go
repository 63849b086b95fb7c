// Package authz constructs and signs EIP-3009 payment authorizations for
// approved challenges and encodes them for the retry header.
package authz

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vitwit/x402-agent/types"
	"github.com/vitwit/x402-agent/utils"
	"github.com/vitwit/x402-agent/utils/eip712"
)

// Validity window for the signed authorization. The narrow window bounds
// replay exposure; the backdated validAfter tolerates clock skew with the
// resource server.
const (
	validAfterSkew   = 5 * time.Second
	validityDuration = 120 * time.Second
)

// Defaults for the EIP-712 domain when the challenge omits token metadata.
const (
	defaultTokenName    = "USDC"
	defaultTokenVersion = "2"
)

// NonceFunc supplies the 32-byte authorization nonce.
type NonceFunc func() []byte

// NowFunc supplies the current time.
type NowFunc func() time.Time

// DefaultNonce returns 32 random bytes.
func DefaultNonce() []byte {
	nonce := make([]byte, 32)
	_, _ = rand.Read(nonce)
	return nonce
}

// Result is the signed authorization ready for the retried request.
type Result struct {
	PaymentID string
	// Header is the opaque base64-encoded payment payload for the
	// transport header.
	Header  string
	Payload *types.PaymentPayload
}

// Builder signs authorizations with injectable time and nonce sources.
type Builder struct {
	now   NowFunc
	nonce NonceFunc
}

func NewBuilder() *Builder {
	return &Builder{now: time.Now, nonce: DefaultNonce}
}

// NewBuilderWithSources is used by tests for deterministic output.
func NewBuilderWithSources(now NowFunc, nonce NonceFunc) *Builder {
	return &Builder{now: now, nonce: nonce}
}

// Build constructs, signs, and encodes the authorization for a challenge.
// paymentID is the caller-assigned payment record id used for settlement
// correlation.
func (b *Builder) Build(key *ecdsa.PrivateKey, settings types.Settings, ch *types.ChallengeDetails, paymentID string) (*Result, error) {
	if key == nil {
		return nil, types.NewAgentError(types.ErrWalletLocked, "wallet is locked")
	}

	network, chainID, err := resolveNetwork(settings, ch)
	if err != nil {
		return nil, err
	}

	now := b.now()
	auth := types.EIP3009Authorization{
		From:        utils.AddressFromPrivateKey(key).Hex(),
		To:          ch.Seller,
		Value:       ch.AmountAtomic,
		ValidAfter:  strconv.FormatInt(now.Add(-validAfterSkew).Unix(), 10),
		ValidBefore: strconv.FormatInt(now.Add(validityDuration).Unix(), 10),
		Nonce:       hexutil.Encode(b.nonce()),
	}

	domain := eip712.Domain{
		Name:              firstNonEmpty(ch.TokenName, defaultTokenName),
		Version:           firstNonEmpty(ch.TokenVersion, defaultTokenVersion),
		ChainId:           strconv.FormatInt(chainID, 10),
		VerifyingContract: ch.TokenAddress,
	}

	digest, err := eip712.BuildTransferWithAuthDigest(
		domain, auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce,
	)
	if err != nil {
		return nil, types.NewAgentError(types.ErrSigningFailure, "failed to build authorization digest: %v", err)
	}

	signature, err := utils.SignDigest(digest.Bytes(), key)
	if err != nil {
		return nil, types.NewAgentError(types.ErrSigningFailure, "failed to sign authorization: %v", err)
	}

	payload := &types.PaymentPayload{
		X402Version: protocolVersion(ch),
		Scheme:      string(types.SchemeExact),
		Network:     network,
		Payload: types.AuthorizationEnvelope{
			Authorization: auth,
			Signature:     signature,
		},
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewAgentError(types.ErrSigningFailure, "failed to encode payment payload: %v", err)
	}

	return &Result{
		PaymentID: paymentID,
		Header:    base64.StdEncoding.EncodeToString(encoded),
		Payload:   payload,
	}, nil
}

// RetryHeaders returns the headers the interceptor attaches to the retried
// request.
func (r *Result) RetryHeaders() map[string]string {
	return map[string]string{
		types.HeaderPayment:   r.Header,
		types.HeaderPaymentID: r.PaymentID,
	}
}

// resolveNetwork derives the network descriptor and chain id, in precedence
// order: explicit descriptor on the challenge, descriptor in the raw accepts
// structure, chain-id synthesis, configured active chain.
func resolveNetwork(settings types.Settings, ch *types.ChallengeDetails) (string, int64, error) {
	if ch.Network != "" {
		if chainID, ok := types.ParseNetworkDescriptor(ch.Network); ok {
			return networkName(ch.Network, chainID), chainID, nil
		}
	}

	if raw := rawNetwork(ch); raw != "" {
		if chainID, ok := types.ParseNetworkDescriptor(raw); ok {
			return networkName(raw, chainID), chainID, nil
		}
	}

	if ch.ChainID > 0 {
		if network, ok := types.NetworkForChainID(ch.ChainID); ok {
			return network.String(), ch.ChainID, nil
		}
		return fmt.Sprintf("eip155:%d", ch.ChainID), ch.ChainID, nil
	}

	if settings.Chain.IsSupported() {
		return settings.Chain.String(), settings.Chain.ChainID(), nil
	}

	return "", 0, types.NewAgentError(types.ErrUnsupportedNetwork, "no usable network descriptor for challenge %s", ch.ChallengeID)
}

// rawNetwork digs the network descriptor out of the challenge's raw accepted
// options, when the parser captured one.
func rawNetwork(ch *types.ChallengeDetails) string {
	if ch.RawChallenge == nil {
		return ""
	}
	if n, ok := ch.RawChallenge["network"].(string); ok {
		return n
	}
	accepts, ok := ch.RawChallenge["accepts"].([]any)
	if !ok {
		return ""
	}
	for _, entry := range accepts {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if m["scheme"] == string(types.SchemeExact) {
			if n, ok := m["network"].(string); ok {
				return n
			}
		}
	}
	return ""
}

// networkName prefers the named network form over a CAIP-2 descriptor when
// the chain id is one we know.
func networkName(descriptor string, chainID int64) string {
	if network, ok := types.NetworkForChainID(chainID); ok {
		return network.String()
	}
	return descriptor
}

func protocolVersion(ch *types.ChallengeDetails) int {
	if ch.ProtocolVersion > 0 {
		return ch.ProtocolVersion
	}
	return int(types.X402Version1)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
