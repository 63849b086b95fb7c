// Package settlement interprets the resource server's settlement
// acknowledgment and applies it to the payment history. Parsing here is
// best-effort: a notice we cannot decode leaves the payment pending rather
// than failing the underlying request.
package settlement

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/vitwit/x402-agent/types"
)

// DefaultTokenTTL applies when the notice carries a short-lived token
// without an expiry.
const DefaultTokenTTL = 5 * time.Minute

// ParseNotice decodes a settlement header value, trying in order: direct
// JSON, base64-encoded JSON, bare compact token. Returns false when no
// decoding applies.
func ParseNotice(value string) (*types.SettlementNotice, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, false
	}

	if json.Valid([]byte(value)) {
		var notice types.SettlementNotice
		if err := json.Unmarshal([]byte(value), &notice); err == nil {
			return &notice, true
		}
		return nil, false
	}

	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && json.Valid(decoded) {
		var notice types.SettlementNotice
		if err := json.Unmarshal(decoded, &notice); err == nil {
			return &notice, true
		}
	}

	if isCompactToken(value) {
		return &types.SettlementNotice{Token: value}, true
	}

	return nil, false
}

// Outcome reports how a notice changed the payment record.
type Outcome struct {
	Status      types.PaymentStatus
	TxReference string
	Found       bool
}

// Apply updates the matching payment record in place: pending → success when
// the notice carries a usable transaction reference, pending → error
// otherwise. Records already past pending are left alone (a challenge id is
// settled at most once). A short-lived token on the notice is cached keyed
// by payment id.
func Apply(st *types.State, paymentID string, notice *types.SettlementNotice, now time.Time) Outcome {
	out := Outcome{}

	for i := range st.History {
		rec := &st.History[i]
		if rec.ID != paymentID {
			continue
		}
		out.Found = true
		if rec.Status != types.PaymentPending {
			out.Status = rec.Status
			break
		}

		if ref := notice.TxReference(); ref != "" {
			rec.Status = types.PaymentSuccess
			rec.TxReference = ref
		} else {
			rec.Status = types.PaymentError
			rec.Note = "settlement acknowledged without a transaction reference"
		}
		out.Status = rec.Status
		out.TxReference = rec.TxReference
		break
	}

	if notice.Token != "" {
		cacheToken(st, paymentID, notice, now)
	}

	return out
}

// PruneTokens lazily drops expired short-lived tokens.
func PruneTokens(st *types.State, now time.Time) {
	for id, token := range st.Tokens {
		if !token.ExpiresAt.After(now) {
			delete(st.Tokens, id)
		}
	}
}

func cacheToken(st *types.State, paymentID string, notice *types.SettlementNotice, now time.Time) {
	if st.Tokens == nil {
		st.Tokens = make(map[string]types.SettlementToken)
	}
	ttl := DefaultTokenTTL
	if notice.ExpiresInS > 0 {
		ttl = time.Duration(notice.ExpiresInS) * time.Second
	}
	st.Tokens[paymentID] = types.SettlementToken{
		Token:     notice.Token,
		ExpiresAt: now.Add(ttl),
	}
	PruneTokens(st, now)
}

// isCompactToken accepts the bare-token form: a single opaque run of
// URL-safe characters.
func isCompactToken(value string) bool {
	if len(value) < 8 {
		return false
	}
	for _, c := range value {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == '~' || c == '=':
		default:
			return false
		}
	}
	return true
}
