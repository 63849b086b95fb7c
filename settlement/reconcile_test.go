package settlement

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-agent/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func stateWithPayment(id string, status types.PaymentStatus) *types.State {
	return &types.State{
		History: []types.PaymentRecord{
			{
				ID:        id,
				Origin:    "https://api.example.com",
				AmountUsd: decimal.RequireFromString("0.05"),
				Timestamp: testNow,
				Status:    status,
			},
		},
	}
}

func TestParseNotice(t *testing.T) {
	t.Run("direct json", func(t *testing.T) {
		notice, ok := ParseNotice(`{"success":true,"transaction":"0xabc123","network":"base"}`)
		require.True(t, ok)
		assert.Equal(t, "0xabc123", notice.TxReference())
		assert.Equal(t, "base", notice.Network)
	})

	t.Run("base64 json", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte(`{"success":true,"txHash":"0xdef456"}`))
		notice, ok := ParseNotice(encoded)
		require.True(t, ok)
		assert.Equal(t, "0xdef456", notice.TxReference())
	})

	t.Run("bare compact token", func(t *testing.T) {
		notice, ok := ParseNotice("session-token_1234")
		require.True(t, ok)
		assert.Equal(t, "session-token_1234", notice.Token)
		assert.Empty(t, notice.TxReference())
	})

	t.Run("rejects garbage", func(t *testing.T) {
		for _, value := range []string{"", "   ", "short", "has spaces in it", "ünïcode-token"} {
			_, ok := ParseNotice(value)
			assert.False(t, ok, "value %q", value)
		}
	})
}

func TestApplySuccess(t *testing.T) {
	st := stateWithPayment("pay-1", types.PaymentPending)
	notice := &types.SettlementNotice{Success: true, Transaction: "0xabc123"}

	out := Apply(st, "pay-1", notice, testNow)
	require.True(t, out.Found)
	assert.Equal(t, types.PaymentSuccess, out.Status)
	assert.Equal(t, "0xabc123", out.TxReference)
	assert.Equal(t, types.PaymentSuccess, st.History[0].Status)
	assert.Equal(t, "0xabc123", st.History[0].TxReference)
}

func TestApplyNoReferenceIsError(t *testing.T) {
	st := stateWithPayment("pay-1", types.PaymentPending)
	notice := &types.SettlementNotice{Success: true}

	out := Apply(st, "pay-1", notice, testNow)
	require.True(t, out.Found)
	assert.Equal(t, types.PaymentError, out.Status)
	assert.NotEmpty(t, st.History[0].Note)
}

func TestApplySettlesAtMostOnce(t *testing.T) {
	st := stateWithPayment("pay-1", types.PaymentSuccess)
	st.History[0].TxReference = "0xoriginal"

	out := Apply(st, "pay-1", &types.SettlementNotice{Transaction: "0xother"}, testNow)
	require.True(t, out.Found)
	assert.Equal(t, types.PaymentSuccess, out.Status)
	assert.Equal(t, "0xoriginal", st.History[0].TxReference)
}

func TestApplyUnknownPayment(t *testing.T) {
	st := stateWithPayment("pay-1", types.PaymentPending)
	out := Apply(st, "pay-404", &types.SettlementNotice{Transaction: "0xabc"}, testNow)
	assert.False(t, out.Found)
	assert.Equal(t, types.PaymentPending, st.History[0].Status)
}

func TestTokenCaching(t *testing.T) {
	st := stateWithPayment("pay-1", types.PaymentPending)
	notice := &types.SettlementNotice{Transaction: "0xabc", Token: "tok-abcdef", ExpiresInS: 60}

	Apply(st, "pay-1", notice, testNow)
	require.Contains(t, st.Tokens, "pay-1")
	assert.Equal(t, "tok-abcdef", st.Tokens["pay-1"].Token)
	assert.Equal(t, testNow.Add(time.Minute), st.Tokens["pay-1"].ExpiresAt)

	PruneTokens(st, testNow.Add(61*time.Second))
	assert.NotContains(t, st.Tokens, "pay-1")
}

func TestTokenDefaultTTL(t *testing.T) {
	st := &types.State{}
	Apply(st, "pay-1", &types.SettlementNotice{Token: "tok-abcdef"}, testNow)
	require.Contains(t, st.Tokens, "pay-1")
	assert.Equal(t, testNow.Add(DefaultTokenTTL), st.Tokens["pay-1"].ExpiresAt)
}
