package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-agent/types"
	"github.com/vitwit/x402-agent/utils"
)

const (
	testSecret     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testPassphrase = "correct-horse-battery"
)

func TestSealOpenSecret(t *testing.T) {
	pairs := []struct {
		secret     string
		passphrase string
	}{
		{testSecret, testPassphrase},
		{"0000000000000000000000000000000000000000000000000000000000000001", "p@ss with spaces"},
		{randomHex(t, 32), randomHex(t, 12)},
		{randomHex(t, 32), randomHex(t, 24)},
	}
	for _, pair := range pairs {
		ciphertext, salt, nonce, err := sealSecret([]byte(pair.secret), pair.passphrase)
		require.NoError(t, err)
		require.NotEmpty(t, ciphertext)
		require.NotEmpty(t, salt)
		require.NotEmpty(t, nonce)
		assert.NotContains(t, ciphertext, pair.secret)

		plain, err := openSecret(ciphertext, salt, nonce, pair.passphrase)
		require.NoError(t, err)
		assert.Equal(t, pair.secret, string(plain))
	}
}

func randomHex(t *testing.T, n int) string {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return hex.EncodeToString(buf)
}

func TestOpenSecretFailuresAreUniform(t *testing.T) {
	ciphertext, salt, nonce, err := sealSecret([]byte(testSecret), testPassphrase)
	require.NoError(t, err)

	_, err = openSecret(ciphertext, salt, nonce, "not-the-passphrase")
	assert.ErrorIs(t, err, errDecryptFailed)

	_, err = openSecret("!!not-base64!!", salt, nonce, testPassphrase)
	assert.ErrorIs(t, err, errDecryptFailed)

	_, err = openSecret(ciphertext[:8], salt, nonce, testPassphrase)
	assert.ErrorIs(t, err, errDecryptFailed)

	_, err = openSecret(ciphertext, salt, "AAAA", testPassphrase)
	assert.ErrorIs(t, err, errDecryptFailed)
}

func TestConfigureValidation(t *testing.T) {
	m := NewManager()

	_, err := m.Configure("not-a-key", testPassphrase, 15)
	assert.Equal(t, types.ErrInvalidSecret, types.ErrorCode(err))

	_, err = m.Configure(testSecret, "short", 15)
	assert.Equal(t, types.ErrInvalidSecret, types.ErrorCode(err))
}

func TestClampLockMinutes(t *testing.T) {
	assert.Equal(t, 1, ClampLockMinutes(0))
	assert.Equal(t, 1, ClampLockMinutes(-10))
	assert.Equal(t, 15, ClampLockMinutes(15))
	assert.Equal(t, 1440, ClampLockMinutes(99999))
}

func TestWalletLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManagerWithClock(func() time.Time { return now })

	var rec *types.WalletRecord

	t.Run("configure leaves wallet unlocked", func(t *testing.T) {
		var err error
		rec, err = m.Configure("0x"+testSecret, testPassphrase, 15)
		require.NoError(t, err)
		assert.Equal(t, testAddress, rec.Address)
		assert.NotEmpty(t, rec.EncryptedSecret)
		assert.Equal(t, 15, rec.LockDurationMinutes)
		assert.Equal(t, now.Add(15*time.Minute).Unix(), rec.LockedUntil)
		assert.True(t, m.Unlocked())
	})

	t.Run("wrong passphrase is a generic failure", func(t *testing.T) {
		_, err := m.Unlock(rec, "not-the-passphrase", 0)
		require.Error(t, err)
		assert.Equal(t, types.ErrIncorrectPassphrase, types.ErrorCode(err))
		assert.Equal(t, "incorrect passphrase", err.(*types.AgentError).Message)
	})

	t.Run("session expires at the deadline", func(t *testing.T) {
		now = now.Add(16 * time.Minute)
		_, err := m.SigningKey()
		assert.Equal(t, types.ErrWalletLocked, types.ErrorCode(err))
		assert.False(t, m.Unlocked())
	})

	t.Run("unlock restores signing", func(t *testing.T) {
		updated, err := m.Unlock(rec, testPassphrase, 0)
		require.NoError(t, err)
		assert.Equal(t, 15, updated.LockDurationMinutes)
		assert.Equal(t, now.Add(15*time.Minute).Unix(), updated.LockedUntil)
		rec = updated

		key, err := m.SigningKey()
		require.NoError(t, err)
		require.NotNil(t, key)
	})

	t.Run("renew slides the window forward", func(t *testing.T) {
		now = now.Add(10 * time.Minute)
		updated := m.RenewLock(rec)
		assert.Equal(t, now.Add(15*time.Minute).Unix(), updated.LockedUntil)
		rec = updated
	})

	t.Run("explicit lock wipes the session", func(t *testing.T) {
		updated := m.Lock(rec)
		assert.Equal(t, int64(0), updated.LockedUntil)
		rec = updated

		_, err := m.SigningKey()
		assert.Equal(t, types.ErrWalletLocked, types.ErrorCode(err))
	})

	t.Run("export works while locked with the passphrase", func(t *testing.T) {
		secret, err := m.ExportSecret(rec, testPassphrase)
		require.NoError(t, err)
		assert.Equal(t, "0x"+testSecret, secret)
		assert.False(t, m.Unlocked(), "export must not unlock the wallet")
	})

	t.Run("export without the right passphrase fails", func(t *testing.T) {
		_, err := m.ExportSecret(rec, "not-the-passphrase")
		assert.Equal(t, types.ErrIncorrectPassphrase, types.ErrorCode(err))
	})
}

func TestSigningKeySurvivesConcurrentLock(t *testing.T) {
	m := NewManager()
	rec, err := m.Configure(testSecret, testPassphrase, 15)
	require.NoError(t, err)

	key, err := m.SigningKey()
	require.NoError(t, err)

	// A lock that lands after retrieval must not corrupt the key already
	// handed out.
	m.Lock(rec)

	require.NotEqual(t, 0, key.D.Sign())
	digest := crypto.Keccak256([]byte("in-flight payment"))
	sig, err := utils.SignDigest(digest, key)
	require.NoError(t, err)
	recovered, err := utils.RecoverAddressFromSignature(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, testAddress, recovered.Hex())
}

func TestUnlockRejectsTamperedRecord(t *testing.T) {
	m := NewManager()
	rec, err := m.Configure(testSecret, testPassphrase, 15)
	require.NoError(t, err)

	tampered := *rec
	tampered.Address = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	_, err = m.Unlock(&tampered, testPassphrase, 0)
	assert.Equal(t, types.ErrIncorrectPassphrase, types.ErrorCode(err))
}

func TestRenewLockNoopWhenLocked(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManagerWithClock(func() time.Time { return now })

	rec, err := m.Configure(testSecret, testPassphrase, 15)
	require.NoError(t, err)
	rec = m.Lock(rec)

	renewed := m.RenewLock(rec)
	assert.Equal(t, int64(0), renewed.LockedUntil)
}

func TestDecryptAndVerifyUnconfigured(t *testing.T) {
	m := NewManager()
	_, err := m.ExportSecret(nil, testPassphrase)
	assert.Equal(t, types.ErrWalletUnconfigured, types.ErrorCode(err))
}
