// Package wallet owns the encrypted signing key and its bounded in-memory
// unlock. The decrypted secret lives only inside the unexported session type,
// which is never part of any serializable struct and never survives a
// process restart; only the encrypted record is persisted.
package wallet

import (
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/vitwit/x402-agent/types"
	"github.com/vitwit/x402-agent/utils"
)

// Lock duration bounds in minutes.
const (
	MinLockMinutes = 1
	MaxLockMinutes = 1440
)

// session holds the decrypted key while unlocked. In-memory only.
type session struct {
	key   *ecdsa.PrivateKey
	until time.Time
}

// Manager is the wallet security state machine: Unconfigured →
// Configured-Locked → Unlocked-until(T) → Configured-Locked on expiry,
// explicit lock, or restart.
type Manager struct {
	mu      sync.Mutex
	session *session
	now     func() time.Time
}

func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// NewManagerWithClock is used by tests to control lock expiry.
func NewManagerWithClock(now func() time.Time) *Manager {
	return &Manager{now: now}
}

// ClampLockMinutes bounds a requested lock duration to [1, 1440].
func ClampLockMinutes(minutes int) int {
	if minutes < MinLockMinutes {
		return MinLockMinutes
	}
	if minutes > MaxLockMinutes {
		return MaxLockMinutes
	}
	return minutes
}

// Configure validates the secret material, encrypts it under the passphrase,
// and returns the record to persist. The plaintext is held transiently for
// the same lock window.
func (m *Manager) Configure(secretHex, passphrase string, lockMinutes int) (*types.WalletRecord, error) {
	key, err := utils.PrivateKeyFromHex(secretHex)
	if err != nil {
		return nil, types.NewAgentError(types.ErrInvalidSecret, "secret material is not a valid private key")
	}
	if len(passphrase) < 8 {
		return nil, types.NewAgentError(types.ErrInvalidSecret, "passphrase must be at least 8 characters")
	}

	address := utils.AddressFromPrivateKey(key).Hex()

	ciphertext, salt, nonce, err := sealSecret(normalizedSecretBytes(secretHex), passphrase)
	if err != nil {
		return nil, types.NewAgentError(types.ErrSigningFailure, "failed to encrypt secret: %v", err)
	}

	lockMinutes = ClampLockMinutes(lockMinutes)
	until := m.now().Add(time.Duration(lockMinutes) * time.Minute)

	m.mu.Lock()
	m.session = &session{key: key, until: until}
	m.mu.Unlock()

	return &types.WalletRecord{
		Address:             address,
		EncryptedSecret:     ciphertext,
		EncryptionSalt:      salt,
		EncryptionIV:        nonce,
		LockDurationMinutes: lockMinutes,
		LockedUntil:         until.Unix(),
	}, nil
}

// Unlock decrypts the stored secret and verifies the derived address against
// the record, guarding against a corrupted record or passphrase/secret
// mismatch. The failure is deliberately generic. lockMinutes 0 means "use
// the configured duration".
func (m *Manager) Unlock(rec *types.WalletRecord, passphrase string, lockMinutes int) (*types.WalletRecord, error) {
	key, err := m.decryptAndVerify(rec, passphrase)
	if err != nil {
		return nil, err
	}

	if lockMinutes == 0 {
		lockMinutes = rec.LockDurationMinutes
	}
	lockMinutes = ClampLockMinutes(lockMinutes)
	until := m.now().Add(time.Duration(lockMinutes) * time.Minute)

	m.mu.Lock()
	m.session = &session{key: key, until: until}
	m.mu.Unlock()

	updated := *rec
	updated.LockDurationMinutes = lockMinutes
	updated.LockedUntil = until.Unix()
	return &updated, nil
}

// Lock clears the transient secret.
func (m *Manager) Lock(rec *types.WalletRecord) *types.WalletRecord {
	m.mu.Lock()
	m.wipeSessionLocked()
	m.mu.Unlock()

	updated := *rec
	updated.LockedUntil = 0
	return &updated
}

// ExportSecret returns the plaintext secret for one-time backup display.
// It requires the passphrase on every call; the unlocked session alone is
// not sufficient authorization. Lock state is not mutated.
func (m *Manager) ExportSecret(rec *types.WalletRecord, passphrase string) (string, error) {
	key, err := m.decryptAndVerify(rec, passphrase)
	if err != nil {
		return "", err
	}
	return utils.PrivateKeyToHex(key), nil
}

// Remove irreversibly wipes the transient secret. The caller drops the
// encrypted record from persisted state.
func (m *Manager) Remove() {
	m.mu.Lock()
	m.wipeSessionLocked()
	m.mu.Unlock()
}

// SigningKey returns a copy of the unlocked key, or a WALLET_LOCKED error
// when no valid session exists. The copy keeps a signature in flight valid
// even if the session is wiped before it completes.
func (m *Manager) SigningKey() (*ecdsa.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || !m.now().Before(m.session.until) {
		m.wipeSessionLocked()
		return nil, types.NewAgentError(types.ErrWalletLocked, "wallet is locked")
	}
	cp := &ecdsa.PrivateKey{
		PublicKey: m.session.key.PublicKey,
		D:         new(big.Int).Set(m.session.key.D),
	}
	return cp, nil
}

// Unlocked reports whether a live session exists.
func (m *Manager) Unlocked() bool {
	_, err := m.SigningKey()
	return err == nil
}

// RenewLock extends the session by the record's configured duration after a
// successful spend, so active usage does not require re-entering the
// passphrase. No-op when locked.
func (m *Manager) RenewLock(rec *types.WalletRecord) *types.WalletRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || !m.now().Before(m.session.until) {
		return rec
	}

	minutes := ClampLockMinutes(rec.LockDurationMinutes)
	until := m.now().Add(time.Duration(minutes) * time.Minute)
	m.session.until = until

	updated := *rec
	updated.LockedUntil = until.Unix()
	return &updated
}

func (m *Manager) decryptAndVerify(rec *types.WalletRecord, passphrase string) (*ecdsa.PrivateKey, error) {
	if rec == nil || rec.EncryptedSecret == "" {
		return nil, types.NewAgentError(types.ErrWalletUnconfigured, "no wallet configured")
	}

	plain, err := openSecret(rec.EncryptedSecret, rec.EncryptionSalt, rec.EncryptionIV, passphrase)
	if err != nil {
		return nil, types.NewAgentError(types.ErrIncorrectPassphrase, "incorrect passphrase")
	}

	key, err := utils.PrivateKeyFromHex(string(plain))
	if err != nil {
		return nil, types.NewAgentError(types.ErrIncorrectPassphrase, "incorrect passphrase")
	}

	if !strings.EqualFold(utils.AddressFromPrivateKey(key).Hex(), rec.Address) {
		return nil, types.NewAgentError(types.ErrIncorrectPassphrase, "incorrect passphrase")
	}
	return key, nil
}

// wipeSessionLocked zeroes the private scalar before dropping the session.
func (m *Manager) wipeSessionLocked() {
	if m.session == nil {
		return
	}
	if m.session.key != nil && m.session.key.D != nil {
		m.session.key.D.SetInt64(0)
	}
	m.session = nil
}

// normalizedSecretBytes stores the secret without a 0x prefix so the sealed
// form round-trips through PrivateKeyFromHex.
func normalizedSecretBytes(secretHex string) []byte {
	return []byte(strings.TrimPrefix(strings.TrimSpace(secretHex), "0x"))
}
