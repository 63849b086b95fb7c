package utils

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKeyFromHex creates a private key from a hex string.
func PrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	// Remove 0x prefix if present
	hexKey = strings.TrimPrefix(hexKey, "0x")

	return crypto.HexToECDSA(hexKey)
}

// PrivateKeyToHex encodes a private key back to its 0x-prefixed hex form.
func PrivateKeyToHex(key *ecdsa.PrivateKey) string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(key))
}

// AddressFromPrivateKey derives the Ethereum address from a private key.
func AddressFromPrivateKey(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}

// SignDigest signs a 32-byte digest with the given private key and returns
// the 65-byte signature with V normalized to 27/28, hex encoded.
func SignDigest(digest []byte, privateKey *ecdsa.PrivateKey) (string, error) {
	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign digest: %w", err)
	}

	// go-ethereum produces V as 0/1; contracts expect 27/28
	if signature[64] < 27 {
		signature[64] += 27
	}

	return hexutil.Encode(signature), nil
}

// RecoverAddressFromSignature recovers the Ethereum address from a signature.
func RecoverAddressFromSignature(digest []byte, signature string) (common.Address, error) {
	signature = strings.TrimPrefix(signature, "0x")

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", err)
	}

	if len(sigBytes) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	// Adjust recovery ID for Ethereum
	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest, sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// ValidateAddress checks if a string is a valid Ethereum address.
func ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress ensures an address is properly checksummed.
func NormalizeAddress(address string) string {
	if !common.IsHexAddress(address) {
		return ""
	}
	return common.HexToAddress(address).Hex()
}
