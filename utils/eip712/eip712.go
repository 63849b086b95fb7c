package eip712

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain is the EIP-712 domain the authorization is bound to: the token's
// name, version, chain and contract address.
type Domain struct {
	Name              string // e.g. "USDC"
	Version           string // e.g. "2"
	ChainId           string // decimal string
	VerifyingContract string // hex address "0x..."
}

// --- Type hashes (keccak256 of the type signature strings) ---
var (
	// TRANSFER_WITH_AUTH_TYPE per EIP-3009
	transferAuthTypeHash = crypto.Keccak256Hash([]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))

	// EIP712Domain type string - note ordering matters
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
)

// keccak256ABI concats the 32-byte words (already hashed or padded) needed
// for EIP-712 encodings and hashes them, matching abi.encode semantics for
// static types.
func keccak256ABI(parts ...[]byte) common.Hash {
	joined := []byte{}
	for _, p := range parts {
		joined = append(joined, p...)
	}
	return crypto.Keccak256Hash(joined)
}

// padLeft32 returns a 32-byte right-aligned representation of the given big.Int
func padLeft32(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// addressTo32 left-pads an address into 32 bytes
func addressTo32(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes()) // address fits in last 20 bytes
	return out
}

// stringToBig converts decimal string -> *big.Int
func stringToBig(s string) (*big.Int, error) {
	n := new(big.Int)
	_, ok := n.SetString(s, 10)
	if !ok {
		return nil, errors.New("invalid decimal integer string")
	}
	return n, nil
}

// HexToBytes32 converts hex (with/without 0x) to a 32-byte array, for the
// EIP-3009 nonce.
func HexToBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte
	if len(hexStr) >= 2 && hexStr[0:2] == "0x" {
		hexStr = hexStr[2:]
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return out, err
	}
	if len(b) > 32 {
		copy(out[:], b[len(b)-32:])
		return out, nil
	}
	copy(out[32-len(b):], b)
	return out, nil
}

// DomainSeparator builds the domainSeparator hash per EIP-712:
// keccak256(abi.encode(domainTypeHash, keccak256(name), keccak256(version), chainId, verifyingContract))
func DomainSeparator(d Domain) (common.Hash, error) {
	if d.Name == "" || d.Version == "" || d.ChainId == "" || d.VerifyingContract == "" {
		return common.Hash{}, errors.New("incomplete domain")
	}

	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))

	chainId, err := stringToBig(d.ChainId)
	if err != nil {
		return common.Hash{}, err
	}

	verifying := common.HexToAddress(d.VerifyingContract)

	parts := [][]byte{
		domainTypeHash.Bytes(),
		nameHash.Bytes(),
		versionHash.Bytes(),
		padLeft32(chainId),
		addressTo32(verifying),
	}
	return keccak256ABI(parts...), nil
}

// HashTransferWithAuthorizationStruct computes keccak256(
//
//	abi.encode(TRANSFER_WITH_AUTH_TYPEHASH, from, to, value, validAfter, validBefore, nonceBytes32)
//
// )
func HashTransferWithAuthorizationStruct(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) common.Hash {
	parts := [][]byte{
		transferAuthTypeHash.Bytes(),
		addressTo32(from),
		addressTo32(to),
		padLeft32(value),
		padLeft32(validAfter),
		padLeft32(validBefore),
		nonce[:], // already 32 bytes
	}
	return keccak256ABI(parts...)
}

// TypedDataHash returns the final EIP-712 digest to be signed/recovered:
//
//	keccak256("\x19\x01", domainSeparator, structHash)
func TypedDataHash(domainSeparator, structHash common.Hash) common.Hash {
	prefix := []byte{0x19, 0x01}
	return crypto.Keccak256Hash(append(append(prefix, domainSeparator.Bytes()...), structHash.Bytes()...))
}

// BuildTransferWithAuthDigest builds the EIP-712 digest for EIP-3009
// transferWithAuthorization. value/validAfter/validBefore are decimal
// strings; nonceHex is hex (0x... or plain).
func BuildTransferWithAuthDigest(domain Domain, fromHex, toHex, valueDec, validAfterDec, validBeforeDec, nonceHex string) (common.Hash, error) {
	domainSep, err := DomainSeparator(domain)
	if err != nil {
		return common.Hash{}, err
	}
	from := common.HexToAddress(fromHex)
	to := common.HexToAddress(toHex)

	value, err := stringToBig(valueDec)
	if err != nil {
		return common.Hash{}, err
	}
	validAfter, err := stringToBig(validAfterDec)
	if err != nil {
		return common.Hash{}, err
	}
	validBefore, err := stringToBig(validBeforeDec)
	if err != nil {
		return common.Hash{}, err
	}
	nonceBytes, err := HexToBytes32(nonceHex)
	if err != nil {
		return common.Hash{}, err
	}

	structHash := HashTransferWithAuthorizationStruct(from, to, value, validAfter, validBefore, nonceBytes)
	return TypedDataHash(domainSep, structHash), nil
}

// RecoverSigner recovers the Ethereum address that signed the given digest.
// sig must be 65 bytes (R||S||V). V may be 0/1 or 27/28; it is normalized.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}

	// copy to avoid mutating caller slice
	s := make([]byte, 65)
	copy(s, sig)

	// the recovery path wants V as 0/1
	if s[64] >= 27 {
		s[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest.Bytes(), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("sig to pub failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}
