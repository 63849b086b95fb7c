package eip712

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Vector produced with viem's signTypedData against the Base Sepolia USDC
// domain.
func TestDigestMatchesViemSignature(t *testing.T) {
	domain := Domain{
		Name:              "USDC",
		Version:           "2",
		ChainId:           "84532",
		VerifyingContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}

	digest, err := BuildTransferWithAuthDigest(
		domain,
		"0xE4d365a5a8fC0DCEE9E3C5985D7FcBab8B4A0fE1",
		"0x384Aa214be0B279cbf211e9b2C992d8633F77848",
		"10000",
		"1763450282",
		"1763451182",
		"0xf408d6d1f1d1bca7c6396ed30f00a46ca4e5b073fff983e42b348776a5aa651c",
	)
	require.NoError(t, err)

	sig := hexutil.MustDecode("0x2e8818a233e2e802c953aed477858957ff85a4b91e047181e17ef4b096108e66409119a4c3fac7867b2c2b799b32a0aac108c524cffb3bf0ea6e0906f63d80271b")
	signer, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xE4d365a5a8fC0DCEE9E3C5985D7FcBab8B4A0fE1"), signer)
}

func TestSignRecoverRoundTrip(t *testing.T) {
	key, err := crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	domain := Domain{
		Name:              "USDC",
		Version:           "2",
		ChainId:           "8453",
		VerifyingContract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}
	digest, err := BuildTransferWithAuthDigest(
		domain,
		from.Hex(),
		"0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		"50000",
		"1700000000",
		"1700000120",
		"0x0102030405060708091011121314151617181920212223242526272829303132",
	)
	require.NoError(t, err)

	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)

	signer, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, from, signer)

	// Recovery also accepts the contract-style 27/28 V.
	sig[64] += 27
	signer, err = RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, from, signer)
}

func TestDomainSeparatorRejectsIncompleteDomain(t *testing.T) {
	_, err := DomainSeparator(Domain{Name: "USDC"})
	assert.Error(t, err)
}

func TestHexToBytes32(t *testing.T) {
	out, err := HexToBytes32("0x01")
	require.NoError(t, err)
	assert.Equal(t, byte(1), out[31])
	assert.Equal(t, byte(0), out[0])

	_, err = HexToBytes32("0xzz")
	assert.Error(t, err)
}
