package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkLookups(t *testing.T) {
	assert.Equal(t, int64(8453), NetworkBase.ChainID())
	assert.Equal(t, int64(84532), NetworkBaseSepolia.ChainID())
	assert.Equal(t, "eip155:8453", NetworkBase.Descriptor())
	assert.True(t, NetworkBaseSepolia.IsTestnet())
	assert.False(t, NetworkBase.IsTestnet())
	assert.False(t, Network("dogechain").IsSupported())
	assert.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", NetworkBase.USDCAddress())

	n, ok := NetworkForChainID(137)
	assert.True(t, ok)
	assert.Equal(t, NetworkPolygon, n)

	_, ok = NetworkForChainID(1)
	assert.False(t, ok)
}

func TestParseNetworkDescriptor(t *testing.T) {
	tests := []struct {
		in      string
		chainID int64
		ok      bool
	}{
		{"base", 8453, true},
		{"polygon-amoy", 80002, true},
		{"eip155:84532", 84532, true},
		{"eip155:31337", 31337, true},
		{"eip155:0", 0, false},
		{"eip155:abc", 0, false},
		{"cosmos:cosmoshub-4", 0, false},
		{"", 0, false},
	}
	for _, tc := range tests {
		chainID, ok := ParseNetworkDescriptor(tc.in)
		assert.Equal(t, tc.ok, ok, "descriptor %q", tc.in)
		if tc.ok {
			assert.Equal(t, tc.chainID, chainID, "descriptor %q", tc.in)
		}
	}
}
