package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Network represents the supported EVM networks. The agent assumes a small,
// statically known set.
type Network string

const (
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
	NetworkPolygon     Network = "polygon"
	NetworkPolygonAmoy Network = "polygon-amoy" // testnet
)

var chainIDs = map[Network]int64{
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
	NetworkPolygon:     137,
	NetworkPolygonAmoy: 80002,
}

// Canonical USDC deployments per supported network.
var usdcAddresses = map[Network]string{
	NetworkBase:        "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	NetworkBaseSepolia: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	NetworkPolygon:     "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	NetworkPolygonAmoy: "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
}

func (n Network) String() string {
	return string(n)
}

// ChainID returns the EIP-155 chain id for the network, or 0 when unknown.
func (n Network) ChainID() int64 {
	return chainIDs[n]
}

// USDCAddress returns the USDC contract address on the network.
func (n Network) USDCAddress() string {
	return usdcAddresses[n]
}

// IsSupported reports whether n is one of the statically known networks.
func (n Network) IsSupported() bool {
	_, ok := chainIDs[n]
	return ok
}

func (n Network) IsTestnet() bool {
	return n == NetworkBaseSepolia || n == NetworkPolygonAmoy
}

// Descriptor returns the CAIP-2 style "eip155:<chainId>" descriptor.
func (n Network) Descriptor() string {
	return fmt.Sprintf("eip155:%d", n.ChainID())
}

// NetworkForChainID resolves a chain id back to a named network.
func NetworkForChainID(chainID int64) (Network, bool) {
	for n, id := range chainIDs {
		if id == chainID {
			return n, true
		}
	}
	return "", false
}

// ParseNetworkDescriptor resolves either a named network ("base-sepolia") or
// a CAIP-2 descriptor ("eip155:84532") to a chain id.
func ParseNetworkDescriptor(descriptor string) (int64, bool) {
	if n := Network(descriptor); n.IsSupported() {
		return n.ChainID(), true
	}
	ns, id, found := strings.Cut(descriptor, ":")
	if !found || ns != "eip155" {
		return 0, false
	}
	chainID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || chainID <= 0 {
		return 0, false
	}
	return chainID, true
}

// USDCDecimals is the decimal precision shared by all supported USDC
// deployments.
const USDCDecimals = 6
