package types

// HTTP headers used by the x402 challenge/response exchange.
const (
	// HeaderChallenge carries the dedicated machine-readable challenge,
	// either direct JSON or base64-encoded JSON.
	HeaderChallenge = "X-Payment-Challenge"

	// HeaderAuthenticate is the standard auth-challenge header; the x402
	// scheme embeds either a challenge parameter or flat payment params.
	HeaderAuthenticate = "WWW-Authenticate"

	// HeaderPayment carries the signed authorization on the retried
	// request, as a single opaque base64-encoded JSON value.
	HeaderPayment = "X-Payment"

	// HeaderPaymentID is the plaintext correlation header carrying the
	// payment id alongside HeaderPayment.
	HeaderPaymentID = "X-Payment-Id"

	// HeaderPaymentResponse carries the server's settlement acknowledgment
	// on the retried request's response.
	HeaderPaymentResponse = "X-Payment-Response"
)

// Legacy flat challenge headers, lowest parse precedence.
const (
	HeaderLegacyAmountUsd    = "X-Payment-Amount-Usd"
	HeaderLegacyToken        = "X-Payment-Token"
	HeaderLegacySeller       = "X-Payment-Seller"
	HeaderLegacyTokenAddress = "X-Payment-Token-Address"
	HeaderLegacyChainID      = "X-Payment-Chain-Id"
	HeaderLegacyAmountAtomic = "X-Payment-Amount-Atomic"
)

// AuthScheme is the WWW-Authenticate scheme recognized by the parser.
const AuthScheme = "X402"
