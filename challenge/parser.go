// Package challenge converts raw 402 responses into canonical challenge
// records. Parsing is defensive: every format attempt reports success or
// absence, never an error, and the first structurally valid result wins.
package challenge

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitwit/x402-agent/types"
	"github.com/vitwit/x402-agent/utils"
)

// RequestContext identifies the intercepted request the challenge belongs to.
type RequestContext struct {
	Origin   string
	Endpoint string
	Method   string
}

// Parser tries the supported challenge encodings in precedence order.
type Parser struct {
	validate *validator.Validate
}

func NewParser() *Parser {
	return &Parser{validate: validator.New()}
}

// Parse converts response headers plus an optional JSON body into a canonical
// challenge record. The second return is false when no encoding yielded a
// structurally valid challenge; the caller must then leave the response
// untouched.
func (p *Parser) Parse(hdr http.Header, body []byte, rc RequestContext) (*types.ChallengeDetails, bool) {
	attempts := []func() (*types.ChallengeDetails, bool){
		func() (*types.ChallengeDetails, bool) { return p.parseDedicatedHeader(hdr, rc) },
		func() (*types.ChallengeDetails, bool) { return p.parseAuthenticateHeader(hdr, rc) },
		func() (*types.ChallengeDetails, bool) { return p.parseLegacyHeaders(hdr, rc) },
		func() (*types.ChallengeDetails, bool) { return p.parseAcceptsBody(body, rc) },
	}

	for _, attempt := range attempts {
		if ch, ok := attempt(); ok {
			ch.RawHeaders = captureHeaders(hdr)
			return ch, true
		}
	}
	return nil, false
}

// wireChallenge is the permissive decode target for JSON-encoded challenges.
// Field aliases cover the spellings seen from different resource servers.
type wireChallenge struct {
	ChallengeID   string          `json:"challengeId"`
	AmountUsd     json.Number     `json:"amountUsd"`
	TokenSymbol   string          `json:"tokenSymbol"`
	Token         string          `json:"token"`
	ChainID       json.Number     `json:"chainId"`
	TokenAddress  string          `json:"tokenAddress"`
	Asset         string          `json:"asset"`
	Seller        string          `json:"seller"`
	PayTo         string          `json:"payTo"`
	AmountAtomic  string          `json:"amountAtomic"`
	MaxAmount     json.RawMessage `json:"maxAmountRequired"`
	TokenName     string          `json:"tokenName"`
	TokenVersion  string          `json:"tokenVersion"`
	TokenDecimals int             `json:"tokenDecimals"`
	X402Version   int             `json:"x402Version"`
	Network       string          `json:"network"`
}

// parseDedicatedHeader handles format (a): the dedicated challenge header
// containing JSON or base64-encoded JSON.
func (p *Parser) parseDedicatedHeader(hdr http.Header, rc RequestContext) (*types.ChallengeDetails, bool) {
	value := strings.TrimSpace(hdr.Get(types.HeaderChallenge))
	if value == "" {
		return nil, false
	}
	return p.parseChallengeValue(value, rc)
}

// parseChallengeValue decodes a challenge value that may be direct JSON or
// base64-encoded JSON.
func (p *Parser) parseChallengeValue(value string, rc RequestContext) (*types.ChallengeDetails, bool) {
	raw := []byte(value)
	if !json.Valid(raw) {
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, false
		}
		raw = decoded
	}

	var wire wireChallenge
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, false
	}

	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)

	ch := p.fromWire(&wire, rc)
	if ch == nil {
		return nil, false
	}
	ch.RawChallenge = rawMap
	return ch, true
}

// parseAuthenticateHeader handles format (b): `X402 k=v, k=v` parameters,
// either a nested challenge/payload value parsed recursively or flat
// amount/token/seller/chain params.
func (p *Parser) parseAuthenticateHeader(hdr http.Header, rc RequestContext) (*types.ChallengeDetails, bool) {
	value := strings.TrimSpace(hdr.Get(types.HeaderAuthenticate))
	if value == "" {
		return nil, false
	}

	scheme, rest, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, types.AuthScheme) {
		return nil, false
	}

	params := parseAuthParams(rest)
	if len(params) == 0 {
		return nil, false
	}

	if nested := firstNonEmpty(params["challenge"], params["payload"]); nested != "" {
		return p.parseChallengeValue(nested, rc)
	}

	wire := wireChallenge{
		ChallengeID:  params["id"],
		AmountUsd:    json.Number(params["amount"]),
		TokenSymbol:  params["token"],
		Seller:       firstNonEmpty(params["seller"], params["pay-to"]),
		TokenAddress: firstNonEmpty(params["token-address"], params["asset"]),
		AmountAtomic: params["atomic-amount"],
		Network:      params["network"],
	}
	if id := params["chain-id"]; id != "" {
		wire.ChainID = json.Number(id)
	}

	ch := p.fromWire(&wire, rc)
	if ch == nil {
		return nil, false
	}
	return ch, true
}

// parseLegacyHeaders handles format (c): the flat header set.
func (p *Parser) parseLegacyHeaders(hdr http.Header, rc RequestContext) (*types.ChallengeDetails, bool) {
	wire := wireChallenge{
		AmountUsd:    json.Number(hdr.Get(types.HeaderLegacyAmountUsd)),
		TokenSymbol:  hdr.Get(types.HeaderLegacyToken),
		Seller:       hdr.Get(types.HeaderLegacySeller),
		TokenAddress: hdr.Get(types.HeaderLegacyTokenAddress),
		AmountAtomic: hdr.Get(types.HeaderLegacyAmountAtomic),
	}
	if wire.Seller == "" && wire.TokenAddress == "" && wire.AmountAtomic == "" {
		return nil, false
	}
	if id := hdr.Get(types.HeaderLegacyChainID); id != "" {
		wire.ChainID = json.Number(id)
	}

	ch := p.fromWire(&wire, rc)
	if ch == nil {
		return nil, false
	}
	return ch, true
}

// parseAcceptsBody handles format (d): a JSON body carrying an x402 accepts
// array. The first entry with the supported "exact" scheme wins.
func (p *Parser) parseAcceptsBody(body []byte, rc RequestContext) (*types.ChallengeDetails, bool) {
	if len(body) == 0 || !json.Valid(body) {
		return nil, false
	}

	var resp struct {
		X402Version int `json:"x402Version"`
		Accepts     []struct {
			Scheme            string          `json:"scheme"`
			Network           string          `json:"network"`
			MaxAmountRequired json.RawMessage `json:"maxAmountRequired"`
			Resource          string          `json:"resource"`
			PayTo             string          `json:"payTo"`
			Asset             string          `json:"asset"`
			Extra             map[string]any  `json:"extra"`
		} `json:"accepts"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false
	}

	for _, accept := range resp.Accepts {
		if accept.Scheme != string(types.SchemeExact) {
			continue
		}

		wire := wireChallenge{
			Seller:       accept.PayTo,
			TokenAddress: accept.Asset,
			MaxAmount:    accept.MaxAmountRequired,
			Network:      accept.Network,
			X402Version:  resp.X402Version,
		}
		if accept.Extra != nil {
			wire.TokenName, _ = accept.Extra["name"].(string)
			wire.TokenVersion, _ = accept.Extra["version"].(string)
			if d, ok := accept.Extra["decimals"].(float64); ok {
				wire.TokenDecimals = int(d)
			}
		}

		ch := p.fromWire(&wire, rc)
		if ch == nil {
			continue
		}
		if ch.Endpoint == "" {
			ch.Endpoint = accept.Resource
		}
		var rawMap map[string]any
		_ = json.Unmarshal(body, &rawMap)
		ch.RawChallenge = rawMap
		return ch, true
	}
	return nil, false
}

// fromWire normalizes a decoded wire challenge into the canonical record,
// returning nil when the result is not structurally valid.
func (p *Parser) fromWire(wire *wireChallenge, rc RequestContext) *types.ChallengeDetails {
	ch := &types.ChallengeDetails{
		ChallengeID:     wire.ChallengeID,
		Origin:          rc.Origin,
		Endpoint:        rc.Endpoint,
		Method:          rc.Method,
		TokenSymbol:     firstNonEmpty(wire.TokenSymbol, wire.Token),
		TokenAddress:    firstNonEmpty(wire.TokenAddress, wire.Asset),
		Seller:          firstNonEmpty(wire.Seller, wire.PayTo),
		AmountAtomic:    wire.AmountAtomic,
		TokenName:       wire.TokenName,
		TokenVersion:    wire.TokenVersion,
		TokenDecimals:   wire.TokenDecimals,
		ProtocolVersion: wire.X402Version,
		Network:         wire.Network,
	}

	if ch.AmountAtomic == "" && len(wire.MaxAmount) > 0 {
		ch.AmountAtomic = decodeFlexibleAmount(wire.MaxAmount)
	}

	atomic, err := utils.NormalizeAtomicAmount(ch.AmountAtomic)
	if err != nil {
		return nil
	}
	ch.AmountAtomic = atomic

	if !utils.ValidateAddress(ch.Seller) || !utils.ValidateAddress(ch.TokenAddress) {
		return nil
	}
	ch.Seller = utils.NormalizeAddress(ch.Seller)
	ch.TokenAddress = utils.NormalizeAddress(ch.TokenAddress)

	if ch.ChainID == 0 {
		if id, err := wire.ChainID.Int64(); err == nil && id > 0 {
			ch.ChainID = id
		} else if ch.Network != "" {
			if id, ok := types.ParseNetworkDescriptor(ch.Network); ok {
				ch.ChainID = id
			}
		}
	}

	if ch.TokenDecimals == 0 {
		ch.TokenDecimals = types.USDCDecimals
	}

	if usd := string(wire.AmountUsd); usd != "" {
		dec, err := utils.ValidateUsdAmount(usd)
		if err != nil {
			return nil
		}
		ch.AmountUsd = dec
	} else {
		// Advisory estimate assuming a dollar-pegged token; never part of
		// the signed authorization.
		est, err := utils.FormatAmountFromAtomic(ch.AmountAtomic, ch.TokenDecimals)
		if err != nil {
			return nil
		}
		ch.AmountUsd = est
	}
	if ch.AmountUsd.LessThan(decimal.Zero) {
		return nil
	}

	if ch.ChallengeID == "" {
		ch.ChallengeID = uuid.NewString()
	}

	if err := p.validate.Struct(ch); err != nil {
		return nil
	}
	return ch
}

// decodeFlexibleAmount renders a JSON string or number amount as text for
// normalization.
func decodeFlexibleAmount(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// parseAuthParams splits `k=v, k2="v2"` auth parameters. Quoted values may
// contain commas and backslash-escaped quotes per RFC 7235, so splitting
// tracks quoted-string state instead of cutting on every comma.
func parseAuthParams(raw string) map[string]string {
	params := make(map[string]string)
	for _, part := range splitAuthParams(raw) {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = unquoteAuthValue(strings.TrimSpace(value))
		if key != "" && value != "" {
			params[key] = value
		}
	}
	return params
}

// splitAuthParams breaks a parameter list on commas outside quoted-strings.
func splitAuthParams(raw string) []string {
	var (
		parts   []string
		start   int
		inQuote bool
	)
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				parts = append(parts, raw[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, raw[start:])
}

// unquoteAuthValue strips surrounding quotes and resolves backslash escapes.
func unquoteAuthValue(value string) string {
	if len(value) < 2 || value[0] != '"' || value[len(value)-1] != '"' {
		return value
	}
	inner := value[1 : len(value)-1]
	if !strings.Contains(inner, `\`) {
		return inner
	}
	var b strings.Builder
	b.Grow(len(inner))
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}

func captureHeaders(hdr http.Header) map[string]string {
	captured := make(map[string]string, len(hdr))
	for name := range hdr {
		if strings.HasPrefix(name, "X-Payment") || strings.EqualFold(name, types.HeaderAuthenticate) {
			captured[name] = hdr.Get(name)
		}
	}
	if len(captured) == 0 {
		return nil
	}
	return captured
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
