package domain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAddress is the placeholder contract address used for the chain's
// native asset.
var NativeAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Token is immutable reference data for one asset.
type Token struct {
	Address       common.Address `json:"address" toml:"address"`
	Symbol        string         `json:"symbol" toml:"symbol"`
	Decimals      uint8          `json:"decimals" toml:"decimals"`
	Native        bool           `json:"native,omitempty" toml:"native"`
	WrappedNative bool           `json:"wrapped_native,omitempty" toml:"wrapped_native"`
}

// Same reports whether both tokens refer to the same contract.
func (t Token) Same(o Token) bool { return t.Address == o.Address }

// EthEquivalent reports whether one unit of the token is one unit of the
// native asset.
func (t Token) EthEquivalent() bool { return t.Native || t.WrappedNative }

// Parse converts a human string into an Amount at this token's precision.
func (t Token) Parse(s string) (Amount, error) { return ParseAmount(s, t.Decimals) }

// Zero returns a zero amount at this token's precision.
func (t Token) Zero() Amount { return ZeroAmount(t.Decimals) }

// TokenRegistry resolves tokens by address or symbol.
type TokenRegistry struct {
	mu       sync.RWMutex
	byAddr   map[common.Address]Token
	bySymbol map[string]Token
}

func NewTokenRegistry(tokens []Token) *TokenRegistry {
	r := &TokenRegistry{
		byAddr:   make(map[common.Address]Token, len(tokens)),
		bySymbol: make(map[string]Token, len(tokens)),
	}
	for _, t := range tokens {
		r.Add(t)
	}
	return r
}

func (r *TokenRegistry) Add(t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAddr[t.Address] = t
	r.bySymbol[strings.ToUpper(t.Symbol)] = t
}

func (r *TokenRegistry) Get(addr common.Address) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byAddr[addr]
	return t, ok
}

func (r *TokenRegistry) BySymbol(symbol string) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// Native returns the chain's native asset, if registered.
func (r *TokenRegistry) Native() (Token, bool) {
	return r.find(func(t Token) bool { return t.Native })
}

// Wrapped returns the wrapped-native token, if registered.
func (r *TokenRegistry) Wrapped() (Token, bool) {
	return r.find(func(t Token) bool { return t.WrappedNative })
}

func (r *TokenRegistry) All() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Token, 0, len(r.byAddr))
	for _, t := range r.byAddr {
		out = append(out, t)
	}
	return out
}

func (r *TokenRegistry) find(pred func(Token) bool) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.byAddr {
		if pred(t) {
			return t, true
		}
	}
	return Token{}, false
}
