package engine_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

var (
	wallet = common.HexToAddress("0x1111111111111111111111111111111111111111")
	other  = common.HexToAddress("0x2222222222222222222222222222222222222222")

	eth  = domain.Token{Address: domain.NativeAddress, Symbol: "ETH", Decimals: 18, Native: true}
	weth = domain.Token{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Symbol: "WETH", Decimals: 18, WrappedNative: true}
	knc  = domain.Token{Address: common.HexToAddress("0xdd974D5C2e2928deA5F71b9825b8b646686BD200"), Symbol: "KNC", Decimals: 18}
	usdc = domain.Token{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6}
)

func amt(t *testing.T, s string, tok domain.Token) domain.Amount {
	t.Helper()
	a, err := tok.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func raw(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad int %q", s)
	}
	return v
}

func order(id string, src, dest domain.Token, side domain.OrderSide, amount, rate *big.Int, state domain.OrderState) domain.Order {
	return domain.Order{
		ID:           id,
		Sender:       wallet,
		Src:          src,
		Dest:         dest,
		SourceAmount: amount,
		TargetRate:   rate,
		Side:         side,
		State:        state,
		CreatedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}
