package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// PendingReservation sums the source amount of wallet's open and in-progress
// orders that spend token.
func PendingReservation(orders []domain.Order, wallet common.Address, token domain.Token) domain.Amount {
	sum := new(big.Int)
	for _, o := range orders {
		if o.Sender != wallet || !o.State.Reserving() || o.Src.Address != token.Address {
			continue
		}
		if o.SourceAmount != nil {
			sum.Add(sum, o.SourceAmount)
		}
	}
	return domain.NewAmount(sum, token.Decimals)
}

// OnChainBalance returns the balance backing orders that spend token. The
// wrapped-native token is backed by both the wrapped and the native balance.
func OnChainBalance(snap domain.BalanceSnapshot, token domain.Token) domain.Amount {
	bal := snap.Of(token.Address)
	if token.WrappedNative {
		bal.Add(bal, snap.Of(domain.NativeAddress))
	}
	return domain.NewAmount(bal, token.Decimals)
}

// Available returns the part of wallet's balance of token not committed to
// its other orders, clamped at zero. A snapshot for a different wallet is
// treated as empty.
func Available(snap domain.BalanceSnapshot, orders []domain.Order, wallet common.Address, token domain.Token) domain.Amount {
	onChain := OnChainBalance(snap.For(wallet), token)
	reserved := PendingReservation(orders, wallet, token)
	avail, _ := onChain.Sub(reserved)
	return avail.ClampZero()
}
