package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceSnapshot is a read-only view of one wallet's on-chain balances.
type BalanceSnapshot struct {
	Wallet    common.Address              `json:"wallet"`
	Balances  map[common.Address]*big.Int `json:"balances"`
	FetchedAt time.Time                   `json:"fetched_at"`
}

// Of returns a copy of the balance held for token, zero when absent.
func (s BalanceSnapshot) Of(token common.Address) *big.Int {
	if b, ok := s.Balances[token]; ok && b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// For returns the snapshot if it belongs to wallet, otherwise an empty one.
func (s BalanceSnapshot) For(wallet common.Address) BalanceSnapshot {
	if s.Wallet != wallet {
		return BalanceSnapshot{Wallet: wallet}
	}
	return s
}

// PendingSettlements maps token symbol to the amount still settling for a
// wallet, as reported by the order service.
type PendingSettlements map[string]float64
