package domain

import "math/big"

// GasTier selects a gas price from a GasSnapshot.
type GasTier string

const (
	GasTierSlow      GasTier = "slow"
	GasTierStandard  GasTier = "standard"
	GasTierFast      GasTier = "fast"
	GasTierSuperFast GasTier = "super_fast"
)

// GasSnapshot holds gas prices in wei captured at one instant.
type GasSnapshot struct {
	Slow     *big.Int `json:"slow"`
	Standard *big.Int `json:"standard"`
	Fast     *big.Int `json:"fast"`
}

// GasPrice resolves tier against snap. Super fast is twice the fast price.
// Unknown tiers resolve to standard; missing prices resolve to zero.
func GasPrice(tier GasTier, snap GasSnapshot) *big.Int {
	pick := func(v *big.Int) *big.Int {
		if v == nil {
			return new(big.Int)
		}
		return new(big.Int).Set(v)
	}
	switch tier {
	case GasTierSlow:
		return pick(snap.Slow)
	case GasTierFast:
		return pick(snap.Fast)
	case GasTierSuperFast:
		return new(big.Int).Mul(pick(snap.Fast), big.NewInt(2))
	default:
		return pick(snap.Standard)
	}
}

// GasFee returns price(tier) * gasLimit in wei.
func GasFee(tier GasTier, snap GasSnapshot, gasLimit uint64) *big.Int {
	return new(big.Int).Mul(GasPrice(tier, snap), new(big.Int).SetUint64(gasLimit))
}
