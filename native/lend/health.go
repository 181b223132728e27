package lend

import (
	"math/big"

	"ensolend/native/oracle"
)

// HealthRatioParams names both sides of the collateralization check. Amounts
// are native units; the feeds and bounds come from the assets' registry
// records.
type HealthRatioParams struct {
	CollateralFeedID   string
	CollateralMaxAge   uint64
	CollateralAmount   *big.Int
	CollateralDecimals uint8

	LendFeedID   string
	LendMaxAge   uint64
	LendAmount   *big.Int
	LendDecimals uint8
}

// HealthRatioAndPrices computes usd(collateral)/usd(loan) along with both
// raw prices. The liquidation checker records the collateral price at
// trigger time. A stale or malformed read on either side fails the whole
// computation.
func HealthRatioAndPrices(adapter *oracle.Adapter, now int64, p HealthRatioParams) (*big.Rat, *big.Rat, *big.Rat, error) {
	if adapter == nil {
		return nil, nil, nil, errNilOracle
	}
	collateralUSD, collateralPrice, err := adapter.USDValue(
		p.CollateralFeedID, p.CollateralMaxAge, now, p.CollateralAmount, p.CollateralDecimals)
	if err != nil {
		return nil, nil, nil, err
	}
	lendUSD, lendPrice, err := adapter.USDValue(
		p.LendFeedID, p.LendMaxAge, now, p.LendAmount, p.LendDecimals)
	if err != nil {
		return nil, nil, nil, err
	}
	if lendUSD.Sign() <= 0 {
		return nil, nil, nil, errHealthRatioInvalid
	}
	ratio := new(big.Rat).Quo(collateralUSD, lendUSD)
	return ratio, collateralPrice, lendPrice, nil
}

// ValidateHealthRatio fails the enclosing operation when the computed ratio
// is below the configured floor (basis points).
func ValidateHealthRatio(adapter *oracle.Adapter, now int64, p HealthRatioParams, floorBps uint64) error {
	ratio, _, _, err := HealthRatioAndPrices(adapter, now, p)
	if err != nil {
		return err
	}
	if belowFloor(ratio, floorBps) {
		return errHealthRatioInvalid
	}
	return nil
}

func belowFloor(ratio *big.Rat, floorBps uint64) bool {
	if ratio == nil {
		return true
	}
	floor := new(big.Rat).SetFrac(new(big.Int).SetUint64(floorBps), bpsDenominator)
	return ratio.Cmp(floor) < 0
}
