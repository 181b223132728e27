package lend

import "math/big"

// SecondsPerYear converts loan durations to years for interest proration.
// The protocol uses the 365-day year; amounts owed depend directly on this
// constant, so it must never change for live loans.
const SecondsPerYear uint64 = 365 * 24 * 60 * 60

var bpsDenominator = big.NewInt(10_000)

// RepayParams carries the loan terms the repayment formula depends on.
type RepayParams struct {
	BorrowAmount   *big.Int
	InterestBps    uint64
	BorrowerFeeBps uint64
	Duration       uint64
}

// interestRat returns the exact pro-rated interest:
// borrow * interest% * duration/year.
func interestRat(p RepayParams) *big.Rat {
	if p.BorrowAmount == nil || p.BorrowAmount.Sign() <= 0 || p.InterestBps == 0 || p.Duration == 0 {
		return new(big.Rat)
	}
	interest := new(big.Rat).SetFrac(
		new(big.Int).Mul(p.BorrowAmount, new(big.Int).SetUint64(p.InterestBps)),
		bpsDenominator,
	)
	years := new(big.Rat).SetFrac(
		new(big.Int).SetUint64(p.Duration),
		new(big.Int).SetUint64(SecondsPerYear),
	)
	return interest.Mul(interest, years)
}

// borrowerFeeRat returns the borrower fee, a percentage of the interest
// amount rather than of principal.
func borrowerFeeRat(p RepayParams) *big.Rat {
	if p.BorrowerFeeBps == 0 {
		return new(big.Rat)
	}
	fee := new(big.Rat).SetFrac(new(big.Int).SetUint64(p.BorrowerFeeBps), bpsDenominator)
	return fee.Mul(fee, interestRat(p))
}

// InterestAmount returns the pro-rated interest truncated to native units.
func InterestAmount(p RepayParams) *big.Int {
	return ratFloor(interestRat(p))
}

// TotalRepayLoanAmount is the full amount a borrower owes: principal plus
// pro-rated interest plus the borrower fee on that interest. The sum is
// computed exactly and truncated once, so interest of zero returns exactly
// the principal.
func TotalRepayLoanAmount(p RepayParams) *big.Int {
	if p.BorrowAmount == nil || p.BorrowAmount.Sign() <= 0 {
		return big.NewInt(0)
	}
	total := new(big.Rat).SetInt(p.BorrowAmount)
	total.Add(total, interestRat(p))
	total.Add(total, borrowerFeeRat(p))
	return ratFloor(total)
}

// LiquidationRemainder computes the borrower refund after liquidation
// settlement: swapped proceeds minus TotalRepayLoanAmount. Settlement
// subtracts the same truncated total the borrower would have repaid, so
// proceeds one unit above the amount owed refund exactly that unit. The
// refund is floored at zero; the signed remainder is also returned so
// callers can surface a shortfall without altering settlement amounts.
func LiquidationRemainder(collateralSwapped *big.Int, p RepayParams) (*big.Int, *big.Rat) {
	swapped := new(big.Int)
	if collateralSwapped != nil {
		swapped.Set(collateralSwapped)
	}
	diff := new(big.Int).Sub(swapped, TotalRepayLoanAmount(p))
	signed := new(big.Rat).SetInt(diff)
	if diff.Sign() <= 0 {
		return big.NewInt(0), signed
	}
	return diff, signed
}

func ratFloor(r *big.Rat) *big.Int {
	if r == nil || r.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(r.Num(), r.Denom())
}
