package lend

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	liquidateReasonHealth  = "health"
	liquidateReasonExpired = "expired"
)

// liquidatingPriceDigits bounds the decimal expansion stored on the offer so
// the snapshot stays comparable across runs.
const liquidatingPriceDigits = 12

// StartLiquidateHealth moves a funded loan into liquidation because its
// health ratio fell below the configured floor. The collateral price at the
// time of the decision is recorded on the offer and the escrowed collateral
// moves to the hot wallet for the swap leg.
func (e *Engine) StartLiquidateHealth(caller, borrower common.Address, offerID string) error {
	loan, collateralAsset, err := e.beginLiquidation(caller, borrower, offerID)
	if err != nil {
		return err
	}
	lendAsset, err := e.lendAsset(loan.LendMint)
	if err != nil {
		return err
	}
	now := e.now()
	ratio, collateralPrice, _, err := HealthRatioAndPrices(e.adapter, now,
		healthParams(collateralAsset, lendAsset, loan.CollateralAmount, loan.BorrowAmount))
	if err != nil {
		return err
	}
	if !belowFloor(ratio, e.minHealthRatioBps) {
		return errNotLiquidatable
	}
	loan.LiquidatingPrice = collateralPrice.FloatString(liquidatingPriceDigits)
	return e.commitLiquidationStart(loan, collateralAsset, borrower, now, liquidateReasonHealth)
}

// StartLiquidateExpired moves a funded loan into liquidation because its
// term elapsed without repayment.
func (e *Engine) StartLiquidateExpired(caller, borrower common.Address, offerID string) error {
	loan, collateralAsset, err := e.beginLiquidation(caller, borrower, offerID)
	if err != nil {
		return err
	}
	now := e.now()
	if !loan.Expired(now) {
		return errLoanNotExpired
	}
	return e.commitLiquidationStart(loan, collateralAsset, borrower, now, liquidateReasonExpired)
}

// FinishLiquidate settles a liquidating loan with the proceeds of the
// collateral swap. Any surplus after principal, interest and the borrower
// fee is refunded to the borrower; a shortfall closes the loan at zero and
// is surfaced on the emitted event.
func (e *Engine) FinishLiquidate(
	caller, borrower common.Address,
	offerID string,
	collateralSwappedAmount *big.Int,
	liquidatedPrice *big.Int,
	liquidatedTx string,
) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if collateralSwappedAmount == nil || collateralSwappedAmount.Sign() < 0 {
		return errAmountNotPositive
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return err
	}
	if loan.Status != LoanOfferLiquidating {
		return errInvalidStatus
	}
	refund, remainder := LiquidationRemainder(collateralSwappedAmount, loan.repayParams())
	if refund.Sign() > 0 {
		asset, err := e.lendAsset(loan.LendMint)
		if err != nil {
			return err
		}
		if err := e.custody.Transfer(e.hotWallet, borrower, asset.TokenMint, refund, asset.Decimals); err != nil {
			return err
		}
	}
	if err := transitionLoanOffer(loan, opLoanSettle); err != nil {
		return err
	}
	if liquidatedPrice != nil {
		loan.LiquidatedPrice = new(big.Int).Set(liquidatedPrice)
	}
	loan.LiquidatedTx = liquidatedTx
	if err := e.state.PutLoanOffer(loan); err != nil {
		return err
	}
	e.emit(NewLoanLiquidatedEvent(loan, refund, remainder))
	return nil
}

func (e *Engine) beginLiquidation(caller, borrower common.Address, offerID string) (*LoanOffer, *Asset, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if e.adapter == nil {
		return nil, nil, errNilOracle
	}
	if err := e.requireOperator(caller); err != nil {
		return nil, nil, err
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return nil, nil, err
	}
	if loan.Status != LoanOfferFundTransferred {
		return nil, nil, errInvalidStatus
	}
	asset, err := e.collateralAsset(loan.CollateralMint)
	if err != nil {
		return nil, nil, err
	}
	return loan, asset, nil
}

func (e *Engine) commitLiquidationStart(loan *LoanOffer, collateralAsset *Asset, borrower common.Address, now int64, reason string) error {
	if err := transitionLoanOffer(loan, opLoanStartLiquidate); err != nil {
		return err
	}
	loan.LiquidatingAt = now
	if loan.CollateralAmount.Sign() > 0 {
		if err := e.custody.Transfer(VaultAuthority(borrower), e.hotWallet, collateralAsset.TokenMint, loan.CollateralAmount, collateralAsset.Decimals); err != nil {
			return err
		}
	}
	if err := e.state.PutLoanOffer(loan); err != nil {
		return err
	}
	e.emit(NewLoanLiquidatingEvent(loan, reason))
	return nil
}
