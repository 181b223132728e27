package lend

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func healthParams(collateralAsset, lendAsset *Asset, collateralAmount, lendAmount *big.Int) HealthRatioParams {
	return HealthRatioParams{
		CollateralFeedID:   collateralAsset.PriceFeedID,
		CollateralMaxAge:   collateralAsset.MaxPriceAge,
		CollateralAmount:   collateralAmount,
		CollateralDecimals: collateralAsset.Decimals,
		LendFeedID:         lendAsset.PriceFeedID,
		LendMaxAge:         lendAsset.MaxPriceAge,
		LendAmount:         lendAmount,
		LendDecimals:       lendAsset.Decimals,
	}
}

func (o *LoanOffer) repayParams() RepayParams {
	return RepayParams{
		BorrowAmount:   o.BorrowAmount,
		InterestBps:    o.InterestBps,
		BorrowerFeeBps: o.BorrowerFeeBps,
		Duration:       o.Duration,
	}
}

// CreateLoanOffer matches a lend offer on the same chain. The caller passes
// the interest they observed; if the lender edited the offer in the
// meantime the match fails rather than filling at the new rate. The health
// ratio is validated before any collateral moves, so a failed match leaves
// both offers untouched.
func (e *Engine) CreateLoanOffer(
	borrower common.Address,
	offerID, lendOfferID string,
	lender common.Address,
	tierID, collateralMint string,
	collateralAmount *big.Int,
	interestBps uint64,
) (*LoanOffer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.adapter == nil {
		return nil, errNilOracle
	}
	if collateralAmount == nil || collateralAmount.Sign() <= 0 {
		return nil, errAmountNotPositive
	}
	offerID = strings.TrimSpace(offerID)
	if _, ok := e.state.GetLoanOffer(borrower, offerID); ok {
		return nil, errOfferExists
	}
	lendOffer, err := e.loadLendOffer(lender, lendOfferID)
	if err != nil {
		return nil, err
	}
	if lendOffer.Status != LendOfferCreated {
		return nil, errInvalidStatus
	}
	if lendOffer.InterestBps != interestBps {
		return nil, errInterestChanged
	}
	if _, ok := e.state.GetTier(tierID); !ok {
		return nil, errTierNotFound
	}
	lendAsset, err := e.lendAsset(lendOffer.LendMint)
	if err != nil {
		return nil, err
	}
	collateralAsset, err := e.collateralAsset(collateralMint)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if err := ValidateHealthRatio(e.adapter, now,
		healthParams(collateralAsset, lendAsset, collateralAmount, lendOffer.Amount),
		e.minHealthRatioBps,
	); err != nil {
		return nil, err
	}
	// Escrow the collateral only after every precondition held; a failing
	// transfer must not leave a transitioned offer behind.
	vault := VaultAuthority(borrower)
	if err := e.custody.Transfer(borrower, vault, collateralAsset.TokenMint, collateralAmount, collateralAsset.Decimals); err != nil {
		return nil, err
	}
	if err := transitionLendOffer(lendOffer, opLendMatch); err != nil {
		return nil, err
	}
	loan := &LoanOffer{
		OfferID:          offerID,
		LendOfferID:      lendOffer.OfferID,
		TierID:           tierID,
		Borrower:         borrower,
		Lender:           lendOffer.Lender,
		LendMint:         lendOffer.LendMint,
		CollateralMint:   collateralAsset.TokenMint,
		BorrowAmount:     new(big.Int).Set(lendOffer.Amount),
		CollateralAmount: new(big.Int).Set(collateralAmount),
		InterestBps:      lendOffer.InterestBps,
		Duration:         lendOffer.Duration,
		BorrowerFeeBps:   lendOffer.BorrowerFeeBps,
		LenderFeeBps:     lendOffer.LenderFeeBps,
		StartedAt:        now,
		Status:           LoanOfferMatched,
	}
	sanitized, err := SanitizeLoanOffer(loan)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutLendOffer(lendOffer); err != nil {
		return nil, err
	}
	if err := e.state.PutLoanOffer(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewLoanOfferMatchedEvent(sanitized))
	return sanitized.Clone(), nil
}

// SystemUpdateLoanOffer records the off-path disbursement of loan funds,
// fixing the final borrow amount and moving the loan to FundTransferred.
func (e *Engine) SystemUpdateLoanOffer(caller, borrower common.Address, offerID string, borrowAmount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if borrowAmount == nil || borrowAmount.Sign() <= 0 {
		return errAmountNotPositive
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return err
	}
	if err := transitionLoanOffer(loan, opLoanFund); err != nil {
		return err
	}
	loan.BorrowAmount = new(big.Int).Set(borrowAmount)
	if err := e.state.PutLoanOffer(loan); err != nil {
		return err
	}
	e.emit(NewLoanOfferFundTransferredEvent(loan))
	return nil
}

// DepositCollateral adds collateral to an active loan.
func (e *Engine) DepositCollateral(borrower common.Address, offerID string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errAmountNotPositive
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return err
	}
	if loan.Status != LoanOfferMatched && loan.Status != LoanOfferFundTransferred {
		return errInvalidStatus
	}
	asset, err := e.collateralAsset(loan.CollateralMint)
	if err != nil {
		return err
	}
	if err := e.custody.Transfer(borrower, VaultAuthority(borrower), asset.TokenMint, amount, asset.Decimals); err != nil {
		return err
	}
	loan.CollateralAmount = new(big.Int).Add(loan.CollateralAmount, amount)
	if err := e.state.PutLoanOffer(loan); err != nil {
		return err
	}
	e.emit(NewCollateralDepositedEvent(loan, amount))
	return nil
}

// WithdrawCollateral releases collateral back to the borrower while the
// remaining position stays above the health floor and the loan has not
// expired.
func (e *Engine) WithdrawCollateral(borrower common.Address, offerID string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.adapter == nil {
		return errNilOracle
	}
	if amount == nil || amount.Sign() <= 0 {
		return errAmountNotPositive
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return err
	}
	if loan.Status != LoanOfferFundTransferred {
		return errInvalidStatus
	}
	if amount.Cmp(loan.CollateralAmount) > 0 {
		return errNotEnoughCollateral
	}
	lendAsset, err := e.lendAsset(loan.LendMint)
	if err != nil {
		return err
	}
	collateralAsset, err := e.collateralAsset(loan.CollateralMint)
	if err != nil {
		return err
	}
	now := e.now()
	remaining := new(big.Int).Sub(loan.CollateralAmount, amount)
	if err := ValidateHealthRatio(e.adapter, now,
		healthParams(collateralAsset, lendAsset, remaining, loan.BorrowAmount),
		e.minHealthRatioBps,
	); err != nil {
		return err
	}
	// Withdrawal stays open through the exact end second; only after it
	// does the expiry guard trip.
	if now > loan.EndedAt() {
		return errLoanExpired
	}
	if err := e.custody.Transfer(VaultAuthority(borrower), borrower, collateralAsset.TokenMint, amount, collateralAsset.Decimals); err != nil {
		return err
	}
	loan.CollateralAmount = remaining
	if err := e.state.PutLoanOffer(loan); err != nil {
		return err
	}
	e.emit(NewCollateralWithdrawnEvent(loan, amount))
	return nil
}

// RepayLoanOffer settles a loan on the same chain: the borrower pays
// principal, pro-rated interest and the borrower fee into the hot wallet and
// the escrowed collateral is released in full.
func (e *Engine) RepayLoanOffer(borrower common.Address, offerID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return err
	}
	if err := transitionLoanOffer(loan, opLoanRepay); err != nil {
		return err
	}
	lendAsset, err := e.lendAsset(loan.LendMint)
	if err != nil {
		return err
	}
	collateralAsset, err := e.collateralAsset(loan.CollateralMint)
	if err != nil {
		return err
	}
	total := TotalRepayLoanAmount(loan.repayParams())
	if err := e.custody.Transfer(borrower, e.hotWallet, lendAsset.TokenMint, total, lendAsset.Decimals); err != nil {
		return err
	}
	if loan.CollateralAmount.Sign() > 0 {
		if err := e.custody.Transfer(VaultAuthority(borrower), borrower, collateralAsset.TokenMint, loan.CollateralAmount, collateralAsset.Decimals); err != nil {
			return err
		}
	}
	if err := e.state.PutLoanOffer(loan); err != nil {
		return err
	}
	e.emit(NewLoanOfferRepaidEvent(loan, total))
	return nil
}

// SystemFinishLoanOffer pays the lender out of the hot wallet after a repaid
// loan settles and closes the loan.
func (e *Engine) SystemFinishLoanOffer(caller, borrower common.Address, offerID string, loanAmount, interestAmount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if loanAmount == nil || loanAmount.Sign() <= 0 {
		return errAmountNotPositive
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return err
	}
	if err := transitionLoanOffer(loan, opLoanFinish); err != nil {
		return err
	}
	asset, err := e.lendAsset(loan.LendMint)
	if err != nil {
		return err
	}
	payout := new(big.Int).Set(loanAmount)
	if interestAmount != nil && interestAmount.Sign() > 0 {
		payout.Add(payout, interestAmount)
	}
	if err := e.custody.Transfer(e.hotWallet, loan.Lender, asset.TokenMint, payout, asset.Decimals); err != nil {
		return err
	}
	if err := e.state.PutLoanOffer(loan); err != nil {
		return err
	}
	e.emit(NewLoanOfferFinishedEvent(loan, payout))
	return nil
}

// SystemRevertStatus is the audited administrative override for stuck
// offers. It bypasses the transition tables on purpose; the emitted event
// records both the before and after status for forensics.
func (e *Engine) SystemRevertStatus(caller, borrower common.Address, offerID string, status LoanOfferStatus) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if !status.Valid() {
		return errInvalidStatus
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return err
	}
	previous := loan.Status
	loan.Status = status
	if err := e.state.PutLoanOffer(loan); err != nil {
		return err
	}
	e.emit(NewStatusRevertedEvent(loan, previous))
	return nil
}
