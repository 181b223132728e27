package lend

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"ensolend/native/bridge"
)

func (e *Engine) foreignChainFor(asset *Asset) (*bridge.ForeignChain, error) {
	if asset.ChainID == 0 {
		return nil, errChainNotFound
	}
	chain, ok := e.state.GetForeignChain(asset.ChainID)
	if !ok {
		return nil, errChainNotFound
	}
	return chain, nil
}

func matchesBorrower(field string, borrower common.Address) bool {
	return strings.EqualFold(strings.TrimSpace(field), borrower.Hex())
}

// CreateLoanOfferCrossChain matches a lend offer against collateral locked
// on a foreign chain. The posted message must come from the registered
// emitter for the collateral's chain and be fresher than the posted
// timestamp threshold; every field the foreign side committed to is checked
// against local state before the offer transitions. No collateral moves
// here, the foreign chain keeps custody.
func (e *Engine) CreateLoanOfferCrossChain(
	borrower common.Address,
	offerID, lendOfferID string,
	lender common.Address,
	collateralMint string,
	posted *bridge.PostedMessage,
) (*LoanOffer, error) {
	if err := e.ready(); err != nil {
		return nil, err
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
	collateralAsset, err := e.collateralAsset(collateralMint)
	if err != nil {
		return nil, err
	}
	chain, err := e.foreignChainFor(collateralAsset)
	if err != nil {
		return nil, err
	}
	if err := bridge.VerifyEmitter(posted, chain); err != nil {
		return nil, err
	}
	now := e.now()
	if err := bridge.VerifyFreshness(posted, now, e.postedThreshold); err != nil {
		return nil, err
	}
	payload, err := e.codec.DecodeCreateLoan(posted.Payload)
	if err != nil {
		return nil, err
	}
	if err := bridge.RequireFunction(payload.TargetFunction, bridge.FunctionCreateLoanOffer); err != nil {
		return nil, err
	}
	if payload.LendOfferID != lendOffer.OfferID {
		return nil, errOfferIDMismatch
	}
	if payload.LendAmount == nil || payload.LendAmount.Cmp(lendOffer.Amount) < 0 {
		return nil, errLendAmountTooLow
	}
	if _, ok := e.state.GetTier(payload.TierID); !ok {
		return nil, errTierMismatch
	}
	if !matchesBorrower(payload.BorrowerAddress, borrower) {
		return nil, errBorrowerMismatch
	}
	if !strings.EqualFold(strings.TrimSpace(payload.CollateralAddress), collateralAsset.TokenAddress) {
		return nil, errCollateralMismatch
	}
	if err := transitionLendOffer(lendOffer, opLendMatch); err != nil {
		return nil, err
	}
	loan := &LoanOffer{
		OfferID:          offerID,
		LendOfferID:      lendOffer.OfferID,
		TierID:           payload.TierID,
		Borrower:         borrower,
		Lender:           lendOffer.Lender,
		LendMint:         lendOffer.LendMint,
		CollateralMint:   collateralAsset.TokenMint,
		BorrowAmount:     new(big.Int).Set(lendOffer.Amount),
		CollateralAmount: new(big.Int).Set(payload.CollateralAmount),
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

// UpdateWithdrawCollateralCrossChain applies a collateral withdrawal that
// already happened on the collateral chain to the locally tracked loan.
func (e *Engine) UpdateWithdrawCollateralCrossChain(borrower common.Address, offerID string, posted *bridge.PostedMessage) error {
	if err := e.ready(); err != nil {
		return err
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return err
	}
	if loan.Status != LoanOfferMatched && loan.Status != LoanOfferFundTransferred {
		return errInvalidStatus
	}
	collateralAsset, err := e.collateralAsset(loan.CollateralMint)
	if err != nil {
		return err
	}
	chain, err := e.foreignChainFor(collateralAsset)
	if err != nil {
		return err
	}
	if err := bridge.VerifyEmitter(posted, chain); err != nil {
		return err
	}
	payload, err := e.codec.DecodeWithdrawUpdate(posted.Payload)
	if err != nil {
		return err
	}
	if err := bridge.RequireFunction(payload.TargetFunction, bridge.FunctionUpdateWithdrawCollateral); err != nil {
		return err
	}
	if payload.LoanOfferID != loan.OfferID {
		return errOfferIDMismatch
	}
	if !matchesBorrower(payload.BorrowerAddress, borrower) {
		return errBorrowerMismatch
	}
	if !strings.EqualFold(strings.TrimSpace(payload.CollateralAddress), collateralAsset.TokenAddress) {
		return errCollateralMismatch
	}
	if payload.RemainingCollateral == nil || payload.RemainingCollateral.Sign() < 0 {
		return errAmountNotPositive
	}
	loan.CollateralAmount = new(big.Int).Set(payload.RemainingCollateral)
	if payload.WithdrawAmount != nil {
		loan.RequestWithdrawAmount = new(big.Int).Set(payload.WithdrawAmount)
	}
	if err := e.state.PutLoanOffer(loan); err != nil {
		return err
	}
	e.emit(NewWithdrawUpdatedEvent(loan))
	return nil
}

// CancelLoanOfferCrossChain cancels a collateral-side offer that never
// matched locally. The borrower proves the pending collateral with the
// original creation message; the engine publishes a cancel so the foreign
// chain releases the escrow. No local offer transitions.
func (e *Engine) CancelLoanOfferCrossChain(borrower common.Address, loanOfferID, collateralMint string, posted *bridge.PostedMessage) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if e.bridge == nil {
		return 0, errNilBridge
	}
	loanOfferID = strings.TrimSpace(loanOfferID)
	if _, ok := e.state.GetLoanOffer(borrower, loanOfferID); ok {
		return 0, errOfferExists
	}
	collateralAsset, err := e.collateralAsset(collateralMint)
	if err != nil {
		return 0, err
	}
	chain, err := e.foreignChainFor(collateralAsset)
	if err != nil {
		return 0, err
	}
	if err := bridge.VerifyEmitter(posted, chain); err != nil {
		return 0, err
	}
	payload, err := e.codec.DecodeCollateralCreate(posted.Payload)
	if err != nil {
		return 0, err
	}
	if err := bridge.RequireFunction(payload.TargetFunction, bridge.FunctionCreateLoanOffer); err != nil {
		return 0, err
	}
	if !matchesBorrower(payload.BorrowerAddress, borrower) {
		return 0, errBorrowerMismatch
	}
	if !strings.EqualFold(strings.TrimSpace(payload.CollateralAddress), collateralAsset.TokenAddress) {
		return 0, errCollateralMismatch
	}
	raw, err := e.codec.EncodeCancel(bridge.CancelPayload{
		TargetChain:     chain.ChainID,
		TargetAddress:   chain.ChainAddress,
		TargetFunction:  bridge.FunctionCancelCollateral,
		OfferID:         loanOfferID,
		BorrowerAddress: strings.ToLower(borrower.Hex()),
	})
	if err != nil {
		return 0, err
	}
	sequence, err := e.bridge.Publish(borrower, raw)
	if err != nil {
		return 0, err
	}
	e.emit(NewBridgeMessagePublishedEvent(loanOfferID, bridge.FunctionCancelCollateral, chain.ChainID, sequence))
	return sequence, nil
}

// RequestCancelLoanedCrossChain publishes a cancel request for a matched
// cross-chain loan so the collateral chain can release the borrower's
// escrow. The loan stays matched until the confirmation message arrives.
func (e *Engine) RequestCancelLoanedCrossChain(borrower common.Address, offerID string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if e.bridge == nil {
		return 0, errNilBridge
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return 0, err
	}
	if loan.Status != LoanOfferMatched {
		return 0, errInvalidStatus
	}
	collateralAsset, err := e.collateralAsset(loan.CollateralMint)
	if err != nil {
		return 0, err
	}
	chain, err := e.foreignChainFor(collateralAsset)
	if err != nil {
		return 0, err
	}
	raw, err := e.codec.EncodeCancel(bridge.CancelPayload{
		TargetChain:     chain.ChainID,
		TargetAddress:   chain.ChainAddress,
		TargetFunction:  bridge.FunctionCancelCollateral,
		OfferID:         loan.OfferID,
		BorrowerAddress: strings.ToLower(borrower.Hex()),
	})
	if err != nil {
		return 0, err
	}
	sequence, err := e.bridge.Publish(borrower, raw)
	if err != nil {
		return 0, err
	}
	e.emit(NewBridgeMessagePublishedEvent(loan.OfferID, bridge.FunctionCancelCollateral, chain.ChainID, sequence))
	return sequence, nil
}

// CancelLoanedOfferCrossChain consumes the collateral chain's confirmation
// that the escrow was released, reopening the lend offer and dropping the
// matched loan.
func (e *Engine) CancelLoanedOfferCrossChain(borrower common.Address, offerID string, posted *bridge.PostedMessage) error {
	if err := e.ready(); err != nil {
		return err
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return err
	}
	if loan.Status != LoanOfferMatched {
		return errInvalidStatus
	}
	collateralAsset, err := e.collateralAsset(loan.CollateralMint)
	if err != nil {
		return err
	}
	chain, err := e.foreignChainFor(collateralAsset)
	if err != nil {
		return err
	}
	if err := bridge.VerifyEmitter(posted, chain); err != nil {
		return err
	}
	payload, err := e.codec.DecodeCancel(posted.Payload)
	if err != nil {
		return err
	}
	if err := bridge.RequireFunction(payload.TargetFunction, bridge.FunctionCancelCollateral); err != nil {
		return err
	}
	if payload.OfferID != loan.OfferID {
		return errOfferIDMismatch
	}
	if !matchesBorrower(payload.BorrowerAddress, borrower) {
		return errBorrowerMismatch
	}
	lendOffer, err := e.loadLendOffer(loan.Lender, loan.LendOfferID)
	if err != nil {
		return err
	}
	if err := transitionLendOffer(lendOffer, opLendReopen); err != nil {
		return err
	}
	if err := e.state.PutLendOffer(lendOffer); err != nil {
		return err
	}
	if err := e.state.DeleteLoanOffer(borrower, loan.OfferID); err != nil {
		return err
	}
	e.emit(NewLoanOfferCanceledRemoteEvent(loan))
	return nil
}

// RepayLoanOfferCrossChain collects the borrower's repayment locally and
// asks the collateral chain to refund the escrow. The loan parks in Repay
// until the operator confirms the refund and finishes it.
func (e *Engine) RepayLoanOfferCrossChain(borrower common.Address, offerID string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if e.bridge == nil {
		return 0, errNilBridge
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return 0, err
	}
	if err := transitionLoanOffer(loan, opLoanRepayCrossChain); err != nil {
		return 0, err
	}
	lendAsset, err := e.lendAsset(loan.LendMint)
	if err != nil {
		return 0, err
	}
	collateralAsset, err := e.collateralAsset(loan.CollateralMint)
	if err != nil {
		return 0, err
	}
	chain, err := e.foreignChainFor(collateralAsset)
	if err != nil {
		return 0, err
	}
	total := TotalRepayLoanAmount(loan.repayParams())
	if err := e.custody.Transfer(borrower, e.hotWallet, lendAsset.TokenMint, total, lendAsset.Decimals); err != nil {
		return 0, err
	}
	raw, err := e.codec.EncodeCancel(bridge.CancelPayload{
		TargetChain:     chain.ChainID,
		TargetAddress:   chain.ChainAddress,
		TargetFunction:  bridge.FunctionRefundCollateral,
		OfferID:         loan.LendOfferID,
		BorrowerAddress: strings.ToLower(borrower.Hex()),
	})
	if err != nil {
		return 0, err
	}
	sequence, err := e.bridge.Publish(borrower, raw)
	if err != nil {
		return 0, err
	}
	if err := e.state.PutLoanOffer(loan); err != nil {
		return 0, err
	}
	e.emit(NewLoanRepayRequestedEvent(loan, total))
	e.emit(NewBridgeMessagePublishedEvent(loan.OfferID, bridge.FunctionRefundCollateral, chain.ChainID, sequence))
	return sequence, nil
}

// SystemConfirmRepayCrossChain records that the collateral chain refunded
// the borrower's escrow after a cross-chain repayment, moving the loan to
// BorrowerPaid so SystemFinishLoanOffer can close it.
func (e *Engine) SystemConfirmRepayCrossChain(caller, borrower common.Address, offerID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	loan, err := e.loadLoanOffer(borrower, offerID)
	if err != nil {
		return err
	}
	if err := transitionLoanOffer(loan, opLoanRepayConfirm); err != nil {
		return err
	}
	if err := e.state.PutLoanOffer(loan); err != nil {
		return err
	}
	e.emit(NewLoanRepayConfirmedEvent(loan))
	return nil
}

// StartLiquidateHealthCrossChain starts a health liquidation for a loan
// whose collateral sits on a foreign chain. Instead of moving escrow it
// publishes a liquidation message carrying the price that triggered it.
func (e *Engine) StartLiquidateHealthCrossChain(caller, borrower common.Address, offerID string) (uint64, error) {
	loan, collateralAsset, err := e.beginLiquidation(caller, borrower, offerID)
	if err != nil {
		return 0, err
	}
	if e.bridge == nil {
		return 0, errNilBridge
	}
	lendAsset, err := e.lendAsset(loan.LendMint)
	if err != nil {
		return 0, err
	}
	now := e.now()
	ratio, collateralPrice, _, err := HealthRatioAndPrices(e.adapter, now,
		healthParams(collateralAsset, lendAsset, loan.CollateralAmount, loan.BorrowAmount))
	if err != nil {
		return 0, err
	}
	if !belowFloor(ratio, e.minHealthRatioBps) {
		return 0, errNotLiquidatable
	}
	loan.LiquidatingPrice = collateralPrice.FloatString(liquidatingPriceDigits)
	return e.publishLiquidation(loan, collateralAsset, borrower, now, bridge.FunctionStartLiquidateHealth, liquidateReasonHealth)
}

// StartLiquidateExpiredCrossChain starts an expiry liquidation for a
// cross-chain loan; the published payload omits the price field.
func (e *Engine) StartLiquidateExpiredCrossChain(caller, borrower common.Address, offerID string) (uint64, error) {
	loan, collateralAsset, err := e.beginLiquidation(caller, borrower, offerID)
	if err != nil {
		return 0, err
	}
	if e.bridge == nil {
		return 0, errNilBridge
	}
	now := e.now()
	if !loan.Expired(now) {
		return 0, errLoanNotExpired
	}
	return e.publishLiquidation(loan, collateralAsset, borrower, now, bridge.FunctionStartLiquidateExpired, liquidateReasonExpired)
}

func (e *Engine) publishLiquidation(loan *LoanOffer, collateralAsset *Asset, borrower common.Address, now int64, function, reason string) (uint64, error) {
	chain, err := e.foreignChainFor(collateralAsset)
	if err != nil {
		return 0, err
	}
	if err := transitionLoanOffer(loan, opLoanStartLiquidate); err != nil {
		return 0, err
	}
	loan.LiquidatingAt = now
	raw, err := e.codec.EncodeLiquidate(bridge.LiquidatePayload{
		TargetChain:      chain.ChainID,
		ChainAddress:     chain.ChainAddress,
		TargetFunction:   function,
		LendOfferID:      loan.LendOfferID,
		BorrowerAddress:  strings.ToLower(borrower.Hex()),
		LiquidatingPrice: loan.LiquidatingPrice,
		LiquidatingAt:    now,
	})
	if err != nil {
		return 0, err
	}
	sequence, err := e.bridge.Publish(e.operator, raw)
	if err != nil {
		return 0, err
	}
	if err := e.state.PutLoanOffer(loan); err != nil {
		return 0, err
	}
	e.emit(NewLoanLiquidatingEvent(loan, reason))
	e.emit(NewBridgeMessagePublishedEvent(loan.OfferID, function, chain.ChainID, sequence))
	return sequence, nil
}
