package lend

import (
	"math/big"
	"strconv"
	"strings"

	"ensolend/core/types"
)

const (
	EventTypeLendOfferCreated        = "lend.offer.created"
	EventTypeLendOfferEdited         = "lend.offer.edited"
	EventTypeLendOfferCanceling      = "lend.offer.canceling"
	EventTypeLendOfferCanceled       = "lend.offer.canceled"
	EventTypeLendOfferClosed         = "lend.offer.closed"
	EventTypeLoanOfferMatched        = "lend.loan.matched"
	EventTypeLoanFundTransferred     = "lend.loan.fund_transferred"
	EventTypeCollateralDeposited     = "lend.loan.collateral_deposited"
	EventTypeCollateralWithdrawn     = "lend.loan.collateral_withdrawn"
	EventTypeWithdrawUpdated         = "lend.loan.withdraw_updated"
	EventTypeLoanRepaid              = "lend.loan.repaid"
	EventTypeLoanRepayRequested      = "lend.loan.repay_requested"
	EventTypeLoanRepayConfirmed      = "lend.loan.repay_confirmed"
	EventTypeLoanFinished            = "lend.loan.finished"
	EventTypeLoanLiquidating         = "lend.loan.liquidating"
	EventTypeLoanLiquidated          = "lend.loan.liquidated"
	EventTypeStatusReverted          = "lend.loan.status_reverted"
	EventTypeBridgeMessagePublished  = "lend.bridge.message_published"
	EventTypeLoanOfferCanceledRemote = "lend.loan.canceled_cross_chain"
)

// lendEvent adapts the flat event payload to the events.Emitter contract.
type lendEvent struct {
	evt *types.Event
}

func (e lendEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendEvent) Event() *types.Event { return e.evt }

// NewLendOfferCreatedEvent returns the canonical payload for a freshly
// created lend offer.
func NewLendOfferCreatedEvent(o *LendOffer, tierID string) *types.Event {
	evt := newLendOfferEvent(EventTypeLendOfferCreated, o)
	if strings.TrimSpace(tierID) != "" {
		evt.Attributes["tierId"] = tierID
	}
	return evt
}

// NewLendOfferEditedEvent returns the payload emitted when a lender changes
// the interest on an open offer.
func NewLendOfferEditedEvent(o *LendOffer) *types.Event {
	return newLendOfferEvent(EventTypeLendOfferEdited, o)
}

// NewLendOfferCancelingEvent returns the payload for a cancel request that
// still awaits the refund leg.
func NewLendOfferCancelingEvent(o *LendOffer) *types.Event {
	return newLendOfferEvent(EventTypeLendOfferCanceling, o)
}

// NewLendOfferCanceledEvent returns the payload emitted once the refund has
// been paid back to the lender.
func NewLendOfferCanceledEvent(o *LendOffer, refund *big.Int) *types.Event {
	evt := newLendOfferEvent(EventTypeLendOfferCanceled, o)
	if refund != nil {
		evt.Attributes["refund"] = refund.String()
	}
	return evt
}

// NewLendOfferClosedEvent returns the payload for a canceled offer that has
// been removed from state.
func NewLendOfferClosedEvent(o *LendOffer) *types.Event {
	return newLendOfferEvent(EventTypeLendOfferClosed, o)
}

// NewLoanOfferMatchedEvent returns the payload for a newly matched loan.
func NewLoanOfferMatchedEvent(o *LoanOffer) *types.Event {
	return newLoanOfferEvent(EventTypeLoanOfferMatched, o)
}

// NewLoanOfferFundTransferredEvent returns the payload emitted when the
// borrowed funds have been disbursed.
func NewLoanOfferFundTransferredEvent(o *LoanOffer) *types.Event {
	return newLoanOfferEvent(EventTypeLoanFundTransferred, o)
}

// NewCollateralDepositedEvent returns the payload for a collateral top-up.
func NewCollateralDepositedEvent(o *LoanOffer, amount *big.Int) *types.Event {
	evt := newLoanOfferEvent(EventTypeCollateralDeposited, o)
	if amount != nil {
		evt.Attributes["depositAmount"] = amount.String()
	}
	return evt
}

// NewCollateralWithdrawnEvent returns the payload for a collateral release
// back to the borrower.
func NewCollateralWithdrawnEvent(o *LoanOffer, amount *big.Int) *types.Event {
	evt := newLoanOfferEvent(EventTypeCollateralWithdrawn, o)
	if amount != nil {
		evt.Attributes["withdrawAmount"] = amount.String()
	}
	return evt
}

// NewWithdrawUpdatedEvent returns the payload emitted when a verified
// foreign-chain message updates the tracked collateral balance.
func NewWithdrawUpdatedEvent(o *LoanOffer) *types.Event {
	return newLoanOfferEvent(EventTypeWithdrawUpdated, o)
}

// NewLoanOfferRepaidEvent returns the payload for a same-chain repayment.
func NewLoanOfferRepaidEvent(o *LoanOffer, total *big.Int) *types.Event {
	evt := newLoanOfferEvent(EventTypeLoanRepaid, o)
	if total != nil {
		evt.Attributes["repayAmount"] = total.String()
	}
	return evt
}

// NewLoanRepayRequestedEvent returns the payload for a cross-chain repayment
// that awaits the collateral refund on the foreign chain.
func NewLoanRepayRequestedEvent(o *LoanOffer, total *big.Int) *types.Event {
	evt := newLoanOfferEvent(EventTypeLoanRepayRequested, o)
	if total != nil {
		evt.Attributes["repayAmount"] = total.String()
	}
	return evt
}

// NewLoanRepayConfirmedEvent returns the payload emitted once the collateral
// chain's escrow refund has been confirmed for a repaid loan.
func NewLoanRepayConfirmedEvent(o *LoanOffer) *types.Event {
	return newLoanOfferEvent(EventTypeLoanRepayConfirmed, o)
}

// NewLoanOfferFinishedEvent returns the payload emitted when the lender has
// been paid out and the loan closed.
func NewLoanOfferFinishedEvent(o *LoanOffer, payout *big.Int) *types.Event {
	evt := newLoanOfferEvent(EventTypeLoanFinished, o)
	if payout != nil {
		evt.Attributes["lenderPayout"] = payout.String()
	}
	return evt
}

// NewLoanLiquidatingEvent returns the payload emitted when liquidation
// starts. The reason distinguishes health-ratio from expiry liquidations.
func NewLoanLiquidatingEvent(o *LoanOffer, reason string) *types.Event {
	evt := newLoanOfferEvent(EventTypeLoanLiquidating, o)
	evt.Attributes["reason"] = reason
	return evt
}

// NewLoanLiquidatedEvent returns the payload for a settled liquidation. A
// negative signed remainder is surfaced as a shortfall attribute.
func NewLoanLiquidatedEvent(o *LoanOffer, refund *big.Int, remainder *big.Rat) *types.Event {
	evt := newLoanOfferEvent(EventTypeLoanLiquidated, o)
	if refund != nil {
		evt.Attributes["borrowerRefund"] = refund.String()
	}
	if remainder != nil && remainder.Sign() < 0 {
		evt.Attributes["shortfall"] = new(big.Rat).Neg(remainder).FloatString(6)
	}
	return evt
}

// NewStatusRevertedEvent returns the payload for an administrative status
// override, recording both the previous and the new status.
func NewStatusRevertedEvent(o *LoanOffer, previous LoanOfferStatus) *types.Event {
	evt := newLoanOfferEvent(EventTypeStatusReverted, o)
	evt.Attributes["previousStatus"] = previous.String()
	return evt
}

// NewLoanOfferCanceledRemoteEvent returns the payload emitted when a
// verified foreign-chain cancel releases a matched loan.
func NewLoanOfferCanceledRemoteEvent(o *LoanOffer) *types.Event {
	return newLoanOfferEvent(EventTypeLoanOfferCanceledRemote, o)
}

// NewBridgeMessagePublishedEvent returns the payload recording an outbound
// message and its sequence number.
func NewBridgeMessagePublishedEvent(offerID, function string, chainID uint16, sequence uint64) *types.Event {
	return &types.Event{
		Type: EventTypeBridgeMessagePublished,
		Attributes: map[string]string{
			"offerId":  offerID,
			"function": function,
			"chainId":  strconv.FormatUint(uint64(chainID), 10),
			"sequence": strconv.FormatUint(sequence, 10),
		},
	}
}

func newLendOfferEvent(eventType string, o *LendOffer) *types.Event {
	attrs := make(map[string]string)
	if o == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["offerId"] = o.OfferID
	attrs["lender"] = strings.ToLower(o.Lender.Hex())
	attrs["lendMint"] = o.LendMint
	attrs["amount"] = o.Amount.String()
	attrs["interestBps"] = strconv.FormatUint(o.InterestBps, 10)
	attrs["duration"] = strconv.FormatUint(o.Duration, 10)
	attrs["lenderFeeBps"] = strconv.FormatUint(o.LenderFeeBps, 10)
	attrs["borrowerFeeBps"] = strconv.FormatUint(o.BorrowerFeeBps, 10)
	attrs["status"] = o.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newLoanOfferEvent(eventType string, o *LoanOffer) *types.Event {
	attrs := make(map[string]string)
	if o == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["offerId"] = o.OfferID
	attrs["lendOfferId"] = o.LendOfferID
	attrs["tierId"] = o.TierID
	attrs["borrower"] = strings.ToLower(o.Borrower.Hex())
	attrs["lender"] = strings.ToLower(o.Lender.Hex())
	attrs["lendMint"] = o.LendMint
	attrs["collateralMint"] = o.CollateralMint
	attrs["borrowAmount"] = o.BorrowAmount.String()
	attrs["collateralAmount"] = o.CollateralAmount.String()
	attrs["interestBps"] = strconv.FormatUint(o.InterestBps, 10)
	attrs["duration"] = strconv.FormatUint(o.Duration, 10)
	attrs["startedAt"] = strconv.FormatInt(o.StartedAt, 10)
	attrs["status"] = o.Status.String()
	if o.LiquidatingAt != 0 {
		attrs["liquidatingAt"] = strconv.FormatInt(o.LiquidatingAt, 10)
	}
	if o.LiquidatingPrice != "" {
		attrs["liquidatingPrice"] = o.LiquidatingPrice
	}
	if o.LiquidatedPrice != nil {
		attrs["liquidatedPrice"] = o.LiquidatedPrice.String()
	}
	if o.LiquidatedTx != "" {
		attrs["liquidatedTx"] = o.LiquidatedTx
	}
	if o.RequestWithdrawAmount != nil {
		attrs["requestWithdrawAmount"] = o.RequestWithdrawAmount.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
