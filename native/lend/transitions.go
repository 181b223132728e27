package lend

import "fmt"

// Status transitions are declared as explicit tables keyed by operation so a
// handler never encodes its own reachable-state logic; anything absent from
// the table is a rejection. SystemRevertStatus deliberately bypasses these
// tables as the audited administrative override.

type lendOfferOp string

const (
	opLendMatch         lendOfferOp = "match"
	opLendCancel        lendOfferOp = "cancel"
	opLendConfirmCancel lendOfferOp = "confirm_cancel"
	opLendReopen        lendOfferOp = "reopen"
)

type loanOfferOp string

const (
	opLoanFund            loanOfferOp = "fund_transferred"
	opLoanRepay           loanOfferOp = "repay"
	opLoanRepayCrossChain loanOfferOp = "repay_cross_chain"
	opLoanRepayConfirm    loanOfferOp = "repay_confirm"
	opLoanStartLiquidate  loanOfferOp = "start_liquidate"
	opLoanSettle          loanOfferOp = "settle_liquidate"
	opLoanFinish          loanOfferOp = "finish"
)

var lendOfferTransitions = map[lendOfferOp]map[LendOfferStatus]LendOfferStatus{
	opLendMatch:         {LendOfferCreated: LendOfferLoaned},
	opLendCancel:        {LendOfferCreated: LendOfferCanceling},
	opLendConfirmCancel: {LendOfferCanceling: LendOfferCanceled},
	// reopen reverses a cross-chain match whose collateral side was
	// canceled before funds moved.
	opLendReopen: {LendOfferLoaned: LendOfferCreated},
}

var loanOfferTransitions = map[loanOfferOp]map[LoanOfferStatus]LoanOfferStatus{
	opLoanFund:            {LoanOfferMatched: LoanOfferFundTransferred},
	opLoanRepay:           {LoanOfferFundTransferred: LoanOfferBorrowerPaid},
	opLoanRepayCrossChain: {LoanOfferFundTransferred: LoanOfferRepay},
	opLoanRepayConfirm:    {LoanOfferRepay: LoanOfferBorrowerPaid},
	opLoanStartLiquidate:  {LoanOfferFundTransferred: LoanOfferLiquidating},
	opLoanSettle:          {LoanOfferLiquidating: LoanOfferLiquidated},
	opLoanFinish:          {LoanOfferBorrowerPaid: LoanOfferFinished},
}

func transitionLendOffer(offer *LendOffer, op lendOfferOp) error {
	if offer == nil {
		return fmt.Errorf("lend: nil lend offer")
	}
	next, ok := lendOfferTransitions[op][offer.Status]
	if !ok {
		return fmt.Errorf("%w: lend offer %s cannot %s in status %s", errInvalidStatus, offer.OfferID, op, offer.Status)
	}
	offer.Status = next
	return nil
}

func transitionLoanOffer(offer *LoanOffer, op loanOfferOp) error {
	if offer == nil {
		return fmt.Errorf("lend: nil loan offer")
	}
	next, ok := loanOfferTransitions[op][offer.Status]
	if !ok {
		return fmt.Errorf("%w: loan offer %s cannot %s in status %s", errInvalidStatus, offer.OfferID, op, offer.Status)
	}
	offer.Status = next
	return nil
}
