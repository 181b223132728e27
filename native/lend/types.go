package lend

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// LendOfferStatus tracks the lifecycle of a posted lend offer.
type LendOfferStatus uint8

const (
	LendOfferCreated LendOfferStatus = iota
	LendOfferCanceling
	LendOfferCanceled
	LendOfferLoaned
)

// LoanOfferStatus tracks the lifecycle of a matched loan.
type LoanOfferStatus uint8

const (
	LoanOfferMatched LoanOfferStatus = iota
	LoanOfferFundTransferred
	LoanOfferRepay
	LoanOfferBorrowerPaid
	LoanOfferLiquidating
	LoanOfferLiquidated
	LoanOfferFinished
)

// Valid reports whether the status value is within the supported range.
func (s LendOfferStatus) Valid() bool {
	switch s {
	case LendOfferCreated, LendOfferCanceling, LendOfferCanceled, LendOfferLoaned:
		return true
	default:
		return false
	}
}

func (s LendOfferStatus) String() string {
	switch s {
	case LendOfferCreated:
		return "created"
	case LendOfferCanceling:
		return "canceling"
	case LendOfferCanceled:
		return "canceled"
	case LendOfferLoaned:
		return "loaned"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s LoanOfferStatus) Valid() bool {
	switch s {
	case LoanOfferMatched, LoanOfferFundTransferred, LoanOfferRepay, LoanOfferBorrowerPaid,
		LoanOfferLiquidating, LoanOfferLiquidated, LoanOfferFinished:
		return true
	default:
		return false
	}
}

func (s LoanOfferStatus) String() string {
	switch s {
	case LoanOfferMatched:
		return "matched"
	case LoanOfferFundTransferred:
		return "fund_transferred"
	case LoanOfferRepay:
		return "repay"
	case LoanOfferBorrowerPaid:
		return "borrower_paid"
	case LoanOfferLiquidating:
		return "liquidating"
	case LoanOfferLiquidated:
		return "liquidated"
	case LoanOfferFinished:
		return "finished"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition can leave the status.
func (s LoanOfferStatus) Terminal() bool {
	return s == LoanOfferLiquidated || s == LoanOfferFinished
}

// MaxInterestBps bounds offer interest: valid values are strictly between
// zero and 200%.
const MaxInterestBps uint64 = 20_000

// LendOffer is a lender's posted willingness to lend Amount of LendMint at
// InterestBps for Duration seconds. Amount, duration and fee percents are
// copied from the tier at creation; once Loaned, interest and amount are
// frozen.
type LendOffer struct {
	OfferID        string
	Lender         common.Address
	LendMint       string
	Amount         *big.Int
	InterestBps    uint64
	Duration       uint64
	LenderFeeBps   uint64
	BorrowerFeeBps uint64
	Status         LendOfferStatus
}

// Clone returns a deep copy so callers can stage mutations without touching
// the stored instance.
func (o *LendOffer) Clone() *LendOffer {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Amount != nil {
		clone.Amount = new(big.Int).Set(o.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// LoanOffer is the borrower side of a matched lend offer. At most one loan
// offer ever matches a given lend offer.
type LoanOffer struct {
	OfferID          string
	LendOfferID      string
	TierID           string
	Borrower         common.Address
	Lender           common.Address
	LendMint         string
	CollateralMint   string
	BorrowAmount     *big.Int
	CollateralAmount *big.Int
	InterestBps      uint64
	Duration         uint64
	BorrowerFeeBps   uint64
	LenderFeeBps     uint64
	StartedAt        int64
	Status           LoanOfferStatus

	// Liquidation bookkeeping, set once the respective trigger fires.
	LiquidatingAt    int64
	LiquidatingPrice string
	LiquidatedPrice  *big.Int
	LiquidatedTx     string

	// RequestWithdrawAmount mirrors an in-flight collateral withdrawal on
	// the collateral chain.
	RequestWithdrawAmount *big.Int
}

// Clone returns a deep copy of the loan offer.
func (o *LoanOffer) Clone() *LoanOffer {
	if o == nil {
		return nil
	}
	clone := *o
	if o.BorrowAmount != nil {
		clone.BorrowAmount = new(big.Int).Set(o.BorrowAmount)
	} else {
		clone.BorrowAmount = big.NewInt(0)
	}
	if o.CollateralAmount != nil {
		clone.CollateralAmount = new(big.Int).Set(o.CollateralAmount)
	} else {
		clone.CollateralAmount = big.NewInt(0)
	}
	if o.LiquidatedPrice != nil {
		clone.LiquidatedPrice = new(big.Int).Set(o.LiquidatedPrice)
	}
	if o.RequestWithdrawAmount != nil {
		clone.RequestWithdrawAmount = new(big.Int).Set(o.RequestWithdrawAmount)
	}
	return &clone
}

// EndedAt returns the ledger time at which the loan term elapses.
func (o *LoanOffer) EndedAt() int64 {
	if o == nil {
		return 0
	}
	return o.StartedAt + int64(o.Duration)
}

// Expired reports whether the loan term has elapsed at ledger time now.
// Expiry liquidation may already fire at the exact end second; collateral
// withdrawal checks EndedAt with a strict comparison instead.
func (o *LoanOffer) Expired(now int64) bool {
	if o == nil {
		return false
	}
	return now >= o.EndedAt()
}

// Asset is owner-managed reference data describing a supported token:
// custody mint, oracle feed binding and, for cross-chain collateral, the
// token's registered address on its home chain. Read-only to the engine.
type Asset struct {
	Name         string
	TokenMint    string
	Decimals     uint8
	IsLend       bool
	IsCollateral bool
	PriceFeedID  string
	MaxPriceAge  uint64
	ChainID      uint16
	TokenAddress string
}

// Tier is the configuration bundle lend offers are created against.
type Tier struct {
	TierID         string
	Amount         *big.Int
	Duration       uint64
	LenderFeeBps   uint64
	BorrowerFeeBps uint64
}

// Clone returns a deep copy of the tier.
func (t *Tier) Clone() *Tier {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Amount != nil {
		clone.Amount = new(big.Int).Set(t.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// ValidateInterestBps enforces the protocol interest bounds.
func ValidateInterestBps(bps uint64) error {
	if bps == 0 {
		return errInterestNotPositive
	}
	if bps >= MaxInterestBps {
		return errInterestOverLimit
	}
	return nil
}

// SanitizeLendOffer validates and normalises a lend offer definition,
// returning a clone with a non-nil amount. The original value is not
// mutated.
func SanitizeLendOffer(o *LendOffer) (*LendOffer, error) {
	if o == nil {
		return nil, fmt.Errorf("lend: nil lend offer")
	}
	clone := o.Clone()
	clone.OfferID = strings.TrimSpace(clone.OfferID)
	if clone.OfferID == "" {
		return nil, fmt.Errorf("lend: empty offer id")
	}
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("lend: offer amount must be positive")
	}
	if err := ValidateInterestBps(clone.InterestBps); err != nil {
		return nil, err
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("lend: invalid lend offer status: %d", clone.Status)
	}
	return clone, nil
}

// SanitizeLoanOffer validates and normalises a loan offer definition.
func SanitizeLoanOffer(o *LoanOffer) (*LoanOffer, error) {
	if o == nil {
		return nil, fmt.Errorf("lend: nil loan offer")
	}
	clone := o.Clone()
	clone.OfferID = strings.TrimSpace(clone.OfferID)
	if clone.OfferID == "" {
		return nil, fmt.Errorf("lend: empty offer id")
	}
	if clone.LendOfferID == "" {
		return nil, fmt.Errorf("lend: empty lend offer back-reference")
	}
	if clone.BorrowAmount.Sign() <= 0 {
		return nil, fmt.Errorf("lend: borrow amount must be positive")
	}
	if clone.CollateralAmount.Sign() < 0 {
		return nil, fmt.Errorf("lend: collateral amount must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("lend: invalid loan offer status: %d", clone.Status)
	}
	return clone, nil
}
