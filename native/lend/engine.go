package lend

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"ensolend/core/events"
	"ensolend/core/types"
	"ensolend/native/bridge"
	nativecommon "ensolend/native/common"
	"ensolend/native/oracle"
)

var (
	errNilState            = errors.New("lend engine: state not configured")
	errNilCustody          = errors.New("lend engine: token custody not configured")
	errNilOracle           = errors.New("lend engine: price oracle not configured")
	errNilBridge           = errors.New("lend engine: bridge client not configured")
	errNotOperator         = errors.New("lend engine: caller is not the system operator")
	errUnauthorized        = errors.New("lend engine: caller does not own the offer")
	errOfferExists         = errors.New("lend engine: offer id already exists")
	errOfferNotFound       = errors.New("lend engine: lend offer not found")
	errLoanNotFound        = errors.New("lend engine: loan offer not found")
	errAssetNotFound       = errors.New("lend engine: asset not registered")
	errTierNotFound        = errors.New("lend engine: tier not registered")
	errChainNotFound       = errors.New("lend engine: foreign chain not registered")
	errInvalidStatus       = errors.New("lend engine: invalid offer status")
	errInterestNotPositive = errors.New("lend engine: interest must be greater than zero")
	errInterestOverLimit   = errors.New("lend engine: interest over limit")
	errInterestChanged     = errors.New("lend engine: lend offer interest changed")
	errHealthRatioInvalid  = errors.New("lend engine: health ratio below minimum")
	errNotLiquidatable     = errors.New("lend engine: loan not eligible for liquidation")
	errNotEnoughCollateral = errors.New("lend engine: not enough collateral")
	errLoanExpired         = errors.New("lend engine: loan offer expired")
	errLoanNotExpired      = errors.New("lend engine: loan offer not expired")
	errAmountNotPositive   = errors.New("lend engine: amount must be positive")
	errNotLendAsset        = errors.New("lend engine: asset is not lendable")
	errNotCollateralAsset  = errors.New("lend engine: asset is not collateral")
	errOfferIDMismatch     = errors.New("lend engine: offer id does not match message")
	errTierMismatch        = errors.New("lend engine: tier id does not match message")
	errBorrowerMismatch    = errors.New("lend engine: borrower does not match message")
	errCollateralMismatch  = errors.New("lend engine: collateral address does not match registration")
	errLendAmountTooLow    = errors.New("lend engine: message lend amount below offer amount")
)

const moduleName = "lend"

const vaultAuthoritySeed = "vault_authority_loan_offer"

// engineState is the ledger-provided persistence surface. The enclosing
// runtime supplies transactional atomicity and exclusive locking on mutable
// records; the engine only stages clones and persists after validation.
type engineState interface {
	GetLendOffer(lender common.Address, offerID string) (*LendOffer, bool)
	PutLendOffer(offer *LendOffer) error
	DeleteLendOffer(lender common.Address, offerID string) error
	GetLoanOffer(borrower common.Address, offerID string) (*LoanOffer, bool)
	PutLoanOffer(offer *LoanOffer) error
	DeleteLoanOffer(borrower common.Address, offerID string) error
	GetAsset(mint string) (*Asset, bool)
	GetTier(tierID string) (*Tier, bool)
	GetForeignChain(chainID uint16) (*bridge.ForeignChain, bool)
}

// TokenCustody moves tokens between accounts. It fails when the balance is
// insufficient or the mint mismatched; all collateral and lend-asset
// movement goes through it.
type TokenCustody interface {
	Transfer(from, to common.Address, mint string, amount *big.Int, decimals uint8) error
}

// Engine owns the offer lifecycle state machines and the financial checks
// around them. Every exported method is one atomic instruction: either all
// of its mutations and fund movements commit, or none do.
type Engine struct {
	state   engineState
	custody TokenCustody
	adapter *oracle.Adapter
	bridge  *bridge.Client
	codec   bridge.Codec
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64

	operator          common.Address
	hotWallet         common.Address
	minHealthRatioBps uint64
	postedThreshold   uint32
}

// NewEngine constructs a lending engine bound to the injected operator
// identity and liquidation hot wallet. The operator is configuration, never
// a compiled-in literal.
func NewEngine(operator, hotWallet common.Address, minHealthRatioBps uint64) *Engine {
	return &Engine{
		emitter:           events.NoopEmitter{},
		nowFn:             func() int64 { return time.Now().Unix() },
		operator:          operator,
		hotWallet:         hotWallet,
		minHealthRatioBps: minHealthRatioBps,
		postedThreshold:   bridge.PostedTimestampThreshold,
		codec:             bridge.DefaultCodec,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody wires the token custody collaborator.
func (e *Engine) SetCustody(custody TokenCustody) { e.custody = custody }

// SetOracle wires the price oracle adapter used for health checks.
func (e *Engine) SetOracle(adapter *oracle.Adapter) { e.adapter = adapter }

// SetBridge wires the outbound bridge client used by cross-chain flows.
func (e *Engine) SetBridge(client *bridge.Client) { e.bridge = client }

// SetCodec overrides the payload codec. Defaults to the current wire version.
func (e *Engine) SetCodec(codec bridge.Codec) {
	if e == nil || codec == nil {
		return
	}
	e.codec = codec
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the ledger time source, primarily for deterministic
// tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPostedThreshold overrides the inbound creation-message freshness bound.
func (e *Engine) SetPostedThreshold(seconds uint32) {
	if e == nil {
		return
	}
	e.postedThreshold = seconds
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(lendEvent{evt: event})
}

func (e *Engine) requireOperator(caller common.Address) error {
	if caller != e.operator {
		return errNotOperator
	}
	return nil
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.custody == nil {
		return errNilCustody
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// VaultAuthority derives the program-controlled custody account that
// exclusively owns a borrower's escrowed collateral until released.
func VaultAuthority(borrower common.Address) common.Address {
	digest := ethcrypto.Keccak256([]byte(vaultAuthoritySeed), borrower.Bytes())
	return common.BytesToAddress(digest[12:])
}

func (e *Engine) loadLendOffer(lender common.Address, offerID string) (*LendOffer, error) {
	offer, ok := e.state.GetLendOffer(lender, strings.TrimSpace(offerID))
	if !ok {
		return nil, errOfferNotFound
	}
	return offer.Clone(), nil
}

func (e *Engine) loadLoanOffer(borrower common.Address, offerID string) (*LoanOffer, error) {
	offer, ok := e.state.GetLoanOffer(borrower, strings.TrimSpace(offerID))
	if !ok {
		return nil, errLoanNotFound
	}
	return offer.Clone(), nil
}

func (e *Engine) lendAsset(mint string) (*Asset, error) {
	asset, ok := e.state.GetAsset(mint)
	if !ok {
		return nil, errAssetNotFound
	}
	if !asset.IsLend {
		return nil, errNotLendAsset
	}
	return asset, nil
}

func (e *Engine) collateralAsset(mint string) (*Asset, error) {
	asset, ok := e.state.GetAsset(mint)
	if !ok {
		return nil, errAssetNotFound
	}
	if !asset.IsCollateral {
		return nil, errNotCollateralAsset
	}
	return asset, nil
}

// CreateLendOffer posts a new lend offer against a tier. Amount, duration
// and both fee percents are copied from the tier; the lend principal moves
// into the protocol hot wallet so the off-path disbursement can serve it.
func (e *Engine) CreateLendOffer(lender common.Address, offerID, tierID, lendMint string, interestBps uint64) (*LendOffer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := ValidateInterestBps(interestBps); err != nil {
		return nil, err
	}
	offerID = strings.TrimSpace(offerID)
	if _, ok := e.state.GetLendOffer(lender, offerID); ok {
		return nil, errOfferExists
	}
	tier, ok := e.state.GetTier(tierID)
	if !ok {
		return nil, errTierNotFound
	}
	asset, err := e.lendAsset(lendMint)
	if err != nil {
		return nil, err
	}
	offer := &LendOffer{
		OfferID:        offerID,
		Lender:         lender,
		LendMint:       asset.TokenMint,
		Amount:         new(big.Int).Set(tier.Amount),
		InterestBps:    interestBps,
		Duration:       tier.Duration,
		LenderFeeBps:   tier.LenderFeeBps,
		BorrowerFeeBps: tier.BorrowerFeeBps,
		Status:         LendOfferCreated,
	}
	sanitized, err := SanitizeLendOffer(offer)
	if err != nil {
		return nil, err
	}
	if err := e.custody.Transfer(lender, e.hotWallet, asset.TokenMint, sanitized.Amount, asset.Decimals); err != nil {
		return nil, err
	}
	if err := e.state.PutLendOffer(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewLendOfferCreatedEvent(sanitized, tierID))
	return sanitized.Clone(), nil
}

// EditLendOffer updates the interest on an unmatched offer.
func (e *Engine) EditLendOffer(lender common.Address, offerID string, interestBps uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := ValidateInterestBps(interestBps); err != nil {
		return err
	}
	offer, err := e.loadLendOffer(lender, offerID)
	if err != nil {
		return err
	}
	if offer.Lender != lender {
		return errUnauthorized
	}
	if offer.Status != LendOfferCreated {
		return errInvalidStatus
	}
	offer.InterestBps = interestBps
	if err := e.state.PutLendOffer(offer); err != nil {
		return err
	}
	e.emit(NewLendOfferEditedEvent(offer))
	return nil
}

// CancelLendOffer requests cancellation of an unmatched offer. The refund is
// confirmed by the privileged SystemCancelLendOffer once the off-path
// accounting has settled any waiting interest.
func (e *Engine) CancelLendOffer(lender common.Address, offerID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	offer, err := e.loadLendOffer(lender, offerID)
	if err != nil {
		return err
	}
	if offer.Lender != lender {
		return errUnauthorized
	}
	if err := transitionLendOffer(offer, opLendCancel); err != nil {
		return err
	}
	if err := e.state.PutLendOffer(offer); err != nil {
		return err
	}
	e.emit(NewLendOfferCancelingEvent(offer))
	return nil
}

// SystemCancelLendOffer confirms a pending cancellation, refunding the
// principal plus any interest accrued while the offer waited.
func (e *Engine) SystemCancelLendOffer(caller, lender common.Address, offerID string, waitingInterest *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	offer, err := e.loadLendOffer(lender, offerID)
	if err != nil {
		return err
	}
	if err := transitionLendOffer(offer, opLendConfirmCancel); err != nil {
		return err
	}
	asset, err := e.lendAsset(offer.LendMint)
	if err != nil {
		return err
	}
	refund := new(big.Int).Set(offer.Amount)
	if waitingInterest != nil && waitingInterest.Sign() > 0 {
		refund.Add(refund, waitingInterest)
	}
	if err := e.custody.Transfer(e.hotWallet, offer.Lender, asset.TokenMint, refund, asset.Decimals); err != nil {
		return err
	}
	if err := e.state.PutLendOffer(offer); err != nil {
		return err
	}
	e.emit(NewLendOfferCanceledEvent(offer, refund))
	return nil
}

// CloseLendOffer reclaims the storage of a canceled offer.
func (e *Engine) CloseLendOffer(lender common.Address, offerID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	offer, err := e.loadLendOffer(lender, offerID)
	if err != nil {
		return err
	}
	if offer.Lender != lender {
		return errUnauthorized
	}
	if offer.Status != LendOfferCanceled {
		return errInvalidStatus
	}
	if err := e.state.DeleteLendOffer(lender, offer.OfferID); err != nil {
		return err
	}
	e.emit(NewLendOfferClosedEvent(offer))
	return nil
}
