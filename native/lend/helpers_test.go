package lend

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"ensolend/core/events"
	"ensolend/core/types"
	"ensolend/native/bridge"
	"ensolend/native/oracle"
)

const testNow int64 = 1_000_000

func newTestAddress(last byte) common.Address {
	var addr common.Address
	addr[19] = last
	return addr
}

type mockState struct {
	lendOffers map[string]*LendOffer
	loanOffers map[string]*LoanOffer
	assets     map[string]*Asset
	tiers      map[string]*Tier
	chains     map[uint16]*bridge.ForeignChain
}

func newMockState() *mockState {
	return &mockState{
		lendOffers: make(map[string]*LendOffer),
		loanOffers: make(map[string]*LoanOffer),
		assets:     make(map[string]*Asset),
		tiers:      make(map[string]*Tier),
		chains:     make(map[uint16]*bridge.ForeignChain),
	}
}

func lendKey(lender common.Address, offerID string) string {
	return lender.Hex() + "/" + offerID
}

func (m *mockState) GetLendOffer(lender common.Address, offerID string) (*LendOffer, bool) {
	offer, ok := m.lendOffers[lendKey(lender, offerID)]
	return offer, ok
}

func (m *mockState) PutLendOffer(offer *LendOffer) error {
	m.lendOffers[lendKey(offer.Lender, offer.OfferID)] = offer.Clone()
	return nil
}

func (m *mockState) DeleteLendOffer(lender common.Address, offerID string) error {
	delete(m.lendOffers, lendKey(lender, offerID))
	return nil
}

func (m *mockState) GetLoanOffer(borrower common.Address, offerID string) (*LoanOffer, bool) {
	offer, ok := m.loanOffers[lendKey(borrower, offerID)]
	return offer, ok
}

func (m *mockState) PutLoanOffer(offer *LoanOffer) error {
	m.loanOffers[lendKey(offer.Borrower, offer.OfferID)] = offer.Clone()
	return nil
}

func (m *mockState) DeleteLoanOffer(borrower common.Address, offerID string) error {
	delete(m.loanOffers, lendKey(borrower, offerID))
	return nil
}

func (m *mockState) GetAsset(mint string) (*Asset, bool) {
	asset, ok := m.assets[mint]
	return asset, ok
}

func (m *mockState) GetTier(tierID string) (*Tier, bool) {
	tier, ok := m.tiers[tierID]
	return tier, ok
}

func (m *mockState) GetForeignChain(chainID uint16) (*bridge.ForeignChain, bool) {
	chain, ok := m.chains[chainID]
	return chain, ok
}

type transfer struct {
	from   common.Address
	to     common.Address
	mint   string
	amount *big.Int
}

type mockCustody struct {
	transfers []transfer
	failNext  bool
}

func (m *mockCustody) Transfer(from, to common.Address, mint string, amount *big.Int, decimals uint8) error {
	if m.failNext {
		m.failNext = false
		return errors.New("custody: transfer rejected")
	}
	m.transfers = append(m.transfers, transfer{from: from, to: to, mint: mint, amount: new(big.Int).Set(amount)})
	return nil
}

func (m *mockCustody) last() transfer {
	return m.transfers[len(m.transfers)-1]
}

type stubSource struct {
	prices map[string]oracle.PriceData
}

func (s *stubSource) Price(feedID string) (oracle.PriceData, error) {
	data, ok := s.prices[feedID]
	if !ok {
		return oracle.PriceData{}, oracle.ErrUnknownFeed
	}
	return data, nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func lastLendEvent(emitter *capturingEmitter, eventType string) *types.Event {
	for i := len(emitter.events) - 1; i >= 0; i-- {
		if wrapper, ok := emitter.events[i].(lendEvent); ok && wrapper.EventType() == eventType {
			return wrapper.Event()
		}
	}
	return nil
}

func eventSeen(emitter *capturingEmitter, eventType string) bool {
	for _, evt := range emitter.events {
		if evt.EventType() == eventType {
			return true
		}
	}
	return false
}

const (
	testLendMint       = "usd-stable"
	testCollateralMint = "wrapped-col"
	testLendFeed       = "feed/usd-stable"
	testCollateralFeed = "feed/wrapped-col"
	testTierID         = "tier-1"
	testChainAddress   = "0x44f136283e552098e9676c70c91ec5517153e65244b749b979d70fcc7ee15f9e"
)

var (
	testOperator  = newTestAddress(0xE0)
	testHotWallet = newTestAddress(0xE1)
	testLender    = newTestAddress(0x01)
	testBorrower  = newTestAddress(0x02)
)

func testForeignEmitter() [32]byte {
	var emitter [32]byte
	emitter[0] = 0xAA
	emitter[31] = 0xBB
	return emitter
}

// setupEngine returns an engine over fresh mocks with one tier, a lend
// asset, a foreign collateral asset and a registered foreign chain. Prices
// are chosen so 120 collateral units against the tier amount of 1000 land
// exactly on the 1.2 floor.
func setupEngine(t *testing.T) (*Engine, *mockState, *mockCustody, *stubSource, *capturingEmitter) {
	t.Helper()
	state := newMockState()
	state.tiers[testTierID] = &Tier{
		TierID:         testTierID,
		Amount:         big.NewInt(1000),
		Duration:       14 * 24 * 60 * 60,
		LenderFeeBps:   500,
		BorrowerFeeBps: 500,
	}
	state.assets[testLendMint] = &Asset{
		Name:        "USD Stable",
		TokenMint:   testLendMint,
		Decimals:    0,
		IsLend:      true,
		PriceFeedID: testLendFeed,
		MaxPriceAge: 60,
	}
	emitter := testForeignEmitter()
	chain, err := bridge.SanitizeForeignChain(&bridge.ForeignChain{
		ChainID:        bridge.SuiChainID,
		ChainAddress:   testChainAddress,
		EmitterAddress: (&bridge.PostedMessage{EmitterAddress: emitter}).EmitterHex(),
	})
	if err != nil {
		t.Fatalf("sanitize foreign chain: %v", err)
	}
	state.chains[chain.ChainID] = chain
	state.assets[testCollateralMint] = &Asset{
		Name:         "Wrapped Collateral",
		TokenMint:    testCollateralMint,
		Decimals:     0,
		IsCollateral: true,
		PriceFeedID:  testCollateralFeed,
		MaxPriceAge:  60,
		ChainID:      chain.ChainID,
		TokenAddress: "0x00000000000000000000000000000000000000cc",
	}
	source := &stubSource{prices: map[string]oracle.PriceData{
		testLendFeed:       {Price: 1, Exponent: 0, PublishTime: testNow},
		testCollateralFeed: {Price: 10, Exponent: 0, PublishTime: testNow},
	}}
	custody := &mockCustody{}
	capture := &capturingEmitter{}
	engine := NewEngine(testOperator, testHotWallet, 12_000)
	engine.SetState(state)
	engine.SetCustody(custody)
	engine.SetOracle(oracle.NewAdapter(source))
	engine.SetEmitter(capture)
	engine.SetNowFunc(func() int64 { return testNow })
	return engine, state, custody, source, capture
}

func createTestLendOffer(t *testing.T, engine *Engine) *LendOffer {
	t.Helper()
	offer, err := engine.CreateLendOffer(testLender, "lend-1", testTierID, testLendMint, 1500)
	if err != nil {
		t.Fatalf("CreateLendOffer error: %v", err)
	}
	return offer
}

func matchTestLoan(t *testing.T, engine *Engine, collateral int64) *LoanOffer {
	t.Helper()
	createTestLendOffer(t, engine)
	loan, err := engine.CreateLoanOffer(testBorrower, "loan-1", "lend-1", testLender, testTierID, testCollateralMint, big.NewInt(collateral), 1500)
	if err != nil {
		t.Fatalf("CreateLoanOffer error: %v", err)
	}
	return loan
}

func fundTestLoan(t *testing.T, engine *Engine, collateral int64) *LoanOffer {
	t.Helper()
	matchTestLoan(t, engine, collateral)
	if err := engine.SystemUpdateLoanOffer(testOperator, testBorrower, "loan-1", big.NewInt(1000)); err != nil {
		t.Fatalf("SystemUpdateLoanOffer error: %v", err)
	}
	loan, ok := engine.state.GetLoanOffer(testBorrower, "loan-1")
	if !ok {
		t.Fatalf("loan offer missing after funding")
	}
	return loan
}
