package lend

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"ensolend/native/bridge"
)

type mockPoster struct {
	fee      *big.Int
	sequence uint64
	payloads [][]byte
}

func (m *mockPoster) MessageFee() *big.Int {
	if m.fee == nil {
		return big.NewInt(0)
	}
	return m.fee
}

func (m *mockPoster) Post(emitter common.Address, payload []byte, finality uint8) (uint64, error) {
	m.sequence++
	m.payloads = append(m.payloads, payload)
	return m.sequence, nil
}

func wireBridge(engine *Engine) *mockPoster {
	poster := &mockPoster{}
	engine.SetBridge(bridge.NewClient(poster, newTestAddress(0xB0), newTestAddress(0xB1), 1))
	return poster
}

func postedCreateMessage(t *testing.T, mutate func(*bridge.CreateLoanPayload)) *bridge.PostedMessage {
	t.Helper()
	payload := bridge.CreateLoanPayload{
		TargetChain:       bridge.SolChainID,
		TargetAddress:     testChainAddress,
		TargetFunction:    bridge.FunctionCreateLoanOffer,
		TierID:            testTierID,
		LendOfferID:       "lend-1",
		LendAmount:        big.NewInt(1000),
		CollateralAmount:  big.NewInt(120),
		CollateralAddress: "0x00000000000000000000000000000000000000cc",
		BorrowerAddress:   strings.ToLower(testBorrower.Hex()),
	}
	if mutate != nil {
		mutate(&payload)
	}
	raw, err := bridge.DefaultCodec.EncodeCreateLoan(payload)
	if err != nil {
		t.Fatalf("encode create payload: %v", err)
	}
	return &bridge.PostedMessage{
		EmitterChain:   bridge.SuiChainID,
		EmitterAddress: testForeignEmitter(),
		Sequence:       7,
		Timestamp:      testNow - 60,
		Payload:        raw,
	}
}

func TestCreateLoanOfferCrossChain(t *testing.T) {
	engine, state, custody, _, emitter := setupEngine(t)
	createTestLendOffer(t, engine)
	before := len(custody.transfers)
	loan, err := engine.CreateLoanOfferCrossChain(testBorrower, "loan-1", "lend-1", testLender, testCollateralMint, postedCreateMessage(t, nil))
	if err != nil {
		t.Fatalf("CreateLoanOfferCrossChain error: %v", err)
	}
	if loan.Status != LoanOfferMatched {
		t.Fatalf("expected matched, got %v", loan.Status)
	}
	if loan.CollateralAmount.Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("collateral amount should come from the message, got %s", loan.CollateralAmount)
	}
	if len(custody.transfers) != before {
		t.Fatalf("cross-chain match must not move local funds")
	}
	lendOffer, _ := state.GetLendOffer(testLender, "lend-1")
	if lendOffer.Status != LendOfferLoaned {
		t.Fatalf("lend offer should be loaned, got %v", lendOffer.Status)
	}
	if !eventSeen(emitter, EventTypeLoanOfferMatched) {
		t.Fatalf("expected matched event")
	}
}

func TestCreateLoanOfferCrossChainEmitterMutationRejected(t *testing.T) {
	engine, _, _, _, _ := setupEngine(t)
	createTestLendOffer(t, engine)
	posted := postedCreateMessage(t, nil)
	posted.EmitterAddress[31] ^= 0x01
	_, err := engine.CreateLoanOfferCrossChain(testBorrower, "loan-1", "lend-1", testLender, testCollateralMint, posted)
	if !errors.Is(err, bridge.ErrEmitterMismatch) {
		t.Fatalf("expected emitter mismatch, got %v", err)
	}
}

func TestCreateLoanOfferCrossChainWrongChainRejected(t *testing.T) {
	engine, _, _, _, _ := setupEngine(t)
	createTestLendOffer(t, engine)
	posted := postedCreateMessage(t, nil)
	posted.EmitterChain = 5
	_, err := engine.CreateLoanOfferCrossChain(testBorrower, "loan-1", "lend-1", testLender, testCollateralMint, posted)
	if !errors.Is(err, bridge.ErrChainMismatch) {
		t.Fatalf("expected chain mismatch, got %v", err)
	}
}

func TestCreateLoanOfferCrossChainStaleMessageRejected(t *testing.T) {
	engine, _, _, _, _ := setupEngine(t)
	createTestLendOffer(t, engine)
	posted := postedCreateMessage(t, nil)
	posted.Timestamp = testNow - int64(bridge.PostedTimestampThreshold) - 1
	_, err := engine.CreateLoanOfferCrossChain(testBorrower, "loan-1", "lend-1", testLender, testCollateralMint, posted)
	if !errors.Is(err, bridge.ErrMessageExpired) {
		t.Fatalf("expected expired message, got %v", err)
	}
}

func TestCreateLoanOfferCrossChainFieldMismatches(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*bridge.CreateLoanPayload)
		want   error
	}{
		{"wrong function", func(p *bridge.CreateLoanPayload) { p.TargetFunction = bridge.FunctionCancelCollateral }, bridge.ErrWrongTargetFunction},
		{"offer id", func(p *bridge.CreateLoanPayload) { p.LendOfferID = "lend-9" }, errOfferIDMismatch},
		{"lend amount low", func(p *bridge.CreateLoanPayload) { p.LendAmount = big.NewInt(999) }, errLendAmountTooLow},
		{"unknown tier", func(p *bridge.CreateLoanPayload) { p.TierID = "tier-9" }, errTierMismatch},
		{"borrower", func(p *bridge.CreateLoanPayload) { p.BorrowerAddress = strings.ToLower(newTestAddress(0x09).Hex()) }, errBorrowerMismatch},
		{"collateral address", func(p *bridge.CreateLoanPayload) { p.CollateralAddress = "0x00000000000000000000000000000000000000dd" }, errCollateralMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _, _, _, _ := setupEngine(t)
			createTestLendOffer(t, engine)
			_, err := engine.CreateLoanOfferCrossChain(testBorrower, "loan-1", "lend-1", testLender, testCollateralMint, postedCreateMessage(t, tc.mutate))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateLoanOfferCrossChainOverfundedLendAmountAccepted(t *testing.T) {
	engine, _, _, _, _ := setupEngine(t)
	createTestLendOffer(t, engine)
	posted := postedCreateMessage(t, func(p *bridge.CreateLoanPayload) { p.LendAmount = big.NewInt(1500) })
	if _, err := engine.CreateLoanOfferCrossChain(testBorrower, "loan-1", "lend-1", testLender, testCollateralMint, posted); err != nil {
		t.Fatalf("lend amount above the offer must be accepted: %v", err)
	}
}

func crossChainMatch(t *testing.T, engine *Engine) {
	t.Helper()
	createTestLendOffer(t, engine)
	if _, err := engine.CreateLoanOfferCrossChain(testBorrower, "loan-1", "lend-1", testLender, testCollateralMint, postedCreateMessage(t, nil)); err != nil {
		t.Fatalf("CreateLoanOfferCrossChain error: %v", err)
	}
}

func TestUpdateWithdrawCollateralCrossChain(t *testing.T) {
	engine, state, _, _, emitter := setupEngine(t)
	crossChainMatch(t, engine)
	raw, err := bridge.DefaultCodec.EncodeWithdrawUpdate(bridge.WithdrawUpdatePayload{
		TargetChain:         bridge.SolChainID,
		ChainAddress:        testChainAddress,
		TargetFunction:      bridge.FunctionUpdateWithdrawCollateral,
		LoanOfferID:         "loan-1",
		WithdrawAmount:      big.NewInt(20),
		RemainingCollateral: big.NewInt(100),
		CollateralAddress:   "0x00000000000000000000000000000000000000cc",
		BorrowerAddress:     strings.ToLower(testBorrower.Hex()),
	})
	if err != nil {
		t.Fatalf("encode withdraw payload: %v", err)
	}
	posted := &bridge.PostedMessage{
		EmitterChain:   bridge.SuiChainID,
		EmitterAddress: testForeignEmitter(),
		Sequence:       8,
		Timestamp:      testNow,
		Payload:        raw,
	}
	if err := engine.UpdateWithdrawCollateralCrossChain(testBorrower, "loan-1", posted); err != nil {
		t.Fatalf("UpdateWithdrawCollateralCrossChain error: %v", err)
	}
	loan, _ := state.GetLoanOffer(testBorrower, "loan-1")
	if loan.CollateralAmount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected remaining collateral 100, got %s", loan.CollateralAmount)
	}
	if loan.RequestWithdrawAmount.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected withdraw request 20, got %s", loan.RequestWithdrawAmount)
	}
	if !eventSeen(emitter, EventTypeWithdrawUpdated) {
		t.Fatalf("expected withdraw updated event")
	}
}

func TestRequestCancelLoanedCrossChain(t *testing.T) {
	engine, _, _, _, emitter := setupEngine(t)
	poster := wireBridge(engine)
	crossChainMatch(t, engine)
	sequence, err := engine.RequestCancelLoanedCrossChain(testBorrower, "loan-1")
	if err != nil {
		t.Fatalf("RequestCancelLoanedCrossChain error: %v", err)
	}
	if sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", sequence)
	}
	payload, err := bridge.DefaultCodec.DecodeCancel(poster.payloads[0])
	if err != nil {
		t.Fatalf("decode published payload: %v", err)
	}
	if payload.TargetFunction != bridge.FunctionCancelCollateral {
		t.Fatalf("expected cancel function, got %q", payload.TargetFunction)
	}
	if payload.OfferID != "loan-1" {
		t.Fatalf("expected loan offer id, got %q", payload.OfferID)
	}
	if !eventSeen(emitter, EventTypeBridgeMessagePublished) {
		t.Fatalf("expected published event")
	}
}

func TestCancelLoanOfferCrossChainPublishesCancel(t *testing.T) {
	engine, _, custody, _, _ := setupEngine(t)
	poster := wireBridge(engine)
	raw, err := bridge.DefaultCodec.EncodeCollateralCreate(bridge.CollateralCreatePayload{
		TargetChain:        bridge.SolChainID,
		TargetAddress:      testChainAddress,
		TargetFunction:     bridge.FunctionCreateLoanOffer,
		TierID:             testTierID,
		OfferID:            "loan-9",
		CollateralAmount:   big.NewInt(120),
		CollateralAddress:  "0x00000000000000000000000000000000000000cc",
		CollateralDecimals: 9,
		CollateralSymbol:   "COL",
		BorrowerAddress:    strings.ToLower(testBorrower.Hex()),
	})
	if err != nil {
		t.Fatalf("encode collateral create payload: %v", err)
	}
	posted := &bridge.PostedMessage{
		EmitterChain:   bridge.SuiChainID,
		EmitterAddress: testForeignEmitter(),
		Sequence:       3,
		Timestamp:      testNow,
		Payload:        raw,
	}
	before := len(custody.transfers)
	sequence, err := engine.CancelLoanOfferCrossChain(testBorrower, "loan-9", testCollateralMint, posted)
	if err != nil {
		t.Fatalf("CancelLoanOfferCrossChain error: %v", err)
	}
	if sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", sequence)
	}
	if len(custody.transfers) != before {
		t.Fatalf("unmatched cancel must not move local funds")
	}
	payload, err := bridge.DefaultCodec.DecodeCancel(poster.payloads[0])
	if err != nil {
		t.Fatalf("decode published payload: %v", err)
	}
	if payload.TargetFunction != bridge.FunctionCancelCollateral || payload.OfferID != "loan-9" {
		t.Fatalf("unexpected cancel payload: %+v", payload)
	}
}

func TestCancelLoanOfferCrossChainRejectsMatchedOffer(t *testing.T) {
	engine, _, _, _, _ := setupEngine(t)
	wireBridge(engine)
	crossChainMatch(t, engine)
	_, err := engine.CancelLoanOfferCrossChain(testBorrower, "loan-1", testCollateralMint, postedCreateMessage(t, nil))
	if !errors.Is(err, errOfferExists) {
		t.Fatalf("expected errOfferExists for matched offer, got %v", err)
	}
}

func TestCancelLoanedOfferCrossChainReopensLendOffer(t *testing.T) {
	engine, state, _, _, emitter := setupEngine(t)
	crossChainMatch(t, engine)
	raw, err := bridge.DefaultCodec.EncodeCancel(bridge.CancelPayload{
		TargetChain:     bridge.SolChainID,
		TargetAddress:   testChainAddress,
		TargetFunction:  bridge.FunctionCancelCollateral,
		OfferID:         "loan-1",
		BorrowerAddress: strings.ToLower(testBorrower.Hex()),
	})
	if err != nil {
		t.Fatalf("encode cancel payload: %v", err)
	}
	posted := &bridge.PostedMessage{
		EmitterChain:   bridge.SuiChainID,
		EmitterAddress: testForeignEmitter(),
		Sequence:       9,
		Timestamp:      testNow,
		Payload:        raw,
	}
	if err := engine.CancelLoanedOfferCrossChain(testBorrower, "loan-1", posted); err != nil {
		t.Fatalf("CancelLoanedOfferCrossChain error: %v", err)
	}
	if _, ok := state.GetLoanOffer(testBorrower, "loan-1"); ok {
		t.Fatalf("canceled loan should be removed")
	}
	lendOffer, _ := state.GetLendOffer(testLender, "lend-1")
	if lendOffer.Status != LendOfferCreated {
		t.Fatalf("lend offer should reopen, got %v", lendOffer.Status)
	}
	if !eventSeen(emitter, EventTypeLoanOfferCanceledRemote) {
		t.Fatalf("expected remote cancel event")
	}
}

func TestRepayLoanOfferCrossChain(t *testing.T) {
	engine, state, custody, _, emitter := setupEngine(t)
	poster := wireBridge(engine)
	crossChainMatch(t, engine)
	if err := engine.SystemUpdateLoanOffer(testOperator, testBorrower, "loan-1", big.NewInt(1000)); err != nil {
		t.Fatalf("SystemUpdateLoanOffer error: %v", err)
	}
	if _, err := engine.RepayLoanOfferCrossChain(testBorrower, "loan-1"); err != nil {
		t.Fatalf("RepayLoanOfferCrossChain error: %v", err)
	}
	loan, _ := state.GetLoanOffer(testBorrower, "loan-1")
	if loan.Status != LoanOfferRepay {
		t.Fatalf("expected repay status, got %v", loan.Status)
	}
	repayment := custody.last()
	if repayment.from != testBorrower || repayment.to != testHotWallet {
		t.Fatalf("repayment should move borrower -> hot wallet")
	}
	payload, err := bridge.DefaultCodec.DecodeCancel(poster.payloads[0])
	if err != nil {
		t.Fatalf("decode published payload: %v", err)
	}
	if payload.TargetFunction != bridge.FunctionRefundCollateral {
		t.Fatalf("expected refund function, got %q", payload.TargetFunction)
	}
	if payload.OfferID != "lend-1" {
		t.Fatalf("refund message should carry the lend offer id, got %q", payload.OfferID)
	}
	if !eventSeen(emitter, EventTypeLoanRepayRequested) {
		t.Fatalf("expected repay requested event")
	}
}

func TestSystemConfirmRepayCrossChainFinishesLoan(t *testing.T) {
	engine, state, _, _, emitter := setupEngine(t)
	wireBridge(engine)
	crossChainMatch(t, engine)
	if err := engine.SystemUpdateLoanOffer(testOperator, testBorrower, "loan-1", big.NewInt(1000)); err != nil {
		t.Fatalf("SystemUpdateLoanOffer error: %v", err)
	}
	if _, err := engine.RepayLoanOfferCrossChain(testBorrower, "loan-1"); err != nil {
		t.Fatalf("RepayLoanOfferCrossChain error: %v", err)
	}
	if err := engine.SystemConfirmRepayCrossChain(testOperator, testBorrower, "loan-1"); err != nil {
		t.Fatalf("SystemConfirmRepayCrossChain error: %v", err)
	}
	loan, _ := state.GetLoanOffer(testBorrower, "loan-1")
	if loan.Status != LoanOfferBorrowerPaid {
		t.Fatalf("expected borrower paid, got %v", loan.Status)
	}
	if !eventSeen(emitter, EventTypeLoanRepayConfirmed) {
		t.Fatalf("expected repay confirmed event")
	}
	if err := engine.SystemFinishLoanOffer(testOperator, testBorrower, "loan-1", big.NewInt(1000), big.NewInt(5)); err != nil {
		t.Fatalf("SystemFinishLoanOffer error: %v", err)
	}
	loan, _ = state.GetLoanOffer(testBorrower, "loan-1")
	if loan.Status != LoanOfferFinished {
		t.Fatalf("expected finished, got %v", loan.Status)
	}
}

func TestSystemConfirmRepayCrossChainGuards(t *testing.T) {
	engine, _, _, _, _ := setupEngine(t)
	wireBridge(engine)
	crossChainMatch(t, engine)
	if err := engine.SystemConfirmRepayCrossChain(testOperator, testBorrower, "loan-1"); !errors.Is(err, errInvalidStatus) {
		t.Fatalf("expected errInvalidStatus before repayment, got %v", err)
	}
	if err := engine.SystemUpdateLoanOffer(testOperator, testBorrower, "loan-1", big.NewInt(1000)); err != nil {
		t.Fatalf("SystemUpdateLoanOffer error: %v", err)
	}
	if _, err := engine.RepayLoanOfferCrossChain(testBorrower, "loan-1"); err != nil {
		t.Fatalf("RepayLoanOfferCrossChain error: %v", err)
	}
	if err := engine.SystemConfirmRepayCrossChain(testBorrower, testBorrower, "loan-1"); !errors.Is(err, errNotOperator) {
		t.Fatalf("expected errNotOperator, got %v", err)
	}
}

func TestStartLiquidateHealthCrossChainPublishesPrice(t *testing.T) {
	engine, state, custody, source, _ := setupEngine(t)
	poster := wireBridge(engine)
	crossChainMatch(t, engine)
	if err := engine.SystemUpdateLoanOffer(testOperator, testBorrower, "loan-1", big.NewInt(1000)); err != nil {
		t.Fatalf("SystemUpdateLoanOffer error: %v", err)
	}
	crashCollateralPrice(source, 4)
	before := len(custody.transfers)
	if _, err := engine.StartLiquidateHealthCrossChain(testOperator, testBorrower, "loan-1"); err != nil {
		t.Fatalf("StartLiquidateHealthCrossChain error: %v", err)
	}
	if len(custody.transfers) != before {
		t.Fatalf("cross-chain liquidation start must not move local funds")
	}
	loan, _ := state.GetLoanOffer(testBorrower, "loan-1")
	if loan.Status != LoanOfferLiquidating {
		t.Fatalf("expected liquidating, got %v", loan.Status)
	}
	payload, err := bridge.DefaultCodec.DecodeLiquidate(poster.payloads[0])
	if err != nil {
		t.Fatalf("decode liquidate payload: %v", err)
	}
	if payload.TargetFunction != bridge.FunctionStartLiquidateHealth {
		t.Fatalf("expected health function, got %q", payload.TargetFunction)
	}
	if payload.LiquidatingPrice == "" {
		t.Fatalf("health payload must carry the trigger price")
	}
	if payload.LendOfferID != "lend-1" {
		t.Fatalf("expected lend offer id, got %q", payload.LendOfferID)
	}
}

func TestStartLiquidateExpiredCrossChainOmitsPrice(t *testing.T) {
	engine, _, _, _, _ := setupEngine(t)
	poster := wireBridge(engine)
	crossChainMatch(t, engine)
	if err := engine.SystemUpdateLoanOffer(testOperator, testBorrower, "loan-1", big.NewInt(1000)); err != nil {
		t.Fatalf("SystemUpdateLoanOffer error: %v", err)
	}
	expiredAt := testNow + int64(14*24*60*60)
	engine.SetNowFunc(func() int64 { return expiredAt })
	if _, err := engine.StartLiquidateExpiredCrossChain(testOperator, testBorrower, "loan-1"); err != nil {
		t.Fatalf("StartLiquidateExpiredCrossChain error: %v", err)
	}
	payload, err := bridge.DefaultCodec.DecodeLiquidate(poster.payloads[0])
	if err != nil {
		t.Fatalf("decode liquidate payload: %v", err)
	}
	if payload.TargetFunction != bridge.FunctionStartLiquidateExpired {
		t.Fatalf("expected expired function, got %q", payload.TargetFunction)
	}
	if payload.LiquidatingPrice != "" {
		t.Fatalf("expired payload must omit the price, got %q", payload.LiquidatingPrice)
	}
	if payload.LiquidatingAt != expiredAt {
		t.Fatalf("expected liquidatingAt %d, got %d", expiredAt, payload.LiquidatingAt)
	}
}
