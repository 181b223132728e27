package bridge

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

var (
	ErrMalformedPayload = errors.New("bridge: malformed payload")
	ErrUnsafeField      = errors.New("bridge: field contains payload delimiter")
)

// CreateLoanPayload is the offer-creation message as received on the loan
// side. The lend amount is the amount the borrower observed on the remote
// chain; handlers reject it when it undercuts the current offer.
type CreateLoanPayload struct {
	TargetChain       uint16
	TargetAddress     string
	TargetFunction    string
	TierID            string
	LendOfferID       string
	LendAmount        *big.Int
	CollateralAmount  *big.Int
	CollateralAddress string
	BorrowerAddress   string
}

// CollateralCreatePayload is the offer-creation message variant consumed on
// the collateral side, carrying the collateral token's decimals and symbol.
type CollateralCreatePayload struct {
	TargetChain        uint16
	TargetAddress      string
	TargetFunction     string
	TierID             string
	OfferID            string
	CollateralAmount   *big.Int
	CollateralAddress  string
	CollateralDecimals uint8
	CollateralSymbol   string
	BorrowerAddress    string
}

// CancelPayload covers both the cancel-collateral request and the
// refund-collateral confirmation; the target function distinguishes them.
type CancelPayload struct {
	TargetChain     uint16
	TargetAddress   string
	TargetFunction  string
	OfferID         string
	BorrowerAddress string
}

// WithdrawUpdatePayload mirrors a collateral withdrawal executed on the
// collateral chain so the loan side can update its recorded amounts.
type WithdrawUpdatePayload struct {
	TargetChain         uint16
	ChainAddress        string
	TargetFunction      string
	LoanOfferID         string
	WithdrawAmount      *big.Int
	RemainingCollateral *big.Int
	CollateralAddress   string
	BorrowerAddress     string
}

// LiquidatePayload starts a liquidation on the counter chain. The price is a
// decimal string and is empty for expiry-triggered liquidations, which also
// omit the field on the wire.
type LiquidatePayload struct {
	TargetChain      uint16
	ChainAddress     string
	TargetFunction   string
	LendOfferID      string
	BorrowerAddress  string
	LiquidatingPrice string
	LiquidatingAt    int64
}

// Codec encodes and decodes bridge payloads. The wire format is versioned so
// the delimiter choice can be hardened later without touching call sites;
// only v1 exists today.
type Codec interface {
	Version() uint8
	EncodeCreateLoan(p CreateLoanPayload) ([]byte, error)
	DecodeCreateLoan(raw []byte) (CreateLoanPayload, error)
	EncodeCollateralCreate(p CollateralCreatePayload) ([]byte, error)
	DecodeCollateralCreate(raw []byte) (CollateralCreatePayload, error)
	EncodeCancel(p CancelPayload) ([]byte, error)
	DecodeCancel(raw []byte) (CancelPayload, error)
	EncodeWithdrawUpdate(p WithdrawUpdatePayload) ([]byte, error)
	DecodeWithdrawUpdate(raw []byte) (WithdrawUpdatePayload, error)
	EncodeLiquidate(p LiquidatePayload) ([]byte, error)
	DecodeLiquidate(raw []byte) (LiquidatePayload, error)
}

// DefaultCodec is the wire codec current deployments speak.
var DefaultCodec Codec = CodecV1{}

// CodecV1 joins fields with a bare comma and no escaping. A field containing
// the delimiter would corrupt positional decoding, so encoding rejects such
// fields outright; the wire format itself is kept byte-compatible.
type CodecV1 struct{}

const delimiter = ","

func (CodecV1) Version() uint8 { return 1 }

func (CodecV1) EncodeCreateLoan(p CreateLoanPayload) ([]byte, error) {
	return join(
		strconv.FormatUint(uint64(p.TargetChain), 10),
		p.TargetAddress,
		p.TargetFunction,
		p.TierID,
		p.LendOfferID,
		amountField(p.LendAmount),
		amountField(p.CollateralAmount),
		p.CollateralAddress,
		p.BorrowerAddress,
	)
}

func (CodecV1) DecodeCreateLoan(raw []byte) (CreateLoanPayload, error) {
	fields, err := split(raw, 9)
	if err != nil {
		return CreateLoanPayload{}, err
	}
	chain, err := parseChain(fields[0])
	if err != nil {
		return CreateLoanPayload{}, err
	}
	lendAmount, err := parseAmount(fields[5])
	if err != nil {
		return CreateLoanPayload{}, err
	}
	collateralAmount, err := parseAmount(fields[6])
	if err != nil {
		return CreateLoanPayload{}, err
	}
	return CreateLoanPayload{
		TargetChain:       chain,
		TargetAddress:     fields[1],
		TargetFunction:    fields[2],
		TierID:            fields[3],
		LendOfferID:       fields[4],
		LendAmount:        lendAmount,
		CollateralAmount:  collateralAmount,
		CollateralAddress: fields[7],
		BorrowerAddress:   fields[8],
	}, nil
}

func (CodecV1) EncodeCollateralCreate(p CollateralCreatePayload) ([]byte, error) {
	return join(
		strconv.FormatUint(uint64(p.TargetChain), 10),
		p.TargetAddress,
		p.TargetFunction,
		p.TierID,
		p.OfferID,
		amountField(p.CollateralAmount),
		p.CollateralAddress,
		strconv.FormatUint(uint64(p.CollateralDecimals), 10),
		p.CollateralSymbol,
		p.BorrowerAddress,
	)
}

func (CodecV1) DecodeCollateralCreate(raw []byte) (CollateralCreatePayload, error) {
	fields, err := split(raw, 10)
	if err != nil {
		return CollateralCreatePayload{}, err
	}
	chain, err := parseChain(fields[0])
	if err != nil {
		return CollateralCreatePayload{}, err
	}
	amount, err := parseAmount(fields[5])
	if err != nil {
		return CollateralCreatePayload{}, err
	}
	decimals, err := strconv.ParseUint(fields[7], 10, 8)
	if err != nil {
		return CollateralCreatePayload{}, fmt.Errorf("%w: collateral decimals %q", ErrMalformedPayload, fields[7])
	}
	return CollateralCreatePayload{
		TargetChain:        chain,
		TargetAddress:      fields[1],
		TargetFunction:     fields[2],
		TierID:             fields[3],
		OfferID:            fields[4],
		CollateralAmount:   amount,
		CollateralAddress:  fields[6],
		CollateralDecimals: uint8(decimals),
		CollateralSymbol:   fields[8],
		BorrowerAddress:    fields[9],
	}, nil
}

func (CodecV1) EncodeCancel(p CancelPayload) ([]byte, error) {
	return join(
		strconv.FormatUint(uint64(p.TargetChain), 10),
		p.TargetAddress,
		p.TargetFunction,
		p.OfferID,
		p.BorrowerAddress,
	)
}

func (CodecV1) DecodeCancel(raw []byte) (CancelPayload, error) {
	fields, err := split(raw, 5)
	if err != nil {
		return CancelPayload{}, err
	}
	chain, err := parseChain(fields[0])
	if err != nil {
		return CancelPayload{}, err
	}
	return CancelPayload{
		TargetChain:     chain,
		TargetAddress:   fields[1],
		TargetFunction:  fields[2],
		OfferID:         fields[3],
		BorrowerAddress: fields[4],
	}, nil
}

func (CodecV1) EncodeWithdrawUpdate(p WithdrawUpdatePayload) ([]byte, error) {
	return join(
		strconv.FormatUint(uint64(p.TargetChain), 10),
		p.ChainAddress,
		p.TargetFunction,
		p.LoanOfferID,
		amountField(p.WithdrawAmount),
		amountField(p.RemainingCollateral),
		p.CollateralAddress,
		p.BorrowerAddress,
	)
}

func (CodecV1) DecodeWithdrawUpdate(raw []byte) (WithdrawUpdatePayload, error) {
	fields, err := split(raw, 8)
	if err != nil {
		return WithdrawUpdatePayload{}, err
	}
	chain, err := parseChain(fields[0])
	if err != nil {
		return WithdrawUpdatePayload{}, err
	}
	withdraw, err := parseAmount(fields[4])
	if err != nil {
		return WithdrawUpdatePayload{}, err
	}
	remaining, err := parseAmount(fields[5])
	if err != nil {
		return WithdrawUpdatePayload{}, err
	}
	return WithdrawUpdatePayload{
		TargetChain:         chain,
		ChainAddress:        fields[1],
		TargetFunction:      fields[2],
		LoanOfferID:         fields[3],
		WithdrawAmount:      withdraw,
		RemainingCollateral: remaining,
		CollateralAddress:   fields[6],
		BorrowerAddress:     fields[7],
	}, nil
}

func (CodecV1) EncodeLiquidate(p LiquidatePayload) ([]byte, error) {
	fields := []string{
		strconv.FormatUint(uint64(p.TargetChain), 10),
		p.ChainAddress,
		p.TargetFunction,
		p.LendOfferID,
		p.BorrowerAddress,
	}
	if p.LiquidatingPrice != "" {
		fields = append(fields, p.LiquidatingPrice)
	}
	fields = append(fields, strconv.FormatInt(p.LiquidatingAt, 10))
	return join(fields...)
}

func (CodecV1) DecodeLiquidate(raw []byte) (LiquidatePayload, error) {
	fields := strings.Split(string(raw), delimiter)
	if len(fields) != 6 && len(fields) != 7 {
		return LiquidatePayload{}, fmt.Errorf("%w: expected 6 or 7 fields, got %d", ErrMalformedPayload, len(fields))
	}
	chain, err := parseChain(fields[0])
	if err != nil {
		return LiquidatePayload{}, err
	}
	p := LiquidatePayload{
		TargetChain:     chain,
		ChainAddress:    fields[1],
		TargetFunction:  fields[2],
		LendOfferID:     fields[3],
		BorrowerAddress: fields[4],
	}
	rest := fields[5:]
	if len(rest) == 2 {
		p.LiquidatingPrice = rest[0]
		rest = rest[1:]
	}
	at, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return LiquidatePayload{}, fmt.Errorf("%w: liquidating_at %q", ErrMalformedPayload, rest[0])
	}
	p.LiquidatingAt = at
	return p, nil
}

func join(fields ...string) ([]byte, error) {
	for _, f := range fields {
		if strings.Contains(f, delimiter) {
			return nil, fmt.Errorf("%w: %q", ErrUnsafeField, f)
		}
	}
	return []byte(strings.Join(fields, delimiter)), nil
}

func split(raw []byte, want int) ([]string, error) {
	fields := strings.Split(string(raw), delimiter)
	if len(fields) != want {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedPayload, want, len(fields))
	}
	return fields, nil
}

func parseChain(field string) (uint16, error) {
	chain, err := strconv.ParseUint(field, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: target chain %q", ErrMalformedPayload, field)
	}
	return uint16(chain), nil
}

func parseAmount(field string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(field, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount %q", ErrMalformedPayload, field)
	}
	return amount, nil
}

func amountField(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
