package bridge

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Chain identifiers follow the bridge's numbering, not the ledgers' own.
const (
	SolChainID uint16 = 1
	SuiChainID uint16 = 21
)

// SuiChainAddress is the lending program's registered address on the Sui
// side of the bridge.
const SuiChainAddress = "0x44f136283e552098e9676c70c91ec5517153e65244b749b979d70fcc7ee15f9e"

// Target function names carried inside payloads. An inbound handler rejects
// any message whose target function does not equal the constant it expects,
// which prevents a message produced for one instruction from being replayed
// against another.
const (
	FunctionCreateLoanOffer          = "create_loan_offer_cross_chain"
	FunctionCancelCollateral         = "cancel_collateral"
	FunctionRefundCollateral         = "refund_collateral_to_repaid_borrower"
	FunctionUpdateWithdrawCollateral = "update_withdraw_collateral_cross_chain"
	FunctionStartLiquidateHealth     = "start_liquidate_health_loan_cross_chain"
	FunctionStartLiquidateExpired    = "start_liquidate_expired_loan_cross_chain"
)

// PostedTimestampThreshold bounds how old an inbound offer-creation message
// may be, in seconds.
const PostedTimestampThreshold uint32 = 30 * 60

var ErrUnsupportedChain = errors.New("bridge: unsupported chain id")

var chainIDs = [...]uint16{SolChainID, SuiChainID}

// ChainAddressByID resolves the registered program address for a supported
// remote chain.
func ChainAddressByID(chainID uint16) (string, error) {
	for _, id := range chainIDs {
		if id != chainID {
			continue
		}
		switch chainID {
		case SuiChainID:
			return SuiChainAddress, nil
		default:
			return "", ErrUnsupportedChain
		}
	}
	return "", ErrUnsupportedChain
}

// ForeignChain registers the counterpart deployment on a remote chain: the
// program address messages are targeted at and the attester identity whose
// messages this side accepts. One record exists per remote chain.
type ForeignChain struct {
	ChainID        uint16
	ChainAddress   string
	EmitterAddress string
}

// SanitizeForeignChain normalises the registration, lower-casing the emitter
// hex so inbound comparisons are exact string equality.
func SanitizeForeignChain(c *ForeignChain) (*ForeignChain, error) {
	if c == nil {
		return nil, fmt.Errorf("bridge: nil foreign chain")
	}
	if c.ChainID == SolChainID {
		return nil, fmt.Errorf("bridge: foreign chain cannot use the local chain id %d", SolChainID)
	}
	emitter := strings.ToLower(strings.TrimSpace(c.EmitterAddress))
	if len(emitter) != 64 {
		return nil, fmt.Errorf("bridge: emitter address must be 64 hex characters, got %d", len(emitter))
	}
	if _, err := hex.DecodeString(emitter); err != nil {
		return nil, fmt.Errorf("bridge: emitter address is not hex: %w", err)
	}
	clone := *c
	clone.ChainAddress = strings.TrimSpace(c.ChainAddress)
	clone.EmitterAddress = emitter
	return &clone, nil
}

// PostedMessage is an attested bridge message after quorum verification by
// the bridge runtime. The core trusts the attestation and re-derives all
// business correctness from its own ledger state.
type PostedMessage struct {
	EmitterChain   uint16
	EmitterAddress [32]byte
	Sequence       uint64
	Timestamp      int64
	Payload        []byte
}

// EmitterHex renders the attester identity the way registrations store it:
// lowercase, zero-padded, 64 characters.
func (m *PostedMessage) EmitterHex() string {
	if m == nil {
		return ""
	}
	return hex.EncodeToString(m.EmitterAddress[:])
}
