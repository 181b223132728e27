package bridge

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNilPoster          = errors.New("bridge: poster not configured")
	ErrNilFeePayer        = errors.New("bridge: fee payer not configured")
	ErrSequenceRegression = errors.New("bridge: emitter sequence regressed")
)

// Poster is the bridge runtime's message submission surface. Post attributes
// the payload to the emitter identity and returns the per-emitter sequence
// the bridge assigned; the bridge increments that sequence monotonically.
type Poster interface {
	MessageFee() *big.Int
	Post(emitter common.Address, payload []byte, finality uint8) (uint64, error)
}

// FeePayer moves the bridge message fee from the initiating caller to the
// bridge's fee collector before a message is posted.
type FeePayer interface {
	PayFee(from, to common.Address, amount *big.Int) error
}

// Client publishes outbound messages under a program-controlled emitter
// identity. Once posted a message is immutable and permanent; cancellation
// only exists as a later business-level message.
type Client struct {
	poster       Poster
	feePayer     FeePayer
	emitter      common.Address
	feeCollector common.Address
	finality     uint8

	lastSequence uint64
	posted       bool
}

func NewClient(poster Poster, emitter, feeCollector common.Address, finality uint8) *Client {
	return &Client{
		poster:       poster,
		emitter:      emitter,
		feeCollector: feeCollector,
		finality:     finality,
	}
}

// SetFeePayer wires the account layer used to settle message fees.
func (c *Client) SetFeePayer(payer FeePayer) {
	if c == nil {
		return
	}
	c.feePayer = payer
}

// Emitter returns the identity outbound messages are attributed to.
func (c *Client) Emitter() common.Address {
	if c == nil {
		return common.Address{}
	}
	return c.emitter
}

// Publish pays the current message fee from caller, posts the payload and
// returns the bridge-assigned sequence. The sequence is the only ordering
// guarantee outbound messages carry, so a non-increasing value from the
// poster is treated as a hard fault.
func (c *Client) Publish(caller common.Address, payload []byte) (uint64, error) {
	if c == nil || c.poster == nil {
		return 0, ErrNilPoster
	}
	fee := c.poster.MessageFee()
	if fee != nil && fee.Sign() > 0 {
		if c.feePayer == nil {
			return 0, ErrNilFeePayer
		}
		if err := c.feePayer.PayFee(caller, c.feeCollector, new(big.Int).Set(fee)); err != nil {
			return 0, err
		}
	}
	sequence, err := c.poster.Post(c.emitter, payload, c.finality)
	if err != nil {
		return 0, err
	}
	if c.posted && sequence <= c.lastSequence {
		return 0, ErrSequenceRegression
	}
	c.lastSequence = sequence
	c.posted = true
	return sequence, nil
}
