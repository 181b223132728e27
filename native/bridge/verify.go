package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrNilPosted           = errors.New("bridge: nil posted message")
	ErrChainMismatch       = errors.New("bridge: emitter chain does not match registration")
	ErrEmitterMismatch     = errors.New("bridge: emitter address does not match registration")
	ErrMessageExpired      = errors.New("bridge: posted message older than allowed threshold")
	ErrWrongTargetFunction = errors.New("bridge: unexpected target function")
)

// VerifyEmitter accepts a posted message only when its origin chain id and
// attester identity exactly match the registered foreign chain. The hex
// comparison is plain string equality against the sanitized registration;
// any single-character deviation rejects.
func VerifyEmitter(posted *PostedMessage, chain *ForeignChain) error {
	if posted == nil {
		return ErrNilPosted
	}
	if chain == nil {
		return fmt.Errorf("bridge: no foreign chain registered")
	}
	if posted.EmitterChain != chain.ChainID {
		return ErrChainMismatch
	}
	if posted.EmitterHex() != chain.EmitterAddress {
		return ErrEmitterMismatch
	}
	return nil
}

// VerifyFreshness rejects messages whose attestation timestamp is more than
// threshold seconds behind ledger time. Only offer-creation messages carry a
// freshness requirement; every other inbound kind re-derives correctness
// purely from current ledger state.
func VerifyFreshness(posted *PostedMessage, now int64, threshold uint32) error {
	if posted == nil {
		return ErrNilPosted
	}
	if posted.Timestamp+int64(threshold) < now {
		return ErrMessageExpired
	}
	return nil
}

// RequireFunction guards an inbound handler against cross-wired messages.
func RequireFunction(got, want string) error {
	if got != want {
		return fmt.Errorf("%w: got %q, want %q", ErrWrongTargetFunction, got, want)
	}
	return nil
}
