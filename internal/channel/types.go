// Package channel implements the off-chain payment-channel state machine:
// seeding, validating, and settling multi-recipient updates, and handing
// the final signed state off to on-chain finalization.
package channel

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RecipientBalance is one entry in a channel's ordered recipient sequence.
// Position equals the recipient's 0-based insertion order and never
// changes once assigned.
type RecipientBalance struct {
	Address  common.Address
	Balance  *big.Int
	Position int
}

// State is the authoritative record for one channel.
type State struct {
	ChannelID          [32]byte
	Owner              common.Address
	Balance            *big.Int
	ExpiryTs           uint64
	SequenceNumber     uint64
	UserSignature      []byte
	SequencerSignature []byte
	SignatureTimestamp uint64
	Recipients         []RecipientBalance
}

// Clone returns a deep copy, so callers holding a returned view can't
// mutate registry-owned state through shared slices.
func (s *State) Clone() *State {
	out := *s
	out.Balance = new(big.Int).Set(s.Balance)
	out.UserSignature = append([]byte(nil), s.UserSignature...)
	out.SequencerSignature = append([]byte(nil), s.SequencerSignature...)
	out.Recipients = make([]RecipientBalance, len(s.Recipients))
	for i, r := range s.Recipients {
		out.Recipients[i] = RecipientBalance{
			Address:  r.Address,
			Balance:  new(big.Int).Set(r.Balance),
			Position: r.Position,
		}
	}
	return out
}

// ChannelIDHex returns the canonical lowercase 0x-prefixed channel id.
func (s *State) ChannelIDHex() string {
	return "0x" + common.Bytes2Hex(s.ChannelID[:])
}

// ErrorKind classifies an Error for HTTP status mapping.
type ErrorKind int

const (
	// KindBadRequest covers validation, parse, signature, and invariant
	// failures surfaced to the caller. Maps to HTTP 400.
	KindBadRequest ErrorKind = iota
	// KindNotFound means the channel id is absent from the registry.
	// Maps to HTTP 404.
	KindNotFound
	// KindInternal covers persistence failures not otherwise classified.
	// Maps to HTTP 500; the message returned to callers is generic, full
	// detail is only logged.
	KindInternal
)

// Error is the single error type the engine returns.
type Error struct {
	Kind ErrorKind
	Msg  string
	// Cause is the underlying error, if any. Not included in Error() to
	// keep BadRequest/NotFound messages client-safe; logged separately.
	Cause error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// BadRequest constructs a client-fault error.
func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Msg: fmt.Sprintf(format, args...)}
}

// BadRequestf wraps an underlying error as a client-fault error.
func BadRequestf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// NotFound constructs a not-found error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an underlying error as an internal-fault error. The
// caller-facing message is deliberately generic; cause carries detail
// for logging only.
func Internal(cause error, context string) *Error {
	return &Error{Kind: KindInternal, Msg: "internal error", Cause: fmt.Errorf("%s: %w", context, cause)}
}
