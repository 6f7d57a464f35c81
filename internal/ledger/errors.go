package ledger

import (
	"errors"

	"crashx/internal/store"
)

// Class buckets settlement errors so callers can tell a malformed
// request from a well-formed one the world moved under, and a lost race
// from an ordinary precondition failure.
type Class int

const (
	ClassUnknown Class = iota
	// ClassValidation: the request itself is bad. No state was read.
	ClassValidation
	// ClassPrecondition: well-formed, but the round/balance state does
	// not allow it. Nothing changed.
	ClassPrecondition
	// ClassConflict: the bet was already settled by a racing operation.
	// Nothing changed; resubmitting will not pay twice.
	ClassConflict
	// ClassNotFound: the referenced round or bet does not exist.
	ClassNotFound
	// ClassStorage: infrastructure failure. The atomic primitives
	// guarantee no partial effect, but the caller should re-observe.
	ClassStorage
)

var (
	ErrInvalidStake       = errors.New("ledger: stake must be positive and within limits")
	ErrUnsupportedAccount = errors.New("ledger: unsupported account type")
	ErrInvalidMultiplier  = errors.New("ledger: multiplier must be at least 1.00")

	ErrBettingClosed  = errors.New("ledger: round is not accepting bets")
	ErrRoundNotActive = errors.New("ledger: round is not active")
	ErrWrongRound     = errors.New("ledger: bet does not belong to the current round")

	ErrBetSettled = errors.New("ledger: bet already settled")
)

// Classify maps any error returned by ledger operations to its class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrInvalidStake),
		errors.Is(err, ErrUnsupportedAccount),
		errors.Is(err, ErrInvalidMultiplier):
		return ClassValidation
	case errors.Is(err, ErrBettingClosed),
		errors.Is(err, ErrRoundNotActive),
		errors.Is(err, ErrWrongRound),
		errors.Is(err, store.ErrInsufficientBalance),
		errors.Is(err, store.ErrDuplicateActiveBet),
		errors.Is(err, store.ErrRoundNotPending):
		return ClassPrecondition
	case errors.Is(err, ErrBetSettled),
		errors.Is(err, store.ErrBetNotActive):
		return ClassConflict
	case errors.Is(err, store.ErrNotFound):
		return ClassNotFound
	default:
		return ClassStorage
	}
}
