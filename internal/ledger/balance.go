// Package ledger holds the balance state machine. Everything here is pure:
// no I/O, no clock, no randomness. The same balance and operation always
// produce the same result.
package ledger

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrInsufficientAvailable = errors.New("insufficient funds")
	ErrInsufficientHeld      = errors.New("insufficient held funds")
	ErrUnknownOperation      = errors.New("unknown balance operation")
	ErrBalanceOverflow       = errors.New("balance overflow")
)

// Op is a balance movement. The values double as the persisted
// transaction type.
type Op string

const (
	OpCredit  Op = "credit"
	OpDebit   Op = "debit"
	OpHold    Op = "hold"
	OpRelease Op = "release"
)

func (o Op) Valid() bool {
	switch o {
	case OpCredit, OpDebit, OpHold, OpRelease:
		return true
	}
	return false
}

// Balance amounts are in minor currency units.
type Balance struct {
	Available int64
	Held      int64
}

func (b Balance) Total() int64 {
	return b.Available + b.Held
}

// Operation is one requested movement against a balance.
type Operation struct {
	Op     Op
	Amount int64
}

func (o Operation) String() string {
	return fmt.Sprintf("%s(%d)", o.Op, o.Amount)
}

// Apply returns the balance after op, or an error and the untouched input.
//
//	credit:  available += a
//	debit:   available -= a            requires available >= a
//	hold:    available -= a, held += a requires available >= a
//	release: held -= a, available += a requires held >= a
func Apply(b Balance, op Operation) (Balance, error) {
	if !op.Op.Valid() {
		return b, fmt.Errorf("%w: %q", ErrUnknownOperation, op.Op)
	}
	if op.Amount <= 0 {
		return b, ErrInvalidAmount
	}

	next := b
	switch op.Op {
	case OpCredit:
		if b.Available > math.MaxInt64-op.Amount {
			return b, ErrBalanceOverflow
		}
		next.Available += op.Amount
	case OpDebit:
		if b.Available < op.Amount {
			return b, ErrInsufficientAvailable
		}
		next.Available -= op.Amount
	case OpHold:
		if b.Available < op.Amount {
			return b, ErrInsufficientAvailable
		}
		if b.Held > math.MaxInt64-op.Amount {
			return b, ErrBalanceOverflow
		}
		next.Available -= op.Amount
		next.Held += op.Amount
	case OpRelease:
		if b.Held < op.Amount {
			return b, ErrInsufficientHeld
		}
		if b.Available > math.MaxInt64-op.Amount {
			return b, ErrBalanceOverflow
		}
		next.Held -= op.Amount
		next.Available += op.Amount
	}
	return next, nil
}

// IsInsufficientFunds reports whether err is a business refusal for lack of
// funds, as opposed to a validation or infrastructure problem.
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientAvailable) || errors.Is(err, ErrInsufficientHeld)
}
