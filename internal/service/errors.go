package service

import (
	"errors"
	"fmt"
)

// Validation errors. Nothing was changed; the caller may fix the input and
// retry. Balance engine errors (ledger.ErrInvalidAmount,
// ledger.ErrInsufficientAvailable, ledger.ErrInsufficientHeld) are returned
// as they are.
var (
	ErrInvalidUser          = errors.New("invalid user id")
	ErrInvalidPurpose       = errors.New("invalid transaction purpose")
	ErrInvalidType          = errors.New("invalid transaction type")
	ErrInvalidCommission    = errors.New("commission percent must be between 0 and 100")
	ErrInvalidSettlement    = errors.New("invalid settlement request")
	ErrInvalidRefundItem    = errors.New("invalid refund item")
	ErrReleaseExceedsHold   = errors.New("release exceeds the remaining hold")
	ErrOriginalNotFound     = errors.New("original transaction not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrAlreadyRefunded      = errors.New("bid already refunded")
)

// Infrastructure errors. The operation was not applied.
var (
	ErrStorage                = errors.New("ledger storage failure")
	ErrLockUnavailable        = errors.New("wallet is busy, retry later")
	ErrConcurrentModification = errors.New("wallet modified concurrently, retry later")
)

// Settlement state errors.
var (
	ErrSettlementInProgress = errors.New("settlement already in progress for auction")
	ErrSettlementNotFound   = errors.New("settlement not found")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Settlement legs.
const (
	LegWinnerDebit  = "winner_debit"
	LegSellerPayout = "seller_payout"
	LegCommission   = "commission"
)

// SettlementInconsistencyError is returned when the winner has been debited
// but a later leg could not be recorded. Money has moved; the settlement is
// parked for reconciliation and must not be shown as settled.
type SettlementInconsistencyError struct {
	AuctionID           string
	SettlementNo        string
	FailedLeg           string
	DebitTransactionID  string
	PayoutTransactionID string
	Amount              int64
	Err                 error
}

func (e *SettlementInconsistencyError) Error() string {
	return fmt.Sprintf("settlement %s for auction %s inconsistent: %s leg of %d failed after winner debit %s: %v",
		e.SettlementNo, e.AuctionID, e.FailedLeg, e.Amount, e.DebitTransactionID, e.Err)
}

func (e *SettlementInconsistencyError) Unwrap() error {
	return e.Err
}

// IsSettlementInconsistency reports whether err carries a
// *SettlementInconsistencyError.
func IsSettlementInconsistency(err error) bool {
	var target *SettlementInconsistencyError
	return errors.As(err, &target)
}
