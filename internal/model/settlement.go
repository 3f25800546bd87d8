package model

import (
	"time"
)

const (
	SettlementStatusPending          = "PENDING"
	SettlementStatusWinnerDebited    = "WINNER_DEBITED"
	SettlementStatusSellerPaid       = "SELLER_PAID"
	SettlementStatusCompleted        = "COMPLETED"
	SettlementStatusFailed           = "FAILED"
	SettlementStatusPayoutFailed     = "PAYOUT_FAILED"
	SettlementStatusCommissionFailed = "COMMISSION_FAILED"
	SettlementStatusManualReview     = "MANUAL_REVIEW"
)

// Money only ever moves forward: once the winner is debited the settlement
// can be completed or parked for review, never rolled back.
var ValidSettlementTransitions = map[string][]string{
	SettlementStatusPending:          {SettlementStatusWinnerDebited, SettlementStatusFailed, SettlementStatusPayoutFailed},
	SettlementStatusFailed:           {SettlementStatusPending, SettlementStatusPayoutFailed},
	SettlementStatusWinnerDebited:    {SettlementStatusSellerPaid, SettlementStatusPayoutFailed},
	SettlementStatusPayoutFailed:     {SettlementStatusSellerPaid, SettlementStatusPayoutFailed, SettlementStatusManualReview},
	SettlementStatusSellerPaid:       {SettlementStatusCompleted, SettlementStatusCommissionFailed},
	SettlementStatusCommissionFailed: {SettlementStatusCompleted, SettlementStatusCommissionFailed, SettlementStatusManualReview},
	SettlementStatusManualReview:     {SettlementStatusSellerPaid, SettlementStatusCompleted, SettlementStatusPayoutFailed, SettlementStatusCommissionFailed},
}

func CanSettlementTransition(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidSettlementTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsInconsistentSettlement reports statuses where the winner has paid but
// the seller or the platform has not been credited yet.
func IsInconsistentSettlement(status string) bool {
	switch status {
	case SettlementStatusWinnerDebited, SettlementStatusPayoutFailed,
		SettlementStatusCommissionFailed, SettlementStatusManualReview, SettlementStatusSellerPaid:
		return true
	}
	return false
}

// AuctionSettlement tracks the legs of one auction close.
type AuctionSettlement struct {
	ID                      int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	SettlementNo            string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"settlement_no"`
	AuctionID               string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"auction_id"`
	WinnerID                string    `gorm:"type:varchar(64);not null" json:"winner_id"`
	SellerID                string    `gorm:"type:varchar(64);not null" json:"seller_id"`
	FinalPrice              int64     `gorm:"not null" json:"final_price"`
	CommissionPercent       string    `gorm:"type:varchar(16);not null" json:"commission_percent"`
	Commission              int64     `gorm:"not null" json:"commission"`
	SellerPayout            int64     `gorm:"not null" json:"seller_payout"`
	Status                  string    `gorm:"type:varchar(20);index;not null" json:"status"`
	DebitTransactionID      string    `gorm:"type:varchar(64)" json:"debit_transaction_id,omitempty"`
	PayoutTransactionID     string    `gorm:"type:varchar(64)" json:"payout_transaction_id,omitempty"`
	CommissionTransactionID string    `gorm:"type:varchar(64)" json:"commission_transaction_id,omitempty"`
	FailureReason           string    `gorm:"type:varchar(512)" json:"failure_reason,omitempty"`
	RetryCount              int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (AuctionSettlement) TableName() string {
	return "auction_settlement"
}
