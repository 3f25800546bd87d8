package model

import (
	"time"

	"auctionwallet/internal/ledger"
)

// ============================================================================
// Transaction types, purposes and statuses
// ============================================================================

const (
	TransactionTypeCredit  = string(ledger.OpCredit)
	TransactionTypeDebit   = string(ledger.OpDebit)
	TransactionTypeHold    = string(ledger.OpHold)
	TransactionTypeRelease = string(ledger.OpRelease)
)

const (
	PurposeWalletTopup     = "wallet_topup"
	PurposeBidPlacement    = "bid_placement"
	PurposeBidRefund       = "bid_refund"
	PurposeAuctionWin      = "auction_win"
	PurposeAuctionPayout   = "auction_payout"
	PurposeSecurityDeposit = "security_deposit"
	PurposeCommission      = "commission"
	PurposePenalty         = "penalty"
	PurposeRefund          = "refund"
)

var validPurposes = map[string]bool{
	PurposeWalletTopup:     true,
	PurposeBidPlacement:    true,
	PurposeBidRefund:       true,
	PurposeAuctionWin:      true,
	PurposeAuctionPayout:   true,
	PurposeSecurityDeposit: true,
	PurposeCommission:      true,
	PurposePenalty:         true,
	PurposeRefund:          true,
}

func IsValidPurpose(p string) bool {
	return validPurposes[p]
}

func IsValidTransactionType(t string) bool {
	return ledger.Op(t).Valid()
}

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusCancelled = "cancelled"
)

const (
	ReferenceTypeAuction = "auction"
	ReferenceTypeBid     = "bid"
	ReferenceTypePayment = "payment"
)

// ============================================================================
// Wallet transaction
// ============================================================================

// WalletTransaction is the append-only movement log.
//
// Rules:
//  1. rows are only inserted; a completed row is never updated or deleted
//  2. corrections are new opposite movements (a release undoes a hold)
//  3. before/after snapshots let every row be checked against its neighbours
//
// ID is the insertion order, TransactionNo the public identifier.
// IdempotencyKey is nullable and unique: a movement carrying a key can be
// recorded at most once.
type WalletTransaction struct {
	ID                    int64             `gorm:"primaryKey;autoIncrement" json:"-"`
	TransactionNo         string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_id"`
	UserID                string            `gorm:"type:varchar(64);index:idx_user_created,priority:1;not null" json:"user_id"`
	Amount                int64             `gorm:"not null" json:"amount"`
	Type                  string            `gorm:"type:varchar(16);index;not null" json:"type"`
	Purpose               string            `gorm:"type:varchar(32);index;not null" json:"purpose"`
	Status                string            `gorm:"type:varchar(16);not null" json:"status"`
	ReferenceID           string            `gorm:"type:varchar(64);index" json:"reference_id,omitempty"`
	ReferenceType         string            `gorm:"type:varchar(32)" json:"reference_type,omitempty"`
	OriginalTransactionID string            `gorm:"type:varchar(64);index" json:"original_transaction_id,omitempty"`
	IdempotencyKey        *string           `gorm:"type:varchar(128);uniqueIndex" json:"-"`
	AvailableBefore       int64             `gorm:"not null" json:"available_before"`
	AvailableAfter        int64             `gorm:"not null" json:"available_after"`
	HeldBefore            int64             `gorm:"not null" json:"held_before"`
	HeldAfter             int64             `gorm:"not null" json:"held_after"`
	Description           string            `gorm:"type:varchar(256)" json:"description,omitempty"`
	Metadata              map[string]string `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
	CreatedAt             time.Time         `gorm:"autoCreateTime;index:idx_user_created,priority:2" json:"created_at"`
	UpdatedAt             time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transaction"
}
