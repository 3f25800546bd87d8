package model

import (
	"time"

	"auctionwallet/internal/ledger"
)

// Wallet one row per user. available and held never go negative; total is
// derived and not stored.
type Wallet struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Available int64     `gorm:"not null;default:0" json:"available"`
	Held      int64     `gorm:"not null;default:0" json:"held"`
	Currency  string    `gorm:"type:varchar(8);not null" json:"currency"`
	Version   int       `gorm:"not null;default:0" json:"version"` // optimistic lock version
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}

func (w *Wallet) Balance() ledger.Balance {
	return ledger.Balance{Available: w.Available, Held: w.Held}
}

func (w *Wallet) Total() int64 {
	return w.Available + w.Held
}
