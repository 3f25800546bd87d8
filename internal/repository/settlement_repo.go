package repository

import (
	"context"
	"errors"
	"time"

	"auctionwallet/internal/model"

	"gorm.io/gorm"
)

var (
	ErrSettlementNotFound      = errors.New("settlement not found")
	ErrSettlementStatusInvalid = errors.New("settlement status transition not allowed")
)

type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

func (r *SettlementRepository) Create(ctx context.Context, settlement *model.AuctionSettlement) error {
	return r.db.WithContext(ctx).Create(settlement).Error
}

func (r *SettlementRepository) GetByAuctionID(ctx context.Context, auctionID string) (*model.AuctionSettlement, error) {
	var settlement model.AuctionSettlement
	err := r.db.WithContext(ctx).Where("auction_id = ?", auctionID).First(&settlement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettlementNotFound
		}
		return nil, err
	}
	return &settlement, nil
}

// Transition moves the settlement from fromStatus to settlement.Status and
// saves the leg columns. The WHERE on the old status makes concurrent
// transitions of the same row mutually exclusive.
func (r *SettlementRepository) Transition(ctx context.Context, tx *gorm.DB, settlement *model.AuctionSettlement, fromStatus string) error {
	if !model.CanSettlementTransition(fromStatus, settlement.Status) {
		return ErrSettlementStatusInvalid
	}
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.AuctionSettlement{}).
		Where("id = ? AND status = ?", settlement.ID, fromStatus).
		Updates(map[string]interface{}{
			"status":                    settlement.Status,
			"winner_id":                 settlement.WinnerID,
			"seller_id":                 settlement.SellerID,
			"final_price":               settlement.FinalPrice,
			"commission_percent":        settlement.CommissionPercent,
			"commission":                settlement.Commission,
			"seller_payout":             settlement.SellerPayout,
			"debit_transaction_id":      settlement.DebitTransactionID,
			"payout_transaction_id":     settlement.PayoutTransactionID,
			"commission_transaction_id": settlement.CommissionTransactionID,
			"failure_reason":            settlement.FailureReason,
			"retry_count":               settlement.RetryCount,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSettlementStatusInvalid
	}
	return nil
}

func (r *SettlementRepository) ListByStatus(ctx context.Context, statuses []string, limit int) ([]*model.AuctionSettlement, error) {
	var settlements []*model.AuctionSettlement
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("updated_at ASC").
		Limit(limit).
		Find(&settlements).Error
	return settlements, err
}

// ListStale returns settlements stuck in one of statuses since before.
func (r *SettlementRepository) ListStale(ctx context.Context, statuses []string, before time.Time, limit int) ([]*model.AuctionSettlement, error) {
	var settlements []*model.AuctionSettlement
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&settlements).Error
	return settlements, err
}
